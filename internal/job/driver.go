// Package job orchestrates the nightly sanitation run: paging through one
// day's raw query stream, classifying each page, exporting survivors, and
// recording job metadata.
package job

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/risk"
	"github.com/suggest-data/sanitizer-cli/internal/store"
)

// Options configures one sanitation job run.
type Options struct {
	// Day is the calendar-day partition to sanitize.
	Day time.Time

	// PageSize is how many raw queries to pull per page.
	PageSize int

	// SampleRate is the fraction of raw rows kept as the unsanitized
	// validation sample.
	SampleRate float64

	// Notes is recorded verbatim in the job metadata, for experiments.
	Notes string
}

// Driver runs the sanitation job. Pages are processed strictly in order so
// each page's statistics merge into the job totals before the next page
// starts; within a page the pipeline parallelizes freely.
type Driver struct {
	store    store.Store
	pipeline *risk.Pipeline
	limiter  *rate.Limiter
	now      func() time.Time
	rng      *rand.Rand
}

// NewDriver creates a job driver. exportPerSec throttles warehouse export
// batches; 0 disables throttling.
func NewDriver(st store.Store, pipeline *risk.Pipeline, exportPerSec float64) *Driver {
	limit := rate.Inf
	if exportPerSec > 0 {
		limit = rate.Limit(exportPerSec)
	}
	return &Driver{
		store:    st,
		pipeline: pipeline,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithNow fixes the driver's clock, for tests.
func (d *Driver) WithNow(now func() time.Time) *Driver {
	d.now = now
	return d
}

// WithRand fixes the sampling source, for tests.
func (d *Driver) WithRand(rng *rand.Rand) *Driver {
	d.rng = rng
	return d
}

// Run executes the whole job for one day. The run ends in exactly one of
// two states: a SUCCESS record carrying the aggregate statistics, or a
// FAILURE record carrying the fault's message and no partial aggregates.
// A page-level fault aborts the run; nothing is retried.
func (d *Driver) Run(ctx context.Context, opts Options) (*model.JobRecord, error) {
	if opts.PageSize <= 0 {
		return nil, eris.New("job: page size must be positive")
	}

	log := zap.L().With(
		zap.String("component", "job.driver"),
		zap.Time("day", opts.Day),
	)

	startedAt := d.now().UTC()
	jobID, err := d.store.StartJob(ctx, startedAt, opts.Notes)
	if err != nil {
		return nil, eris.Wrap(err, "job: start")
	}
	log = log.With(zap.String("job_id", jobID))
	log.Info("sanitation job starting")

	rec, err := d.runPages(ctx, log, jobID, startedAt, opts)
	if err != nil {
		log.Error("sanitation job failed", zap.Error(err))
		if failErr := d.store.FailJob(ctx, jobID, err.Error(), d.now().UTC()); failErr != nil {
			log.Error("failed to record job failure", zap.Error(failErr))
		}
		return nil, err
	}

	log.Info("sanitation job complete",
		zap.Int64("analyzed", rec.TotalAnalyzed),
		zap.Int64("removed", rec.TotalRemoved),
	)
	return rec, nil
}

func (d *Driver) runPages(ctx context.Context, log *zap.Logger, jobID string, startedAt time.Time, opts Options) (*model.JobRecord, error) {
	var (
		totals        model.RunStatistics
		totalAnalyzed int64
		totalKept     int64
		sample        []model.QueryRecord
	)

	// Clearing the day's partitions up front makes a rerun replace the
	// previous attempt instead of appending to it.
	if err := d.store.ClearSanitized(ctx, opts.Day); err != nil {
		return nil, eris.Wrap(err, "job: clear sanitized partition")
	}
	if err := d.store.ClearSample(ctx, opts.Day); err != nil {
		return nil, eris.Wrap(err, "job: clear sample partition")
	}

	offset := 0
	for pageNum := 0; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "job: cancelled")
		}

		page, err := d.store.QueryPage(ctx, opts.Day, offset, opts.PageSize)
		if err != nil {
			return nil, eris.Wrapf(err, "job: read page %d", pageNum)
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)
		totalAnalyzed += int64(len(page))

		for _, row := range page {
			if d.rng.Float64() < opts.SampleRate {
				sample = append(sample, row)
			}
		}

		result, err := d.pipeline.Evaluate(ctx, toQueries(page))
		if err != nil {
			return nil, eris.Wrapf(err, "job: evaluate page %d", pageNum)
		}

		kept := make([]model.QueryRecord, 0, len(page))
		for i, row := range page {
			if !result.Mask[i] {
				kept = append(kept, row)
			}
		}
		totalKept += int64(len(kept))

		if err := d.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "job: export rate limit")
		}
		if _, err := d.store.ExportSanitized(ctx, opts.Day, kept); err != nil {
			return nil, eris.Wrapf(err, "job: export page %d", pageNum)
		}

		totals.Merge(result.Stats)

		log.Info("page sanitized",
			zap.Int("page", pageNum),
			zap.Int("rows", len(page)),
			zap.Int("kept", len(kept)),
			zap.Int("removed", len(page)-len(kept)),
		)
	}

	if _, err := d.store.ExportSample(ctx, opts.Day, sample); err != nil {
		return nil, eris.Wrap(err, "job: export validation sample")
	}

	finishedAt := d.now().UTC()
	rec := &model.JobRecord{
		ID:                  jobID,
		Status:              model.JobStatusSuccess,
		StartedAt:           startedAt,
		FinishedAt:          &finishedAt,
		TotalAnalyzed:       totalAnalyzed,
		TotalRemoved:        totalAnalyzed - totalKept,
		ContainedNumeral:    totals.ContainedNumeral,
		ContainedAt:         totals.ContainedAt,
		ContainedName:       totals.NameDetected,
		ClassifierFaults:    totals.ClassifierFaults,
		CensusSurnameHits:   totals.CensusSurnameHits,
		SumChars:            totals.SumChars,
		SumUppercaseChars:   totals.SumUppercaseChars,
		SumWords:            totals.SumWords,
		LanguageProportions: totals.LanguageCounts,
		ImplementationNotes: opts.Notes,
	}

	if err := d.store.CompleteJob(ctx, *rec); err != nil {
		return nil, eris.Wrap(err, "job: record success")
	}
	if len(totals.LanguageCounts) > 0 {
		if err := d.store.InsertLanguageCounts(ctx, jobID, startedAt, totals.LanguageCounts); err != nil {
			return nil, eris.Wrap(err, "job: record language counts")
		}
	}

	return rec, nil
}

func toQueries(records []model.QueryRecord) []model.Query {
	queries := make([]model.Query, len(records))
	for i, r := range records {
		queries[i] = model.Query{
			Text:      r.Query,
			Timestamp: r.Timestamp,
			SessionID: r.SessionID,
		}
	}
	return queries
}
