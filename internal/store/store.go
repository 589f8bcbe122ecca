// Package store persists raw, sanitized, and sampled search terms plus the
// per-run job metadata used for longitudinal drift monitoring.
package store

import (
	"context"
	"time"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

// Store defines the persistence interface for the sanitation pipeline.
// Exports are partitioned by calendar day: clearing a partition before
// re-exporting makes a rerun of the same day idempotent.
type Store interface {
	// Raw query stream
	QueryPage(ctx context.Context, day time.Time, offset, limit int) ([]model.QueryRecord, error)
	InsertRawQueries(ctx context.Context, rows []model.QueryRecord) (int64, error)

	// Sanitized term export
	ClearSanitized(ctx context.Context, day time.Time) error
	ExportSanitized(ctx context.Context, day time.Time, rows []model.QueryRecord) (int64, error)

	// Unsanitized validation sample export
	ClearSample(ctx context.Context, day time.Time) error
	ExportSample(ctx context.Context, day time.Time, rows []model.QueryRecord) (int64, error)

	// Job metadata
	StartJob(ctx context.Context, startedAt time.Time, notes string) (string, error)
	CompleteJob(ctx context.Context, rec model.JobRecord) error
	FailJob(ctx context.Context, jobID, reason string, finishedAt time.Time) error
	ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error)
	InsertLanguageCounts(ctx context.Context, jobID string, startedAt time.Time, counts map[string]int64) error

	// Drift monitoring
	InsertValidationMetrics(ctx context.Context, rows []model.ValidationMetric) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
