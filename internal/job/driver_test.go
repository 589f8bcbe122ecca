package job

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/risk"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeStore is an in-memory Store that records every call.
type fakeStore struct {
	rows []model.QueryRecord

	queryPageErr error
	exportErr    error
	completeErr  error
	startErr     error

	clearedSanitized int
	clearedSample    int
	exported         [][]model.QueryRecord
	sampled          []model.QueryRecord
	completed        []model.JobRecord
	failures         []string
	langCounts       map[string]int64
}

func (f *fakeStore) QueryPage(ctx context.Context, day time.Time, offset, limit int) ([]model.QueryRecord, error) {
	if f.queryPageErr != nil {
		return nil, f.queryPageErr
	}
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func (f *fakeStore) InsertRawQueries(ctx context.Context, rows []model.QueryRecord) (int64, error) {
	return int64(len(rows)), nil
}

func (f *fakeStore) ClearSanitized(ctx context.Context, day time.Time) error {
	f.clearedSanitized++
	return nil
}

func (f *fakeStore) ExportSanitized(ctx context.Context, day time.Time, rows []model.QueryRecord) (int64, error) {
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	f.exported = append(f.exported, rows)
	return int64(len(rows)), nil
}

func (f *fakeStore) ClearSample(ctx context.Context, day time.Time) error {
	f.clearedSample++
	return nil
}

func (f *fakeStore) ExportSample(ctx context.Context, day time.Time, rows []model.QueryRecord) (int64, error) {
	f.sampled = append(f.sampled, rows...)
	return int64(len(rows)), nil
}

func (f *fakeStore) StartJob(ctx context.Context, startedAt time.Time, notes string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "job-test-1", nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, rec model.JobRecord) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, rec)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, jobID, reason string, finishedAt time.Time) error {
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeStore) ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	return nil, nil
}

func (f *fakeStore) InsertLanguageCounts(ctx context.Context, jobID string, startedAt time.Time, counts map[string]int64) error {
	f.langCounts = counts
	return nil
}

func (f *fakeStore) InsertValidationMetrics(ctx context.Context, rows []model.ValidationMetric) error {
	return nil
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

// cleanClassifier tags nothing; every verdict comes from the lexical rules.
type cleanClassifier struct{}

func (cleanClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]risk.EntityResult, error) {
	return make([]risk.EntityResult, len(texts)), nil
}

func rowsOf(texts ...string) []model.QueryRecord {
	rows := make([]model.QueryRecord, len(texts))
	for i, text := range texts {
		rows[i] = model.QueryRecord{Query: text, SessionID: "s1"}
	}
	return rows
}

func testDay() time.Time {
	return time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
}

func newTestDriver(st *fakeStore) *Driver {
	pipeline := risk.NewPipeline(cleanClassifier{}, nil, 1)
	return NewDriver(st, pipeline, 0).
		WithNow(func() time.Time { return time.Date(2026, 8, 22, 4, 0, 0, 0, time.UTC) }).
		WithRand(rand.New(rand.NewSource(1)))
}

func TestRun_Success(t *testing.T) {
	st := &fakeStore{rows: rowsOf(
		"weather tomorrow", "room 401", "flights to lisbon",
		"jane@example.com", "best hiking trails",
	)}
	d := newTestDriver(st)

	rec, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 3})
	require.NoError(t, err)

	assert.Equal(t, "job-test-1", rec.ID)
	assert.Equal(t, model.JobStatusSuccess, rec.Status)
	assert.Equal(t, int64(5), rec.TotalAnalyzed)
	assert.Equal(t, int64(2), rec.TotalRemoved)
	assert.Equal(t, int64(1), rec.ContainedNumeral)
	assert.Equal(t, int64(1), rec.ContainedAt)
	require.NotNil(t, rec.FinishedAt)

	// Partitions cleared exactly once, before any export.
	assert.Equal(t, 1, st.clearedSanitized)
	assert.Equal(t, 1, st.clearedSample)

	// Only kept rows are exported, page by page.
	require.Len(t, st.exported, 2)
	assert.Len(t, st.exported[0], 2)
	assert.Len(t, st.exported[1], 1)

	require.Len(t, st.completed, 1)
	assert.Empty(t, st.failures)
}

func TestRun_PageFaultRecordsFailure(t *testing.T) {
	st := &fakeStore{queryPageErr: errors.New("warehouse unavailable")}
	d := newTestDriver(st)

	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.Error(t, err)

	require.Len(t, st.failures, 1, "exactly one FAILURE record")
	assert.Contains(t, st.failures[0], "warehouse unavailable")
	assert.Empty(t, st.completed, "no SUCCESS record after a failure")
}

func TestRun_ExportFaultRecordsFailure(t *testing.T) {
	st := &fakeStore{
		rows:      rowsOf("weather tomorrow"),
		exportErr: errors.New("disk full"),
	}
	d := newTestDriver(st)

	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.Error(t, err)
	require.Len(t, st.failures, 1)
	assert.Empty(t, st.completed)
}

func TestRun_StartJobError(t *testing.T) {
	st := &fakeStore{startErr: errors.New("metadata table locked")}
	d := newTestDriver(st)

	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.Error(t, err)
	assert.Empty(t, st.failures, "a job that never started has nothing to fail")
}

func TestRun_InvalidPageSize(t *testing.T) {
	d := newTestDriver(&fakeStore{})
	_, err := d.Run(context.Background(), Options{Day: testDay()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page size")
}

func TestRun_SampleRate(t *testing.T) {
	st := &fakeStore{rows: rowsOf("weather tomorrow", "best hiking trails", "flights to lisbon")}
	d := newTestDriver(st)

	// Rate 1.0: every raw row lands in the sample, risky or not.
	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100, SampleRate: 1.0})
	require.NoError(t, err)
	assert.Len(t, st.sampled, 3)
}

func TestRun_ZeroSampleRate(t *testing.T) {
	st := &fakeStore{rows: rowsOf("weather tomorrow")}
	d := newTestDriver(st)

	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, st.sampled)
}

func TestRun_SampleIncludesRiskyRows(t *testing.T) {
	// The validation sample is drawn from the raw stream, before
	// classification, so removed queries can appear in it.
	st := &fakeStore{rows: rowsOf("room 401")}
	d := newTestDriver(st)

	rec, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100, SampleRate: 1.0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalRemoved)
	require.Len(t, st.sampled, 1)
	assert.Equal(t, "room 401", st.sampled[0].Query)
}

func TestRun_NotesRecorded(t *testing.T) {
	st := &fakeStore{rows: rowsOf("weather tomorrow")}
	d := newTestDriver(st)

	rec, err := d.Run(context.Background(), Options{
		Day: testDay(), PageSize: 100, Notes: "v2 surname list experiment",
	})
	require.NoError(t, err)
	assert.Equal(t, "v2 surname list experiment", rec.ImplementationNotes)
	assert.Equal(t, "v2 surname list experiment", st.completed[0].ImplementationNotes)
}

func TestRun_EmptyDay(t *testing.T) {
	st := &fakeStore{}
	d := newTestDriver(st)

	rec, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TotalAnalyzed)
	assert.Equal(t, int64(0), rec.TotalRemoved)
	require.Len(t, st.completed, 1)
}

// englishClassifier detects everything as confidently English.
type englishClassifier struct{}

func (englishClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]risk.EntityResult, error) {
	out := make([]risk.EntityResult, len(texts))
	for i := range out {
		out[i] = risk.EntityResult{LanguageCode: "en", LanguageConfidence: 0.9}
	}
	return out, nil
}

func TestRun_LanguageCountsRecorded(t *testing.T) {
	st := &fakeStore{rows: rowsOf("weather tomorrow", "hi")}
	pipeline := risk.NewPipeline(englishClassifier{}, nil, 1)
	d := NewDriver(st, pipeline, 0).WithRand(rand.New(rand.NewSource(1)))

	rec, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.NoError(t, err)

	// "hi" is below the language trust length floor.
	assert.Equal(t, map[string]int64{"en": 1}, rec.LanguageProportions)
	assert.Equal(t, map[string]int64{"en": 1}, st.langCounts)
}

func TestRun_CompleteJobErrorRecordsFailure(t *testing.T) {
	st := &fakeStore{
		rows:        rowsOf("weather tomorrow"),
		completeErr: errors.New("metadata insert rejected"),
	}
	d := newTestDriver(st)

	_, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 100})
	require.Error(t, err)
	require.Len(t, st.failures, 1)
	assert.Contains(t, st.failures[0], "metadata insert rejected")
}

func TestRun_ManyPagesAccumulate(t *testing.T) {
	var rows []model.QueryRecord
	for p := 0; p < 10; p++ {
		rows = append(rows, rowsOf(
			fmt.Sprintf("page %d risky", p), // numeral
			"a clean query",
		)...)
	}
	st := &fakeStore{rows: rows}
	d := newTestDriver(st)

	rec, err := d.Run(context.Background(), Options{Day: testDay(), PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(20), rec.TotalAnalyzed)
	assert.Equal(t, int64(10), rec.TotalRemoved)
	assert.Equal(t, int64(10), rec.ContainedNumeral)
}
