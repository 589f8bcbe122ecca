package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "sanitizer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleRecords(day time.Time) []model.QueryRecord {
	return []model.QueryRecord{
		{
			Timestamp: day.Add(8 * time.Hour), RequestID: "req-1", SessionID: "sess-1",
			SequenceNo: "0", Query: "weather tomorrow", Country: "us",
			FormFactor: "desktop", Browser: "firefox", PresentInAllowList: true,
		},
		{
			Timestamp: day.Add(9 * time.Hour), RequestID: "req-2", SessionID: "sess-1",
			SequenceNo: "1", Query: "flights to lisbon",
		},
	}
}

func TestSQLite_RawQueryRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	n, err := st.InsertRawQueries(ctx, sampleRecords(day))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := st.QueryPage(ctx, day, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)

	assert.Equal(t, "weather tomorrow", page[0].Query)
	assert.Equal(t, "us", page[0].Country)
	assert.Empty(t, page[0].Region, "absent geo fields come back empty")
	assert.True(t, page[0].PresentInAllowList)
	assert.Equal(t, "flights to lisbon", page[1].Query)

	// Rows outside the day's bounds are invisible.
	other, err := st.QueryPage(ctx, day.AddDate(0, 0, 1), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLite_QueryPagePagination(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	_, err := st.InsertRawQueries(ctx, sampleRecords(day))
	require.NoError(t, err)

	first, err := st.QueryPage(ctx, day, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := st.QueryPage(ctx, day, 1, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].RequestID, second[0].RequestID)

	third, err := st.QueryPage(ctx, day, 2, 1)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestSQLite_ExportAndClearPartition(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)

	n, err := st.ExportSanitized(ctx, day, sampleRecords(day))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Clearing and re-exporting replaces the partition.
	require.NoError(t, st.ClearSanitized(ctx, day))
	n, err = st.ExportSanitized(ctx, day, sampleRecords(day)[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	row := st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sanitized_terms WHERE partition_date = ?`, partitionKey(day))
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLite_ExportEmptyPage(t *testing.T) {
	st := newSQLiteStore(t)

	n, err := st.ExportSanitized(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_JobLifecycleSuccess(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 22, 4, 0, 0, 0, time.UTC)
	id, err := st.StartJob(ctx, started, "nightly run")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	finished := started.Add(20 * time.Minute)
	rec := model.JobRecord{
		ID:                  id,
		FinishedAt:          &finished,
		TotalAnalyzed:       100,
		TotalRemoved:        25,
		ContainedNumeral:    15,
		ContainedAt:         4,
		ContainedName:       6,
		CensusSurnameHits:   3,
		SumChars:            1500,
		SumUppercaseChars:   40,
		SumWords:            220,
		LanguageProportions: map[string]int64{"en": 60, "de": 5},
	}
	require.NoError(t, st.CompleteJob(ctx, rec))
	require.NoError(t, st.InsertLanguageCounts(ctx, id, started, rec.LanguageProportions))

	jobs, err := st.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	got := jobs[0]
	assert.Equal(t, model.JobStatusSuccess, got.Status)
	assert.Equal(t, int64(100), got.TotalAnalyzed)
	assert.Equal(t, int64(25), got.TotalRemoved)
	assert.Equal(t, int64(15), got.ContainedNumeral)
	assert.Equal(t, int64(3), got.CensusSurnameHits)
	assert.Equal(t, map[string]int64{"en": 60, "de": 5}, got.LanguageProportions)
	assert.Equal(t, "nightly run", got.ImplementationNotes)
	require.NotNil(t, got.FinishedAt)
}

func TestSQLite_JobLifecycleFailure(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 22, 4, 0, 0, 0, time.UTC)
	id, err := st.StartJob(ctx, started, "")
	require.NoError(t, err)

	require.NoError(t, st.FailJob(ctx, id, "warehouse unavailable", started.Add(time.Minute)))

	jobs, err := st.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusFailure, jobs[0].Status)
	assert.Equal(t, "warehouse unavailable", jobs[0].FailureReason)
	assert.Equal(t, int64(0), jobs[0].TotalAnalyzed)
}

func TestSQLite_ListJobsNewestFirst(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	older := time.Date(2026, 8, 21, 4, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	_, err := st.StartJob(ctx, older, "older")
	require.NoError(t, err)
	_, err = st.StartJob(ctx, newer, "newer")
	require.NoError(t, err)

	jobs, err := st.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "newer", jobs[0].ImplementationNotes)

	limited, err := st.ListJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_InsertValidationMetrics(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	metrics := []model.ValidationMetric{{
		JobID:             "job-1",
		FinishedAt:        time.Date(2026, 8, 22, 4, 30, 0, 0, time.UTC),
		PctSanitizedTerms: 0.25,
		AvgWordsPerTerm:   3.0,
	}}
	require.NoError(t, st.InsertValidationMetrics(ctx, metrics))

	var count int
	row := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM validation_metrics`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPartitionKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2026-08-21", partitionKey(time.Date(2026, 8, 21, 13, 45, 0, 0, time.UTC)))
}
