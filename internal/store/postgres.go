package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/suggest-data/sanitizer-cli/internal/db"
	"github.com/suggest-data/sanitizer-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// queryColumns is the shared column set of the raw, sanitized, and sample
// term tables (the partitioned tables add partition_date).
var queryColumns = []string{
	"timestamp", "request_id", "session_id", "sequence_no", "query",
	"country", "region", "dma", "form_factor", "browser", "os_family",
	"present_in_allow_list",
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"query_page": `SELECT timestamp, request_id, session_id, sequence_no, query,
		country, region, dma, form_factor, browser, os_family, present_in_allow_list
		FROM raw_query_log
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp, request_id
		OFFSET $3 LIMIT $4`,
	"start_job": `INSERT INTO sanitation_jobs (id, status, started_at, implementation_notes)
		VALUES ($1, $2, $3, $4)`,
	"fail_job": `UPDATE sanitation_jobs
		SET status = $1, finished_at = $2, failure_reason = $3
		WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_query_log (
	timestamp             TIMESTAMPTZ NOT NULL,
	request_id            TEXT NOT NULL,
	session_id            TEXT NOT NULL,
	sequence_no           TEXT NOT NULL,
	query                 TEXT NOT NULL,
	country               TEXT,
	region                TEXT,
	dma                   TEXT,
	form_factor           TEXT,
	browser               TEXT,
	os_family             TEXT,
	present_in_allow_list BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sanitized_terms (
	partition_date        DATE NOT NULL,
	timestamp             TIMESTAMPTZ NOT NULL,
	request_id            TEXT NOT NULL,
	session_id            TEXT NOT NULL,
	sequence_no           TEXT NOT NULL,
	query                 TEXT NOT NULL,
	country               TEXT,
	region                TEXT,
	dma                   TEXT,
	form_factor           TEXT,
	browser               TEXT,
	os_family             TEXT,
	present_in_allow_list BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS unsanitized_samples (
	partition_date        DATE NOT NULL,
	timestamp             TIMESTAMPTZ NOT NULL,
	request_id            TEXT NOT NULL,
	session_id            TEXT NOT NULL,
	sequence_no           TEXT NOT NULL,
	query                 TEXT NOT NULL,
	country               TEXT,
	region                TEXT,
	dma                   TEXT,
	form_factor           TEXT,
	browser               TEXT,
	os_family             TEXT,
	present_in_allow_list BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sanitation_jobs (
	id                                      TEXT PRIMARY KEY,
	status                                  TEXT NOT NULL,
	started_at                              TIMESTAMPTZ NOT NULL,
	finished_at                             TIMESTAMPTZ,
	total_search_terms_analyzed             BIGINT NOT NULL DEFAULT 0,
	total_search_terms_removed              BIGINT NOT NULL DEFAULT 0,
	contained_numbers                       BIGINT NOT NULL DEFAULT 0,
	contained_at                            BIGINT NOT NULL DEFAULT 0,
	contained_name                          BIGINT NOT NULL DEFAULT 0,
	classifier_faults                       BIGINT NOT NULL DEFAULT 0,
	sum_terms_containing_us_census_surname  BIGINT NOT NULL DEFAULT 0,
	sum_chars_all_search_terms              BIGINT NOT NULL DEFAULT 0,
	sum_uppercase_chars_all_search_terms    BIGINT NOT NULL DEFAULT 0,
	sum_words_all_search_terms              BIGINT NOT NULL DEFAULT 0,
	approximate_language_proportions_json   TEXT,
	failure_reason                          TEXT,
	implementation_notes                    TEXT
);

CREATE TABLE IF NOT EXISTS job_language_counts (
	job_id            TEXT NOT NULL REFERENCES sanitation_jobs(id),
	job_start_time    TIMESTAMPTZ NOT NULL,
	language_code     TEXT NOT NULL,
	search_term_count BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_metrics (
	job_id                                  TEXT NOT NULL,
	finished_at                             TIMESTAMPTZ NOT NULL,
	pct_sanitized_search_terms              DOUBLE PRECISION NOT NULL,
	pct_sanitized_contained_at              DOUBLE PRECISION NOT NULL,
	pct_sanitized_contained_numbers         DOUBLE PRECISION NOT NULL,
	pct_sanitized_contained_name            DOUBLE PRECISION NOT NULL,
	pct_terms_containing_us_census_surname  DOUBLE PRECISION NOT NULL,
	pct_uppercase_chars_all_search_terms    DOUBLE PRECISION NOT NULL,
	avg_words_all_search_terms              DOUBLE PRECISION NOT NULL,
	pct_terms_non_english                   DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_query_log_timestamp ON raw_query_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_sanitized_terms_partition ON sanitized_terms(partition_date);
CREATE INDEX IF NOT EXISTS idx_unsanitized_samples_partition ON unsanitized_samples(partition_date);
CREATE INDEX IF NOT EXISTS idx_sanitation_jobs_status ON sanitation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_job_language_counts_start ON job_language_counts(job_start_time);
`

// Migrate creates the warehouse tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// QueryPage returns one page of the given day's raw queries in stable
// timestamp order.
func (s *PostgresStore) QueryPage(ctx context.Context, day time.Time, offset, limit int) ([]model.QueryRecord, error) {
	start, end := dayBounds(day)
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, request_id, session_id, sequence_no, query,
			country, region, dma, form_factor, browser, os_family, present_in_allow_list
		FROM raw_query_log
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp, request_id
		OFFSET $3 LIMIT $4`,
		start, end, offset, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query page")
	}
	defer rows.Close()

	var records []model.QueryRecord
	for rows.Next() {
		var r model.QueryRecord
		var country, region, dma, formFactor, browser, osFamily *string
		if err := rows.Scan(
			&r.Timestamp, &r.RequestID, &r.SessionID, &r.SequenceNo, &r.Query,
			&country, &region, &dma, &formFactor, &browser, &osFamily, &r.PresentInAllowList,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan query row")
		}
		r.Country = deref(country)
		r.Region = deref(region)
		r.DMA = deref(dma)
		r.FormFactor = deref(formFactor)
		r.Browser = deref(browser)
		r.OSFamily = deref(osFamily)
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertRawQueries bulk-loads raw query rows, used by the import command.
func (s *PostgresStore) InsertRawQueries(ctx context.Context, records []model.QueryRecord) (int64, error) {
	return db.CopyFrom(ctx, s.pool, "raw_query_log", queryColumns, recordRows(records, nil))
}

// ClearSanitized deletes the sanitized partition for a day so a rerun
// replaces it instead of appending duplicates.
func (s *PostgresStore) ClearSanitized(ctx context.Context, day time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sanitized_terms WHERE partition_date = $1`, dateOf(day),
	); err != nil {
		return eris.Wrap(err, "postgres: clear sanitized partition")
	}
	return nil
}

// ExportSanitized appends surviving rows to the day's sanitized partition.
func (s *PostgresStore) ExportSanitized(ctx context.Context, day time.Time, records []model.QueryRecord) (int64, error) {
	cols := append([]string{"partition_date"}, queryColumns...)
	return db.CopyFrom(ctx, s.pool, "sanitized_terms", cols, recordRows(records, dateOf(day)))
}

// ClearSample deletes the day's validation sample partition.
func (s *PostgresStore) ClearSample(ctx context.Context, day time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM unsanitized_samples WHERE partition_date = $1`, dateOf(day),
	); err != nil {
		return eris.Wrap(err, "postgres: clear sample partition")
	}
	return nil
}

// ExportSample appends unsanitized sample rows to the day's partition.
func (s *PostgresStore) ExportSample(ctx context.Context, day time.Time, records []model.QueryRecord) (int64, error) {
	cols := append([]string{"partition_date"}, queryColumns...)
	return db.CopyFrom(ctx, s.pool, "unsanitized_samples", cols, recordRows(records, dateOf(day)))
}

// StartJob records the beginning of a job run and returns its ID.
func (s *PostgresStore) StartJob(ctx context.Context, startedAt time.Time, notes string) (string, error) {
	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO sanitation_jobs (id, status, started_at, implementation_notes)
		VALUES ($1, $2, $3, $4)`,
		id, model.JobStatusRunning, startedAt, notes,
	); err != nil {
		return "", eris.Wrap(err, "postgres: start job")
	}
	return id, nil
}

// CompleteJob marks a job as SUCCESS and records its aggregate counters.
func (s *PostgresStore) CompleteJob(ctx context.Context, rec model.JobRecord) error {
	langJSON, err := json.Marshal(rec.LanguageProportions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal language proportions")
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE sanitation_jobs SET
			status = $1, finished_at = $2,
			total_search_terms_analyzed = $3, total_search_terms_removed = $4,
			contained_numbers = $5, contained_at = $6, contained_name = $7,
			classifier_faults = $8, sum_terms_containing_us_census_surname = $9,
			sum_chars_all_search_terms = $10, sum_uppercase_chars_all_search_terms = $11,
			sum_words_all_search_terms = $12, approximate_language_proportions_json = $13
		WHERE id = $14`,
		model.JobStatusSuccess, rec.FinishedAt,
		rec.TotalAnalyzed, rec.TotalRemoved,
		rec.ContainedNumeral, rec.ContainedAt, rec.ContainedName,
		rec.ClassifierFaults, rec.CensusSurnameHits,
		rec.SumChars, rec.SumUppercaseChars,
		rec.SumWords, string(langJSON),
		rec.ID,
	); err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", rec.ID)
	}
	return nil
}

// FailJob marks a job as FAILURE with the fault's message. No aggregate
// counters are persisted for a failed run.
func (s *PostgresStore) FailJob(ctx context.Context, jobID, reason string, finishedAt time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE sanitation_jobs
		SET status = $1, finished_at = $2, failure_reason = $3
		WHERE id = $4`,
		model.JobStatusFailure, finishedAt, reason, jobID,
	); err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	return nil
}

// ListJobs returns the most recent job records, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, started_at, finished_at,
			total_search_terms_analyzed, total_search_terms_removed,
			contained_numbers, contained_at, contained_name, classifier_faults,
			sum_terms_containing_us_census_surname,
			sum_chars_all_search_terms, sum_uppercase_chars_all_search_terms,
			sum_words_all_search_terms, approximate_language_proportions_json,
			failure_reason, implementation_notes
		FROM sanitation_jobs
		ORDER BY started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var records []model.JobRecord
	for rows.Next() {
		var rec model.JobRecord
		var finishedAt *time.Time
		var langJSON, failureReason, notes *string
		if err := rows.Scan(
			&rec.ID, &rec.Status, &rec.StartedAt, &finishedAt,
			&rec.TotalAnalyzed, &rec.TotalRemoved,
			&rec.ContainedNumeral, &rec.ContainedAt, &rec.ContainedName, &rec.ClassifierFaults,
			&rec.CensusSurnameHits,
			&rec.SumChars, &rec.SumUppercaseChars,
			&rec.SumWords, &langJSON,
			&failureReason, &notes,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job row")
		}
		rec.FinishedAt = finishedAt
		rec.FailureReason = deref(failureReason)
		rec.ImplementationNotes = deref(notes)
		if langJSON != nil && *langJSON != "" {
			_ = json.Unmarshal([]byte(*langJSON), &rec.LanguageProportions)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsertLanguageCounts writes one row per detected language for a job run.
func (s *PostgresStore) InsertLanguageCounts(ctx context.Context, jobID string, startedAt time.Time, counts map[string]int64) error {
	rows := make([][]any, 0, len(counts))
	for code, n := range counts {
		rows = append(rows, []any{jobID, startedAt, code, n})
	}
	_, err := db.CopyFrom(ctx, s.pool, "job_language_counts",
		[]string{"job_id", "job_start_time", "language_code", "search_term_count"}, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert language counts for %s", jobID)
	}
	return nil
}

// InsertValidationMetrics appends derived drift metrics rows.
func (s *PostgresStore) InsertValidationMetrics(ctx context.Context, metrics []model.ValidationMetric) error {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{
			m.JobID, m.FinishedAt,
			m.PctSanitizedTerms, m.PctContainedAt, m.PctContainedNumbers, m.PctContainedName,
			m.PctContainedSurname, m.PctUppercaseChars, m.AvgWordsPerTerm, m.PctTermsNonEnglish,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "validation_metrics", []string{
		"job_id", "finished_at",
		"pct_sanitized_search_terms", "pct_sanitized_contained_at",
		"pct_sanitized_contained_numbers", "pct_sanitized_contained_name",
		"pct_terms_containing_us_census_surname", "pct_uppercase_chars_all_search_terms",
		"avg_words_all_search_terms", "pct_terms_non_english",
	}, rows)
	if err != nil {
		return eris.Wrap(err, "postgres: insert validation metrics")
	}
	return nil
}

// recordRows converts query records to COPY rows, prefixing each with the
// partition date when one is given.
func recordRows(records []model.QueryRecord, partition any) [][]any {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		row := make([]any, 0, len(queryColumns)+1)
		if partition != nil {
			row = append(row, partition)
		}
		row = append(row,
			r.Timestamp, r.RequestID, r.SessionID, r.SequenceNo, r.Query,
			nullable(r.Country), nullable(r.Region), nullable(r.DMA),
			nullable(r.FormFactor), nullable(r.Browser), nullable(r.OSFamily),
			r.PresentInAllowList,
		)
		rows = append(rows, row)
	}
	return rows
}

// dayBounds returns the UTC [start, end) instants of a calendar day.
func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// dateOf truncates an instant to its UTC calendar date.
func dateOf(day time.Time) time.Time {
	start, _ := dayBounds(day)
	return start
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
