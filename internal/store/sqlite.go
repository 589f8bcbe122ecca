package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local and dev
// runs against a file-backed warehouse.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_query_log (
	timestamp             DATETIME NOT NULL,
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
	present_in_allow_list INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sanitized_terms (
	partition_date        TEXT NOT NULL,
	timestamp             DATETIME NOT NULL,
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
	present_in_allow_list INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS unsanitized_samples (
	partition_date        TEXT NOT NULL,
	timestamp             DATETIME NOT NULL,
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
	present_in_allow_list INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sanitation_jobs (
	id                                      TEXT PRIMARY KEY,
	status                                  TEXT NOT NULL,
	started_at                              DATETIME NOT NULL,
	finished_at                             DATETIME,
	total_search_terms_analyzed             INTEGER NOT NULL DEFAULT 0,
	total_search_terms_removed              INTEGER NOT NULL DEFAULT 0,
	contained_numbers                       INTEGER NOT NULL DEFAULT 0,
	contained_at                            INTEGER NOT NULL DEFAULT 0,
	contained_name                          INTEGER NOT NULL DEFAULT 0,
	classifier_faults                       INTEGER NOT NULL DEFAULT 0,
	sum_terms_containing_us_census_surname  INTEGER NOT NULL DEFAULT 0,
	sum_chars_all_search_terms              INTEGER NOT NULL DEFAULT 0,
	sum_uppercase_chars_all_search_terms    INTEGER NOT NULL DEFAULT 0,
	sum_words_all_search_terms              INTEGER NOT NULL DEFAULT 0,
	approximate_language_proportions_json   TEXT,
	failure_reason                          TEXT,
	implementation_notes                    TEXT
);

CREATE TABLE IF NOT EXISTS job_language_counts (
	job_id            TEXT NOT NULL REFERENCES sanitation_jobs(id),
	job_start_time    DATETIME NOT NULL,
	language_code     TEXT NOT NULL,
	search_term_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_metrics (
	job_id                                  TEXT NOT NULL,
	finished_at                             DATETIME NOT NULL,
	pct_sanitized_search_terms              REAL NOT NULL,
	pct_sanitized_contained_at              REAL NOT NULL,
	pct_sanitized_contained_numbers        REAL NOT NULL,
	pct_sanitized_contained_name            REAL NOT NULL,
	pct_terms_containing_us_census_surname  REAL NOT NULL,
	pct_uppercase_chars_all_search_terms    REAL NOT NULL,
	avg_words_all_search_terms              REAL NOT NULL,
	pct_terms_non_english                   REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_query_log_timestamp ON raw_query_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_sanitized_terms_partition ON sanitized_terms(partition_date);
CREATE INDEX IF NOT EXISTS idx_unsanitized_samples_partition ON unsanitized_samples(partition_date);
`

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// QueryPage returns one page of the day's raw queries in stable order.
func (s *SQLiteStore) QueryPage(ctx context.Context, day time.Time, offset, limit int) ([]model.QueryRecord, error) {
	start, end := dayBounds(day)
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, request_id, session_id, sequence_no, query,
			country, region, dma, form_factor, browser, os_family, present_in_allow_list
		FROM raw_query_log
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, request_id
		LIMIT ? OFFSET ?`,
		start, end, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query page")
	}
	defer rows.Close()

	var records []model.QueryRecord
	for rows.Next() {
		var r model.QueryRecord
		var country, region, dma, formFactor, browser, osFamily sql.NullString
		if err := rows.Scan(
			&r.Timestamp, &r.RequestID, &r.SessionID, &r.SequenceNo, &r.Query,
			&country, &region, &dma, &formFactor, &browser, &osFamily, &r.PresentInAllowList,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query row")
		}
		r.Country = country.String
		r.Region = region.String
		r.DMA = dma.String
		r.FormFactor = formFactor.String
		r.Browser = browser.String
		r.OSFamily = osFamily.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertRawQueries bulk-loads raw query rows inside one transaction.
func (s *SQLiteStore) InsertRawQueries(ctx context.Context, records []model.QueryRecord) (int64, error) {
	return s.insertRecords(ctx, "raw_query_log", nil, records)
}

// ClearSanitized deletes the sanitized partition for a day.
func (s *SQLiteStore) ClearSanitized(ctx context.Context, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sanitized_terms WHERE partition_date = ?`, partitionKey(day))
	return eris.Wrap(err, "sqlite: clear sanitized partition")
}

// ExportSanitized appends surviving rows to the day's partition.
func (s *SQLiteStore) ExportSanitized(ctx context.Context, day time.Time, records []model.QueryRecord) (int64, error) {
	return s.insertRecords(ctx, "sanitized_terms", partitionKey(day), records)
}

// ClearSample deletes the day's validation sample partition.
func (s *SQLiteStore) ClearSample(ctx context.Context, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM unsanitized_samples WHERE partition_date = ?`, partitionKey(day))
	return eris.Wrap(err, "sqlite: clear sample partition")
}

// ExportSample appends unsanitized sample rows to the day's partition.
func (s *SQLiteStore) ExportSample(ctx context.Context, day time.Time, records []model.QueryRecord) (int64, error) {
	return s.insertRecords(ctx, "unsanitized_samples", partitionKey(day), records)
}

func (s *SQLiteStore) insertRecords(ctx context.Context, table string, partition any, records []model.QueryRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: begin insert into %s", table)
	}
	defer tx.Rollback()

	query := `INSERT INTO ` + table + ` (timestamp, request_id, session_id, sequence_no, query,
		country, region, dma, form_factor, browser, os_family, present_in_allow_list)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if partition != nil {
		query = `INSERT INTO ` + table + ` (partition_date, timestamp, request_id, session_id, sequence_no, query,
			country, region, dma, form_factor, browser, os_family, present_in_allow_list)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare insert into %s", table)
	}
	defer stmt.Close()

	var n int64
	for _, r := range records {
		args := make([]any, 0, 13)
		if partition != nil {
			args = append(args, partition)
		}
		args = append(args,
			r.Timestamp, r.RequestID, r.SessionID, r.SequenceNo, r.Query,
			nullable(r.Country), nullable(r.Region), nullable(r.DMA),
			nullable(r.FormFactor), nullable(r.Browser), nullable(r.OSFamily),
			r.PresentInAllowList,
		)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert into %s", table)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit insert into %s", table)
	}
	return n, nil
}

// StartJob records the beginning of a job run and returns its ID.
func (s *SQLiteStore) StartJob(ctx context.Context, startedAt time.Time, notes string) (string, error) {
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sanitation_jobs (id, status, started_at, implementation_notes)
		VALUES (?, ?, ?, ?)`,
		id, model.JobStatusRunning, startedAt, notes,
	); err != nil {
		return "", eris.Wrap(err, "sqlite: start job")
	}
	return id, nil
}

// CompleteJob marks a job as SUCCESS with its aggregate counters.
func (s *SQLiteStore) CompleteJob(ctx context.Context, rec model.JobRecord) error {
	langJSON, err := json.Marshal(rec.LanguageProportions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal language proportions")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sanitation_jobs SET
			status = ?, finished_at = ?,
			total_search_terms_analyzed = ?, total_search_terms_removed = ?,
			contained_numbers = ?, contained_at = ?, contained_name = ?,
			classifier_faults = ?, sum_terms_containing_us_census_surname = ?,
			sum_chars_all_search_terms = ?, sum_uppercase_chars_all_search_terms = ?,
			sum_words_all_search_terms = ?, approximate_language_proportions_json = ?
		WHERE id = ?`,
		model.JobStatusSuccess, rec.FinishedAt,
		rec.TotalAnalyzed, rec.TotalRemoved,
		rec.ContainedNumeral, rec.ContainedAt, rec.ContainedName,
		rec.ClassifierFaults, rec.CensusSurnameHits,
		rec.SumChars, rec.SumUppercaseChars,
		rec.SumWords, string(langJSON),
		rec.ID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", rec.ID)
	}
	return nil
}

// FailJob marks a job as FAILURE with the fault's message.
func (s *SQLiteStore) FailJob(ctx context.Context, jobID, reason string, finishedAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sanitation_jobs
		SET status = ?, finished_at = ?, failure_reason = ?
		WHERE id = ?`,
		model.JobStatusFailure, finishedAt, reason, jobID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return nil
}

// ListJobs returns the most recent job records, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, finished_at,
			total_search_terms_analyzed, total_search_terms_removed,
			contained_numbers, contained_at, contained_name, classifier_faults,
			sum_terms_containing_us_census_surname,
			sum_chars_all_search_terms, sum_uppercase_chars_all_search_terms,
			sum_words_all_search_terms, approximate_language_proportions_json,
			failure_reason, implementation_notes
		FROM sanitation_jobs
		ORDER BY started_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var records []model.JobRecord
	for rows.Next() {
		var rec model.JobRecord
		var finishedAt sql.NullTime
		var langJSON, failureReason, notes sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Status, &rec.StartedAt, &finishedAt,
			&rec.TotalAnalyzed, &rec.TotalRemoved,
			&rec.ContainedNumeral, &rec.ContainedAt, &rec.ContainedName, &rec.ClassifierFaults,
			&rec.CensusSurnameHits,
			&rec.SumChars, &rec.SumUppercaseChars,
			&rec.SumWords, &langJSON,
			&failureReason, &notes,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job row")
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			rec.FinishedAt = &t
		}
		rec.FailureReason = failureReason.String
		rec.ImplementationNotes = notes.String
		if langJSON.Valid && langJSON.String != "" {
			_ = json.Unmarshal([]byte(langJSON.String), &rec.LanguageProportions)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// InsertLanguageCounts writes one row per detected language for a job run.
func (s *SQLiteStore) InsertLanguageCounts(ctx context.Context, jobID string, startedAt time.Time, counts map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin language counts")
	}
	defer tx.Rollback()

	for code, n := range counts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_language_counts (job_id, job_start_time, language_code, search_term_count)
			VALUES (?, ?, ?, ?)`,
			jobID, startedAt, code, n,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert language count for %s", jobID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit language counts")
}

// InsertValidationMetrics appends derived drift metrics rows.
func (s *SQLiteStore) InsertValidationMetrics(ctx context.Context, metrics []model.ValidationMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin validation metrics")
	}
	defer tx.Rollback()

	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO validation_metrics (job_id, finished_at,
				pct_sanitized_search_terms, pct_sanitized_contained_at,
				pct_sanitized_contained_numbers, pct_sanitized_contained_name,
				pct_terms_containing_us_census_surname, pct_uppercase_chars_all_search_terms,
				avg_words_all_search_terms, pct_terms_non_english)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.JobID, m.FinishedAt,
			m.PctSanitizedTerms, m.PctContainedAt, m.PctContainedNumbers, m.PctContainedName,
			m.PctContainedSurname, m.PctUppercaseChars, m.AvgWordsPerTerm, m.PctTermsNonEnglish,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert validation metric")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit validation metrics")
}

// partitionKey renders a day as the YYYY-MM-DD partition key.
func partitionKey(day time.Time) string {
	return dateOf(day).Format("2006-01-02")
}
