// Package model defines the shared data types for the sanitization pipeline.
package model

import "time"

// Query is a single search query as seen by the risk pipeline. Identity is
// positional: a query is addressed by its index within the page or session
// being processed, never by a synthetic key.
type Query struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	SequenceNo int       `json:"sequence_no"`
}

// QueryRecord is the full warehouse row for a raw search query. The geo
// fields arrive as 'none' placeholders upstream and are nulled out by the
// ingest query, so any of them may be empty here.
type QueryRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	RequestID          string    `json:"request_id"`
	SessionID          string    `json:"session_id"`
	SequenceNo         string    `json:"sequence_no"`
	Query              string    `json:"query"`
	Country            string    `json:"country,omitempty"`
	Region             string    `json:"region,omitempty"`
	DMA                string    `json:"dma,omitempty"`
	FormFactor         string    `json:"form_factor,omitempty"`
	Browser            string    `json:"browser,omitempty"`
	OSFamily           string    `json:"os_family,omitempty"`
	PresentInAllowList bool      `json:"present_in_allow_list"`
}

// RiskReason identifies which check flagged a query as a PII risk.
type RiskReason string

// Risk reasons, in the priority order the pipeline evaluates them.
const (
	ReasonNumeral    RiskReason = "numeral"
	ReasonAtSymbol   RiskReason = "at_symbol"
	ReasonPersonName RiskReason = "person_name"
	ReasonFault      RiskReason = "classifier_fault"
	ReasonNone       RiskReason = "none"
)

// RiskVerdict is the per-query sanitization decision. Risky is true exactly
// when Reason is not ReasonNone.
type RiskVerdict struct {
	Risky  bool       `json:"risky"`
	Reason RiskReason `json:"reason"`
}

// JobStatus describes the terminal state of a sanitation job run.
type JobStatus string

// Job statuses. A run is either running, or ended in exactly one of
// SUCCESS / FAILURE; there is no partial-success state.
const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailure JobStatus = "FAILURE"
)

// JobRecord is the metadata row written for each sanitation job run. The
// aggregate counters describe the day's run as a whole and are what the
// drift-monitoring queries consume; the raw terms themselves are never
// retained for removed queries.
type JobRecord struct {
	ID                  string           `json:"id"`
	Status              JobStatus        `json:"status"`
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          *time.Time       `json:"finished_at,omitempty"`
	TotalAnalyzed       int64            `json:"total_search_terms_analyzed"`
	TotalRemoved        int64            `json:"total_search_terms_removed"`
	ContainedNumeral    int64            `json:"contained_numbers"`
	ContainedAt         int64            `json:"contained_at"`
	ContainedName       int64            `json:"contained_name"`
	ClassifierFaults    int64            `json:"classifier_faults"`
	CensusSurnameHits   int64            `json:"sum_terms_containing_us_census_surname"`
	SumChars            int64            `json:"sum_chars_all_search_terms"`
	SumUppercaseChars   int64            `json:"sum_uppercase_chars_all_search_terms"`
	SumWords            int64            `json:"sum_words_all_search_terms"`
	LanguageProportions map[string]int64 `json:"approximate_language_proportions,omitempty"`
	FailureReason       string           `json:"failure_reason,omitempty"`
	ImplementationNotes string           `json:"implementation_notes,omitempty"`
}
