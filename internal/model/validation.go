package model

import "time"

// ValidationMetric is one row of derived drift-monitoring metrics, computed
// from a successful job record. Percentages are fractions of the terms
// analyzed in that run; PctNonEnglish comes from the per-language counts.
type ValidationMetric struct {
	JobID                string    `json:"job_id"`
	FinishedAt           time.Time `json:"finished_at"`
	PctSanitizedTerms    float64   `json:"pct_sanitized_search_terms"`
	PctContainedAt       float64   `json:"pct_sanitized_contained_at"`
	PctContainedNumbers  float64   `json:"pct_sanitized_contained_numbers"`
	PctContainedName     float64   `json:"pct_sanitized_contained_name"`
	PctContainedSurname  float64   `json:"pct_terms_containing_us_census_surname"`
	PctUppercaseChars    float64   `json:"pct_uppercase_chars_all_search_terms"`
	AvgWordsPerTerm      float64   `json:"avg_words_all_search_terms"`
	PctTermsNonEnglish   float64   `json:"pct_terms_non_english"`
}
