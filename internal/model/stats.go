package model

import "encoding/json"

// RunStatistics accumulates aggregate metrics over one page of queries.
// The character/word/uppercase sums cover non-risky queries only: they
// describe what is being kept, not what is removed. Page-level instances
// are merged into a job-level total as pages complete.
type RunStatistics struct {
	ContainedNumeral  int64 `json:"num_terms_containing_numeral"`
	ContainedAt       int64 `json:"num_terms_containing_at"`
	NameDetected      int64 `json:"num_terms_name_detected"`
	ClassifierFaults  int64 `json:"num_terms_classifier_fault"`
	CensusSurnameHits int64 `json:"sum_terms_containing_us_census_surname"`
	SumChars          int64 `json:"sum_chars_all_terms"`
	SumUppercaseChars int64 `json:"sum_uppercase_chars_all_terms"`
	SumWords          int64 `json:"sum_words_all_terms"`

	// LanguageCounts maps a detected language code to the number of
	// non-risky queries confidently detected as that language.
	LanguageCounts map[string]int64 `json:"language_counts,omitempty"`
}

// Merge adds other's counters into s field-wise. Merge is associative and
// commutative, so per-worker and per-page partials can be combined in any
// order.
func (s *RunStatistics) Merge(other RunStatistics) {
	s.ContainedNumeral += other.ContainedNumeral
	s.ContainedAt += other.ContainedAt
	s.NameDetected += other.NameDetected
	s.ClassifierFaults += other.ClassifierFaults
	s.CensusSurnameHits += other.CensusSurnameHits
	s.SumChars += other.SumChars
	s.SumUppercaseChars += other.SumUppercaseChars
	s.SumWords += other.SumWords

	if len(other.LanguageCounts) == 0 {
		return
	}
	if s.LanguageCounts == nil {
		s.LanguageCounts = make(map[string]int64, len(other.LanguageCounts))
	}
	for code, n := range other.LanguageCounts {
		s.LanguageCounts[code] += n
	}
}

// RecordLanguage counts one occurrence of a detected language code.
func (s *RunStatistics) RecordLanguage(code string) {
	if s.LanguageCounts == nil {
		s.LanguageCounts = make(map[string]int64)
	}
	s.LanguageCounts[code]++
}

// TotalRisky returns the number of queries flagged by any risk check.
func (s RunStatistics) TotalRisky() int64 {
	return s.ContainedNumeral + s.ContainedAt + s.NameDetected + s.ClassifierFaults
}

// LanguageProportionsJSON renders the language counts as the JSON blob
// stored in the job metadata record.
func (s RunStatistics) LanguageProportionsJSON() (string, error) {
	counts := s.LanguageCounts
	if counts == nil {
		counts = map[string]int64{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
