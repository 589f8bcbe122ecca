package risk

import "context"

// SentinelText replaces null or empty query text before classification.
// The NLP engine errors on empty input, and the sentinel itself must never
// trip a risk rule: no digits, no "@", and nothing an entity recognizer
// would tag as a person.
const SentinelText = "---"

// Language detection is only trusted above these thresholds. Short terms
// are frequently classified with high confidence and wrong, so both a
// length floor and a confidence floor apply.
const (
	minLanguageTextLen    = 5
	minLanguageConfidence = 0.2
)

// EntityResult is the per-query output of a batch NLP pass.
type EntityResult struct {
	// HasPerson is true when the entity recognizer found at least one
	// span labeled as a person.
	HasPerson bool

	// LanguageCode is the detected language (BCP 47), empty when
	// detection produced nothing.
	LanguageCode string

	// LanguageConfidence is the detector's confidence in LanguageCode.
	LanguageConfidence float64

	// Fault records a classification error for this query. A fault on
	// one query never aborts the batch; the pipeline maps it to a
	// conservative risky verdict.
	Fault error
}

// EntityClassifier runs named-entity and language detection over a whole
// batch of query texts in one invocation. Batching is a throughput
// requirement, not a convenience: per-string invocation overhead dominated
// job latency when measured.
type EntityClassifier interface {
	ClassifyBatch(ctx context.Context, texts []string) ([]EntityResult, error)
}

// NormalizeText substitutes the sentinel for missing query text.
func NormalizeText(text string) string {
	if text == "" {
		return SentinelText
	}
	return text
}

// TrustedLanguage returns the detected language code when it meets the
// trust thresholds for the given text, and false otherwise.
func TrustedLanguage(text string, res EntityResult) (string, bool) {
	if len(text) <= minLanguageTextLen {
		return "", false
	}
	if res.LanguageCode == "" || res.LanguageConfidence <= minLanguageConfidence {
		return "", false
	}
	return res.LanguageCode, true
}
