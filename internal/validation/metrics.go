// Package validation derives drift-monitoring metrics from successful
// sanitation job records, so the kind of thing people search for can be
// watched over time without retaining the raw terms.
package validation

import (
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

// tableNameRe matches fully qualified table names like
// myproject.mydataset.my_table. Table names cannot be parameterized in SQL,
// so anything else is rejected before it gets near a query.
var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateTableName rejects table identifiers that could smuggle SQL.
func ValidateTableName(name string) error {
	if name == "" || !tableNameRe.MatchString(name) {
		return eris.Errorf("validation: malformed table name %q; expected a fully qualified name like mydataset.my_table", name)
	}
	return nil
}

// Compute derives one metrics row per successful job record. Failed runs
// and runs that analyzed nothing are skipped: their ratios are undefined.
func Compute(jobs []model.JobRecord) []model.ValidationMetric {
	var metrics []model.ValidationMetric
	for _, job := range jobs {
		if job.Status != model.JobStatusSuccess || job.TotalAnalyzed == 0 || job.FinishedAt == nil {
			continue
		}

		analyzed := float64(job.TotalAnalyzed)
		m := model.ValidationMetric{
			JobID:               job.ID,
			FinishedAt:          *job.FinishedAt,
			PctSanitizedTerms:   float64(job.TotalRemoved) / analyzed,
			PctContainedAt:      float64(job.ContainedAt) / analyzed,
			PctContainedNumbers: float64(job.ContainedNumeral) / analyzed,
			PctContainedName:    float64(job.ContainedName) / analyzed,
			PctContainedSurname: float64(job.CensusSurnameHits) / analyzed,
			AvgWordsPerTerm:     float64(job.SumWords) / analyzed,
		}
		if job.SumChars > 0 {
			m.PctUppercaseChars = float64(job.SumUppercaseChars) / float64(job.SumChars)
		}
		m.PctTermsNonEnglish = pctNonEnglish(job.LanguageProportions)

		metrics = append(metrics, m)
	}
	return metrics
}

// pctNonEnglish returns the fraction of language-detected terms whose
// detected language is not English.
func pctNonEnglish(counts map[string]int64) float64 {
	var total, english int64
	for code, n := range counts {
		total += n
		if code == "en" {
			english += n
		}
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(english)/float64(total)
}
