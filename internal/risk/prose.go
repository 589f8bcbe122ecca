package risk

import (
	"context"
	"strings"

	"github.com/jdkato/prose/v2"
	"github.com/pemistahl/lingua-go"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// ProseClassifier is the production EntityClassifier. Named-entity
// recognition runs through prose and language detection through lingua.
// The lingua detector is expensive to build, so one instance is created per
// job run and shared read-only across all pages.
type ProseClassifier struct {
	detector lingua.LanguageDetector
}

// NewProseClassifier builds the classifier, loading the language models.
func NewProseClassifier() *ProseClassifier {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()
	return &ProseClassifier{detector: detector}
}

// ClassifyBatch runs NER and language detection over all texts in one call.
// A failure on an individual text is recorded in that result's Fault field
// and never aborts the batch.
func (c *ProseClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]EntityResult, error) {
	results := make([]EntityResult, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text = NormalizeText(text)

		doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
		if err != nil {
			zap.L().Debug("risk: entity recognition fault",
				zap.Int("index", i),
				zap.Error(err),
			)
			results[i] = EntityResult{Fault: err}
			continue
		}

		res := EntityResult{}
		for _, ent := range doc.Entities() {
			if ent.Label == "PERSON" {
				res.HasPerson = true
				break
			}
		}

		if code, conf, ok := c.detectLanguage(text); ok {
			res.LanguageCode = code
			res.LanguageConfidence = conf
		}

		results[i] = res
	}

	return results, nil
}

// detectLanguage returns the most confident language guess for text as a
// canonical BCP 47 code.
func (c *ProseClassifier) detectLanguage(text string) (string, float64, bool) {
	values := c.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 {
		return "", 0, false
	}

	top := values[0]
	code := strings.ToLower(top.Language().IsoCode639_1().String())
	if tag, err := language.Parse(code); err == nil {
		code = tag.String()
	}

	return code, top.Value(), true
}
