package risk

import (
	"context"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/reference"
)

// defaultWorkers bounds per-page parallelism when the caller passes 0.
const defaultWorkers = 4

// PageResult holds the outcome of evaluating one page of queries. Mask and
// Verdicts are index-aligned with the input.
type PageResult struct {
	Verdicts []model.RiskVerdict
	Mask     []bool
	Stats    model.RunStatistics
}

// Pipeline combines the lexical rules with the batched entity classifier to
// produce per-query risk verdicts and page-level aggregate statistics.
// Dependencies are injected once at construction; the classifier and the
// surname set are shared read-only across every page of a job run.
type Pipeline struct {
	classifier EntityClassifier
	surnames   reference.Set
	workers    int
}

// NewPipeline creates a risk pipeline. workers caps how many goroutines
// evaluate queries of a single page concurrently; 0 uses a default.
func NewPipeline(classifier EntityClassifier, surnames reference.Set, workers int) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		classifier: classifier,
		surnames:   surnames,
		workers:    workers,
	}
}

// Evaluate classifies every query of a page and returns the risk mask plus
// aggregate statistics. Checks run per query in fixed priority order with
// short-circuit: numeral, then "@", then person entity. Only non-risky
// queries contribute to the content sums, language counts, and the
// informational surname counter (surname presence alone never removes a
// query). Output order matches input order exactly.
//
// A fault on an individual query is mapped to a risky verdict rather than
// propagated: the system prefers over-removal to leaking PII.
func (p *Pipeline) Evaluate(ctx context.Context, queries []model.Query) (*PageResult, error) {
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = NormalizeText(q.Text)
	}

	// One batched NLP invocation per page.
	entities, err := p.classifier.ClassifyBatch(ctx, texts)
	if err != nil {
		return nil, eris.Wrap(err, "risk: classify batch")
	}
	if len(entities) != len(texts) {
		return nil, eris.New("risk: classifier result length mismatch")
	}

	result := &PageResult{
		Verdicts: make([]model.RiskVerdict, len(queries)),
		Mask:     make([]bool, len(queries)),
	}

	// Workers evaluate disjoint index ranges; each accumulates into its
	// own RunStatistics, merged after the group completes. No two workers
	// ever write the same verdict or mask index.
	chunks := splitRange(len(queries), p.workers)
	partials := make([]model.RunStatistics, len(chunks))

	g, gCtx := errgroup.WithContext(ctx)
	for w, chunk := range chunks {
		w, chunk := w, chunk
		g.Go(func() error {
			for i := chunk.start; i < chunk.end; i++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				verdict := p.evaluateOne(texts[i], entities[i], &partials[w])
				result.Verdicts[i] = verdict
				result.Mask[i] = verdict.Risky
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "risk: evaluate page")
	}

	for _, partial := range partials {
		result.Stats.Merge(partial)
	}

	return result, nil
}

// evaluateOne classifies a single query and updates the worker-local stats.
func (p *Pipeline) evaluateOne(text string, entity EntityResult, stats *model.RunStatistics) model.RiskVerdict {
	if reason := ClassifyLexical(text); reason != model.ReasonNone {
		switch reason {
		case model.ReasonNumeral:
			stats.ContainedNumeral++
		case model.ReasonAtSymbol:
			stats.ContainedAt++
		}
		return model.RiskVerdict{Risky: true, Reason: reason}
	}

	if entity.Fault != nil {
		zap.L().Warn("risk: query classification fault, removing conservatively",
			zap.Error(entity.Fault),
		)
		stats.ClassifierFaults++
		return model.RiskVerdict{Risky: true, Reason: model.ReasonFault}
	}

	if entity.HasPerson {
		stats.NameDetected++
		return model.RiskVerdict{Risky: true, Reason: model.ReasonPersonName}
	}

	// Kept query: accumulate content statistics.
	stats.SumChars += int64(len(text))
	stats.SumWords += int64(countWords(text))
	stats.SumUppercaseChars += int64(countUppercase(text))

	if code, ok := TrustedLanguage(text, entity); ok {
		stats.RecordLanguage(code)
	}

	if ContainsCensusSurname(text, p.surnames) {
		stats.CensusSurnameHits++
	}

	return model.RiskVerdict{Risky: false, Reason: model.ReasonNone}
}

type indexRange struct {
	start, end int
}

// splitRange divides [0, n) into at most workers contiguous chunks.
func splitRange(n, workers int) []indexRange {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	chunks := make([]indexRange, 0, workers)
	size := n / workers
	rem := n % workers
	start := 0
	for w := 0; w < workers; w++ {
		end := start + size
		if w < rem {
			end++
		}
		chunks = append(chunks, indexRange{start: start, end: end})
		start = end
	}
	return chunks
}

func countWords(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			inWord = true
			words++
		}
	}
	return words
}

// countUppercase counts ASCII uppercase letters, matching the [A-Z] scan
// the job metadata has always reported.
func countUppercase(text string) int {
	n := 0
	for _, r := range text {
		if r >= 'A' && r <= 'Z' {
			n++
		}
	}
	return n
}
