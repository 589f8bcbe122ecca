package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suggest-data/sanitizer-cli/internal/model"
	"github.com/suggest-data/sanitizer-cli/internal/reference"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeClassifier returns canned results keyed by exact text, recording the
// texts it was handed. Unknown texts come back clean.
type fakeClassifier struct {
	results map[string]EntityResult
	batches [][]string
	err     error
	short   bool
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]EntityResult, error) {
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]EntityResult, len(texts))
	for i, text := range texts {
		out[i] = f.results[text]
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func queriesOf(texts ...string) []model.Query {
	qs := make([]model.Query, len(texts))
	for i, t := range texts {
		qs[i] = model.Query{Text: t}
	}
	return qs
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	t.Parallel()

	// The classifier tags everything as a person; lexical rules must still
	// win for queries containing a digit or an "@".
	fc := &fakeClassifier{results: map[string]EntityResult{
		"room 401":         {HasPerson: true},
		"jane@example.com": {HasPerson: true},
		"john smith":       {HasPerson: true},
	}}
	p := NewPipeline(fc, nil, 1)

	res, err := p.Evaluate(context.Background(), queriesOf("room 401", "jane@example.com", "john smith"))
	require.NoError(t, err)

	assert.Equal(t, model.ReasonNumeral, res.Verdicts[0].Reason)
	assert.Equal(t, model.ReasonAtSymbol, res.Verdicts[1].Reason)
	assert.Equal(t, model.ReasonPersonName, res.Verdicts[2].Reason)
	assert.Equal(t, []bool{true, true, true}, res.Mask)

	assert.Equal(t, int64(1), res.Stats.ContainedNumeral)
	assert.Equal(t, int64(1), res.Stats.ContainedAt)
	assert.Equal(t, int64(1), res.Stats.NameDetected)
}

func TestEvaluate_EmptyTextGetsSentinel(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{}
	p := NewPipeline(fc, nil, 1)

	res, err := p.Evaluate(context.Background(), queriesOf(""))
	require.NoError(t, err)
	require.Len(t, fc.batches, 1)
	assert.Equal(t, []string{SentinelText}, fc.batches[0])
	assert.False(t, res.Mask[0])
}

func TestEvaluate_FaultRemovesConservatively(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{results: map[string]EntityResult{
		"broken query": {Fault: errors.New("tokenizer panic")},
	}}
	p := NewPipeline(fc, nil, 1)

	res, err := p.Evaluate(context.Background(), queriesOf("broken query", "weather tomorrow"))
	require.NoError(t, err, "one faulted query must not abort the page")

	assert.True(t, res.Verdicts[0].Risky)
	assert.Equal(t, model.ReasonFault, res.Verdicts[0].Reason)
	assert.Equal(t, int64(1), res.Stats.ClassifierFaults)

	assert.False(t, res.Verdicts[1].Risky)
	assert.Equal(t, model.ReasonNone, res.Verdicts[1].Reason)
}

func TestEvaluate_BatchErrorPropagates(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{err: errors.New("model not loaded")}
	p := NewPipeline(fc, nil, 1)

	_, err := p.Evaluate(context.Background(), queriesOf("anything"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify batch")
}

func TestEvaluate_ResultLengthMismatch(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{short: true}
	p := NewPipeline(fc, nil, 1)

	_, err := p.Evaluate(context.Background(), queriesOf("one", "two"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestEvaluate_KeptQueryStatistics(t *testing.T) {
	t.Parallel()

	surnames := reference.Set{"troy": {}}
	fc := &fakeClassifier{results: map[string]EntityResult{
		"Troy weather forecast": {LanguageCode: "en", LanguageConfidence: 0.8},
	}}
	p := NewPipeline(fc, surnames, 1)

	res, err := p.Evaluate(context.Background(), queriesOf("Troy weather forecast"))
	require.NoError(t, err)

	// Surname presence is informational only; the query is kept.
	assert.False(t, res.Mask[0])
	assert.Equal(t, int64(1), res.Stats.CensusSurnameHits)

	assert.Equal(t, int64(21), res.Stats.SumChars)
	assert.Equal(t, int64(3), res.Stats.SumWords)
	assert.Equal(t, int64(1), res.Stats.SumUppercaseChars)
	assert.Equal(t, map[string]int64{"en": 1}, res.Stats.LanguageCounts)
}

func TestEvaluate_RiskyQueriesExcludedFromSums(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{results: map[string]EntityResult{
		"john smith": {HasPerson: true, LanguageCode: "en", LanguageConfidence: 0.9},
	}}
	p := NewPipeline(fc, reference.Set{"smith": {}}, 1)

	res, err := p.Evaluate(context.Background(), queriesOf("john smith", "Order 66"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Stats.SumChars)
	assert.Equal(t, int64(0), res.Stats.SumWords)
	assert.Equal(t, int64(0), res.Stats.SumUppercaseChars)
	assert.Equal(t, int64(0), res.Stats.CensusSurnameHits)
	assert.Empty(t, res.Stats.LanguageCounts)
}

func TestEvaluate_UntrustedLanguageNotCounted(t *testing.T) {
	t.Parallel()

	fc := &fakeClassifier{results: map[string]EntityResult{
		"cats":             {LanguageCode: "en", LanguageConfidence: 0.99}, // too short
		"weather tomorrow": {LanguageCode: "en", LanguageConfidence: 0.1},  // too unsure
	}}
	p := NewPipeline(fc, nil, 1)

	res, err := p.Evaluate(context.Background(), queriesOf("cats", "weather tomorrow"))
	require.NoError(t, err)
	assert.Empty(t, res.Stats.LanguageCounts)
}

func TestEvaluate_OutputOrderMatchesInput(t *testing.T) {
	t.Parallel()

	texts := make([]string, 100)
	results := make(map[string]EntityResult, len(texts))
	for i := range texts {
		texts[i] = fmt.Sprintf("query number %d", i)
		// All risky via numeral; verdicts must still line up by index.
		results[texts[i]] = EntityResult{}
	}
	texts[50] = "clean middle query"

	fc := &fakeClassifier{results: results}
	p := NewPipeline(fc, nil, 8)

	res, err := p.Evaluate(context.Background(), queriesOf(texts...))
	require.NoError(t, err)
	require.Len(t, res.Mask, 100)

	for i, masked := range res.Mask {
		if i == 50 {
			assert.False(t, masked, "index 50 is the only clean query")
			continue
		}
		assert.True(t, masked, "index %d contains a numeral", i)
	}
	assert.Equal(t, int64(99), res.Stats.ContainedNumeral)
	assert.Equal(t, int64(99), res.Stats.TotalRisky())
}

func TestEvaluate_EmptyPage(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&fakeClassifier{}, nil, 4)
	res, err := p.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Mask)
	assert.Empty(t, res.Verdicts)
	assert.Equal(t, int64(0), res.Stats.TotalRisky())
}

func TestSplitRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, workers int
		want       []indexRange
	}{
		{0, 4, nil},
		{1, 4, []indexRange{{0, 1}}},
		{10, 3, []indexRange{{0, 4}, {4, 7}, {7, 10}}},
		{4, 4, []indexRange{{0, 1}, {1, 2}, {2, 3}, {3, 4}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d workers=%d", tt.n, tt.workers), func(t *testing.T) {
			got := splitRange(tt.n, tt.workers)
			assert.Equal(t, tt.want, got)

			// Chunks must tile [0, n) exactly.
			covered := 0
			for _, c := range got {
				covered += c.end - c.start
			}
			assert.Equal(t, tt.n, covered)
		})
	}
}

func TestCountWords(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, countWords(""))
	assert.Equal(t, 1, countWords("weather"))
	assert.Equal(t, 3, countWords("  weather   in  troy "))
	assert.Equal(t, 2, countWords("a\tb"))
}

func TestCountUppercase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, countUppercase("lowercase only"))
	assert.Equal(t, 3, countUppercase("NY Times"))
	assert.Equal(t, 0, countUppercase("ÉÀ"), "non-ascii letters do not count")
}
