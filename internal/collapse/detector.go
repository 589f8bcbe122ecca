// Package collapse identifies intermediate (incrementally-typed) search
// queries and groups each prefix chain under its final, fully-typed query.
package collapse

import (
	"sort"
	"strings"
	"time"

	"github.com/suggest-data/sanitizer-cli/internal/model"
)

// NoMatch marks a query that is not the prefix of any later query.
const NoMatch = -1

// Record annotates one query with its position in a prefix chain. Records
// are index-aligned with the (timestamp-sorted) input.
type Record struct {
	// IsPrefix is true when a later query within the window is a valid
	// superstring extension of this one.
	IsPrefix bool

	// PrefixOf is the index of the superstring this query extends into,
	// or NoMatch.
	PrefixOf int

	// Prefixes lists the indices of queries that chose this query as
	// their superstring, in increasing order.
	Prefixes []int

	// FullQueryIdx is the index of the chain root (the final query) for
	// this query's chain; a query outside any chain points at itself.
	FullQueryIdx int
}

// Detect annotates a time-ordered sequence of queries with prefix-chain
// records. A query i is an intermediate query when some query j typed within
// window after it satisfies both bounds on length growth (inclusive) and
// extends it as an exact, case-sensitive string prefix. The earliest
// qualifying j wins, not the closest-length one, and each query extends into
// at most one superstring. Chains form a forest: parent indices are always
// strictly greater than child indices, so cycles cannot occur.
//
// The input is sorted by timestamp first, so callers may pass queries in any
// order. Running Detect again over an already-resolved sequence yields
// identical records.
func Detect(queries []model.Query, window time.Duration, minLengthDiff, maxLengthDiff int) []Record {
	n := len(queries)
	records := make([]Record, n)
	if n == 0 {
		return records
	}

	sorted := make([]model.Query, n)
	copy(sorted, queries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	windowMax := windowMaxIndices(sorted, window)

	for i := range records {
		records[i].PrefixOf = NoMatch
		records[i].FullQueryIdx = i
	}

	// Forward scan: for query i, the first j in (i, windowMax[i]] whose
	// length growth is within bounds and which starts with query i is its
	// superstring. Length is checked before the prefix comparison so the
	// common case short-circuits without touching string contents.
	for i := 0; i < n; i++ {
		current := sorted[i].Text
		for j := i + 1; j <= windowMax[i]; j++ {
			candidate := sorted[j].Text
			lenDiff := len(candidate) - len(current)
			if lenDiff >= minLengthDiff && lenDiff <= maxLengthDiff && strings.HasPrefix(candidate, current) {
				records[i].IsPrefix = true
				records[i].PrefixOf = j
				records[j].Prefixes = append(records[j].Prefixes, i)
				break
			}
		}
	}

	resolveChains(records)

	return records
}

// windowMaxIndices computes, for each query i, the largest index j such that
// sorted[j] was typed no more than window after sorted[i]. A single
// monotonic two-pointer pass: the right edge never moves backwards because
// timestamps are sorted.
func windowMaxIndices(sorted []model.Query, window time.Duration) []int {
	n := len(sorted)
	windowMax := make([]int, n)
	j := 0
	for i := 0; i < n; i++ {
		if j < i {
			j = i
		}
		for j+1 < n && !sorted[j+1].Timestamp.After(sorted[i].Timestamp.Add(window)) {
			j++
		}
		windowMax[i] = j
	}
	return windowMax
}

// resolveChains labels every query in a prefix chain with the index of its
// chain root. Each chain is a tree whose nodes are record indices and whose
// children are the Prefixes lists; a root is a query that is not itself a
// prefix but has at least one prefix pointing at it. Breadth-first walk from
// each root.
func resolveChains(records []Record) {
	for root := range records {
		if records[root].IsPrefix || len(records[root].Prefixes) == 0 {
			continue
		}
		queue := append([]int(nil), records[root].Prefixes...)
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			records[node].FullQueryIdx = root
			queue = append(queue, records[node].Prefixes...)
		}
	}
}

// Summary aggregates chain detection results for reporting.
type Summary struct {
	Total      int // queries examined
	Prefixes   int // queries flagged as intermediate
	FullQuery  int // distinct chain roots and standalone queries
	ChainRoots int // roots with at least one intermediate query
}

// Summarize computes totals over a detection result.
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	fulls := make(map[int]struct{}, len(records))
	for i, r := range records {
		if r.IsPrefix {
			s.Prefixes++
		}
		fulls[r.FullQueryIdx] = struct{}{}
		if !r.IsPrefix && len(r.Prefixes) > 0 && r.FullQueryIdx == i {
			s.ChainRoots++
		}
	}
	s.FullQuery = len(fulls)
	return s
}
