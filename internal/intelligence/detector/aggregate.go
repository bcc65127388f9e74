package detector

import (
	"sort"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

// sentenceCategory keys one (sentence, category) pair. It is both the
// deduplication group and the classifier memoization key.
type sentenceCategory struct {
	sentence int
	category taxonomy.Category
}

// dedupe collapses matches sharing a (sentence, category) pair down to the
// single best one: an explicit reduction to the maximum under the
// (severity rank, confidence) key. Two synonyms for the same defect in one
// sentence therefore count once. Equal keys keep the earlier match, which
// preserves taxonomy rule order as the final tie-break.
func dedupe(matches []DefectMatch) []DefectMatch {
	index := make(map[sentenceCategory]int, len(matches))
	out := make([]DefectMatch, 0, len(matches))
	for _, m := range matches {
		key := sentenceCategory{sentence: m.SentenceIndex, category: m.Type}
		at, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, m)
			continue
		}
		if outranks(m, out[at]) {
			out[at] = m
		}
	}
	return out
}

// outranks reports whether a beats b under (severity rank, confidence).
func outranks(a, b DefectMatch) bool {
	if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
		return ar > br
	}
	return a.Confidence > b.Confidence
}

// sortMatches orders matches by descending severity, then descending
// confidence, then original sentence order. The ordering is total, so output
// never depends on map iteration order.
func sortMatches(matches []DefectMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
			return ar > br
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.SentenceIndex < b.SentenceIndex
	})
}

// summarize counts surviving matches per category. Categories with no
// matches are absent, and the counts always sum to len(matches).
func summarize(matches []DefectMatch) map[string]int {
	summary := make(map[string]int)
	for _, m := range matches {
		summary[string(m.Type)]++
	}
	return summary
}
