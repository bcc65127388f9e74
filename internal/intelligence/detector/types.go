package detector

import (
	"math"
	"strings"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// ---------------------------------------------------------------------------
// Match modes
// ---------------------------------------------------------------------------

// MatchMode selects how keywords are located inside a sentence.
//
// Substring matching is the default and favors recall: "electrical" also
// hits "non-electrical". Token matching only accepts whole-word phrase
// occurrences and trades that recall for precision.
type MatchMode string

const (
	ModeSubstring MatchMode = "substring"
	ModeToken     MatchMode = "token"
)

// ParseMatchMode resolves a mode name, ignoring case and whitespace.
func ParseMatchMode(s string) (MatchMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeSubstring):
		return ModeSubstring, true
	case string(ModeToken):
		return ModeToken, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// DefectMatch is one confirmed defect finding: a sentence, the keyword that
// triggered it, and the classification attached to that keyword. After
// deduplication a sentence carries at most one match per category.
type DefectMatch struct {
	Type          taxonomy.Category `json:"type"`
	Keyword       string            `json:"keyword"`
	Sentence      string            `json:"sentence"`
	SentenceIndex int               `json:"-"`
	Severity      taxonomy.Severity `json:"severity"`
	Confidence    float64           `json:"confidence"`
	Area          string            `json:"area"`
}

// AnalysisResult is the complete outcome of analyzing one document. Defects
// are ordered by descending severity, then descending confidence, then
// original sentence order, and the Summary counts always agree with
// TotalDefects.
type AnalysisResult struct {
	Filename     string         `json:"filename"`
	Defects      []DefectMatch  `json:"defects"`
	Summary      map[string]int `json:"summary"`
	TotalDefects int            `json:"total_defects"`
	Timestamp    time.Time      `json:"timestamp"`
}

// CategoryPercentages returns each category's share of TotalDefects as a
// percentage rounded to one decimal. Empty results yield an empty map.
func (r *AnalysisResult) CategoryPercentages() map[string]float64 {
	out := make(map[string]float64, len(r.Summary))
	if r.TotalDefects == 0 {
		return out
	}
	for category, count := range r.Summary {
		out[category] = math.Round(float64(count)/float64(r.TotalDefects)*1000) / 10
	}
	return out
}

// CountBySeverity tallies defects per severity grade. All three grades are
// present in the result, zero-valued when unused.
func (r *AnalysisResult) CountBySeverity() map[string]int {
	out := map[string]int{
		string(taxonomy.SeverityHigh):   0,
		string(taxonomy.SeverityMedium): 0,
		string(taxonomy.SeverityLow):    0,
	}
	for _, d := range r.Defects {
		out[string(d.Severity)]++
	}
	return out
}
