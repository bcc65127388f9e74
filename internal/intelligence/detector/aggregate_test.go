package detector

import (
	"reflect"
	"testing"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

func mkMatch(sentence int, cat taxonomy.Category, keyword string, sev taxonomy.Severity, conf float64) DefectMatch {
	return DefectMatch{
		Type:          cat,
		Keyword:       keyword,
		Sentence:      "sentence",
		SentenceIndex: sentence,
		Severity:      sev,
		Confidence:    conf,
		Area:          AreaGeneral,
	}
}

// ---------------------------------------------------------------------------
// Deduplication
// ---------------------------------------------------------------------------

func TestDedupeKeepsHighestSeverity(t *testing.T) {
	in := []DefectMatch{
		mkMatch(0, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(0, taxonomy.CategoryStructural, "foundation crack", taxonomy.SeverityHigh, 0.9),
	}
	out := dedupe(in)
	if len(out) != 1 {
		t.Fatalf("dedupe kept %d matches, want 1", len(out))
	}
	if out[0].Keyword != "foundation crack" {
		t.Errorf("survivor = %q, want foundation crack", out[0].Keyword)
	}
}

func TestDedupeSameSeverityPicksHigherConfidence(t *testing.T) {
	in := []DefectMatch{
		mkMatch(0, taxonomy.CategoryPlumbing, "drain", taxonomy.SeverityMedium, 0.555),
		mkMatch(0, taxonomy.CategoryPlumbing, "blocked drain", taxonomy.SeverityMedium, 0.593),
	}
	out := dedupe(in)
	if len(out) != 1 || out[0].Keyword != "blocked drain" {
		t.Fatalf("survivor = %+v, want blocked drain", out)
	}
}

func TestDedupeEqualKeysKeepFirst(t *testing.T) {
	in := []DefectMatch{
		mkMatch(0, taxonomy.CategoryGeneralStructural, "load-bearing", taxonomy.SeverityMedium, 0.592),
		mkMatch(0, taxonomy.CategoryGeneralStructural, "load bearing", taxonomy.SeverityMedium, 0.592),
	}
	out := dedupe(in)
	if len(out) != 1 || out[0].Keyword != "load-bearing" {
		t.Fatalf("survivor = %+v, want the earlier rule", out)
	}
}

func TestDedupeKeepsDistinctPairs(t *testing.T) {
	in := []DefectMatch{
		mkMatch(0, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(1, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(0, taxonomy.CategoryMoldFungus, "mold", taxonomy.SeverityMedium, 0.55),
	}
	out := dedupe(in)
	if len(out) != 3 {
		t.Fatalf("dedupe kept %d matches, want 3 distinct pairs", len(out))
	}
}

func TestDedupePreservesFirstSeenOrder(t *testing.T) {
	in := []DefectMatch{
		mkMatch(0, taxonomy.CategoryMoldFungus, "mold", taxonomy.SeverityMedium, 0.55),
		mkMatch(0, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(0, taxonomy.CategoryStructural, "severe crack", taxonomy.SeverityHigh, 0.89),
	}
	out := dedupe(in)
	if len(out) != 2 {
		t.Fatalf("dedupe kept %d matches, want 2", len(out))
	}
	// The Structural group upgraded in place; mold still comes first.
	if out[0].Type != taxonomy.CategoryMoldFungus || out[1].Keyword != "severe crack" {
		t.Errorf("order/content wrong: %+v", out)
	}
}

// ---------------------------------------------------------------------------
// Sorting and summarizing
// ---------------------------------------------------------------------------

func TestSortMatchesOrdering(t *testing.T) {
	matches := []DefectMatch{
		mkMatch(3, taxonomy.CategoryPlumbing, "leak", taxonomy.SeverityMedium, 0.56),
		mkMatch(0, taxonomy.CategoryMoldFungus, "spore", taxonomy.SeverityLow, 0.26),
		mkMatch(2, taxonomy.CategoryStructural, "severe crack", taxonomy.SeverityHigh, 0.89),
		mkMatch(1, taxonomy.CategoryMoistureDamp, "damp", taxonomy.SeverityMedium, 0.56),
		mkMatch(4, taxonomy.CategoryElectrical, "electrical hazard", taxonomy.SeverityHigh, 0.9),
	}
	sortMatches(matches)

	wantKeywords := []string{"electrical hazard", "severe crack", "damp", "leak", "spore"}
	got := make([]string, len(matches))
	for i, m := range matches {
		got[i] = m.Keyword
	}
	if !reflect.DeepEqual(got, wantKeywords) {
		t.Errorf("order = %v, want %v", got, wantKeywords)
	}
}

func TestSortMatchesStableOnFullTie(t *testing.T) {
	matches := []DefectMatch{
		mkMatch(1, taxonomy.CategoryMoistureDamp, "damp", taxonomy.SeverityMedium, 0.56),
		mkMatch(3, taxonomy.CategoryMoistureDamp, "damp", taxonomy.SeverityMedium, 0.56),
	}
	sortMatches(matches)
	if matches[0].SentenceIndex != 1 || matches[1].SentenceIndex != 3 {
		t.Errorf("sentence order broken: %+v", matches)
	}
}

func TestSummarize(t *testing.T) {
	matches := []DefectMatch{
		mkMatch(0, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(1, taxonomy.CategoryStructural, "crack", taxonomy.SeverityMedium, 0.56),
		mkMatch(2, taxonomy.CategoryPlumbing, "leak", taxonomy.SeverityMedium, 0.56),
	}
	want := map[string]int{"Structural": 2, "Plumbing": 1}
	if got := summarize(matches); !reflect.DeepEqual(got, want) {
		t.Errorf("summarize = %v, want %v", got, want)
	}
	if got := summarize(nil); len(got) != 0 {
		t.Errorf("summarize(nil) = %v, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

func TestCategoryPercentages(t *testing.T) {
	r := &AnalysisResult{
		Summary:      map[string]int{"Structural": 2, "Mold & Fungus": 1, "Plumbing": 1},
		TotalDefects: 4,
	}
	got := r.CategoryPercentages()
	want := map[string]float64{"Structural": 50, "Mold & Fungus": 25, "Plumbing": 25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("percentages = %v, want %v", got, want)
	}
}

func TestCategoryPercentagesRounding(t *testing.T) {
	r := &AnalysisResult{
		Summary:      map[string]int{"Structural": 1, "Plumbing": 2},
		TotalDefects: 3,
	}
	got := r.CategoryPercentages()
	if got["Structural"] != 33.3 || got["Plumbing"] != 66.7 {
		t.Errorf("percentages = %v, want one decimal rounding", got)
	}
}

func TestCategoryPercentagesEmptyResult(t *testing.T) {
	r := &AnalysisResult{Summary: map[string]int{}, TotalDefects: 0}
	if got := r.CategoryPercentages(); len(got) != 0 {
		t.Errorf("percentages = %v, want empty", got)
	}
}

func TestCountBySeverity(t *testing.T) {
	r := &AnalysisResult{
		Defects: []DefectMatch{
			mkMatch(0, taxonomy.CategoryStructural, "severe crack", taxonomy.SeverityHigh, 0.89),
			mkMatch(1, taxonomy.CategoryPlumbing, "leak", taxonomy.SeverityMedium, 0.56),
			mkMatch(2, taxonomy.CategoryMoistureDamp, "damp", taxonomy.SeverityMedium, 0.56),
		},
	}
	got := r.CountBySeverity()
	want := map[string]int{"High": 1, "Medium": 2, "Low": 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CountBySeverity = %v, want %v", got, want)
	}
}
