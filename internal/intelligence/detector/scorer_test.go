package detector

import (
	"math"
	"testing"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// ---------------------------------------------------------------------------
// Bands
// ---------------------------------------------------------------------------

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		sev    taxonomy.Severity
		lo, hi float64
	}{
		{taxonomy.SeverityHigh, 0.85, 1.0},
		{taxonomy.SeverityMedium, 0.55, 0.84},
		{taxonomy.SeverityLow, 0.25, 0.54},
		{taxonomy.Severity("bogus"), 0.25, 0.54},
	}
	for _, c := range cases {
		lo, hi := severityBand(c.sev)
		if lo != c.lo || hi != c.hi {
			t.Errorf("severityBand(%s) = [%v, %v], want [%v, %v]", c.sev, lo, hi, c.lo, c.hi)
		}
	}
}

// ---------------------------------------------------------------------------
// Rule confidence
// ---------------------------------------------------------------------------

func TestRuleConfidenceStaysInBand(t *testing.T) {
	for _, rule := range taxonomy.Default().Rules() {
		lo, hi := severityBand(rule.Severity)
		got := ruleConfidence(rule)
		if got < lo || got > hi {
			t.Errorf("%q (%s) confidence %v outside [%v, %v]", rule.Keyword, rule.Severity, got, lo, hi)
		}
	}
}

func TestRuleConfidencePrefersSpecificKeywords(t *testing.T) {
	drain := taxonomy.KeywordRule{Category: taxonomy.CategoryPlumbing, Keyword: "drain", Severity: taxonomy.SeverityMedium}
	blocked := taxonomy.KeywordRule{Category: taxonomy.CategoryPlumbing, Keyword: "blocked drain", Severity: taxonomy.SeverityMedium}
	if ruleConfidence(blocked) <= ruleConfidence(drain) {
		t.Errorf("blocked drain (%v) should outscore drain (%v)",
			ruleConfidence(blocked), ruleConfidence(drain))
	}
}

func TestRuleConfidenceDeterministic(t *testing.T) {
	rule := taxonomy.KeywordRule{Category: taxonomy.CategoryStructural, Keyword: "severe crack", Severity: taxonomy.SeverityHigh}
	first := ruleConfidence(rule)
	for i := 0; i < 3; i++ {
		if ruleConfidence(rule) != first {
			t.Fatal("ruleConfidence is not deterministic")
		}
	}
	if math.Abs(first-0.892) > 1e-9 {
		t.Errorf("severe crack confidence = %v, want 0.892", first)
	}
}

func TestRuleConfidenceCappedAtCeiling(t *testing.T) {
	rule := taxonomy.KeywordRule{
		Category: taxonomy.CategoryStructural,
		Keyword:  "one two three four five six seven eight nine ten eleven twelve",
		Severity: taxonomy.SeverityMedium,
	}
	if got := ruleConfidence(rule); got != mediumBandCeil {
		t.Errorf("confidence = %v, want capped at %v", got, mediumBandCeil)
	}
}

// ---------------------------------------------------------------------------
// Blending
// ---------------------------------------------------------------------------

func TestBlendWeightsScores(t *testing.T) {
	got := blend(0.6, 0.8, 0.5, taxonomy.SeverityMedium)
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("blend = %v, want 0.7", got)
	}
}

func TestBlendClampsToBand(t *testing.T) {
	if got := blend(0.6, 1.0, 1.0, taxonomy.SeverityMedium); got != mediumBandCeil {
		t.Errorf("blend above band = %v, want %v", got, mediumBandCeil)
	}
	if got := blend(0.6, 0.0, 1.0, taxonomy.SeverityMedium); got != mediumBandFloor {
		t.Errorf("blend below band = %v, want %v", got, mediumBandFloor)
	}
}

func TestBlendZeroWeightKeepsRuleScore(t *testing.T) {
	if got := blend(0.6, 0.99, 0, taxonomy.SeverityMedium); got != 0.6 {
		t.Errorf("blend = %v, want rule score 0.6", got)
	}
}

func TestRound3(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.8920000000000001, 0.892},
		{0.554999999, 0.555},
		{0.84, 0.84},
		{0, 0},
	}
	for _, c := range cases {
		if got := round3(c.in); got != c.want {
			t.Errorf("round3(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
