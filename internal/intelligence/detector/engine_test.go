package detector

import (
	"context"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(taxonomy.Default(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func findDefect(t *testing.T, res *AnalysisResult, category taxonomy.Category) DefectMatch {
	t.Helper()
	var found []DefectMatch
	for _, d := range res.Defects {
		if d.Type == category {
			found = append(found, d)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly 1 %s defect, got %d: %+v", category, len(found), found)
	}
	return found[0]
}

type stubClassifier struct {
	score float64
	err   error
	calls int
}

func (s *stubClassifier) Name() string { return "stub" }

func (s *stubClassifier) Score(_ context.Context, _ string, _ taxonomy.Category) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}

func (s *stubClassifier) Healthy(_ context.Context) bool { return s.err == nil }

func (s *stubClassifier) Close() error { return nil }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRequiresTaxonomy(t *testing.T) {
	_, err := New(nil)
	if !errors.IsCode(err, errors.ErrCodeEngineConfigInvalid) {
		t.Fatalf("error = %v, want %s", err, errors.ErrCodeEngineConfigInvalid)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
	}{
		{"weight above one", WithClassifier(&stubClassifier{}, 1.5)},
		{"negative weight", WithClassifier(&stubClassifier{}, -0.1)},
		{"zero sentence cap", WithMaxSentences(0)},
		{"unknown match mode", WithMatchMode("regex")},
	}
	for _, c := range cases {
		if _, err := New(taxonomy.Default(), c.opt); !errors.IsCode(err, errors.ErrCodeEngineConfigInvalid) {
			t.Errorf("%s: error = %v, want %s", c.name, err, errors.ErrCodeEngineConfigInvalid)
		}
	}
}

func TestNewBoundaryWeightsAccepted(t *testing.T) {
	for _, w := range []float64{0, 0.5, 1} {
		if _, err := New(taxonomy.Default(), WithClassifier(&stubClassifier{}, w)); err != nil {
			t.Errorf("weight %v rejected: %v", w, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Core scenarios
// ---------------------------------------------------------------------------

func TestAnalyzeAttributesAreasPerDefect(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf",
		"The basement shows severe cracks and the kitchen has mold growth.")

	if res.TotalDefects != 2 {
		t.Fatalf("TotalDefects = %d, want 2; defects: %+v", res.TotalDefects, res.Defects)
	}

	structural := findDefect(t, res, taxonomy.CategoryStructural)
	if !strings.Contains(structural.Keyword, "crack") {
		t.Errorf("structural keyword = %q, want a crack keyword", structural.Keyword)
	}
	if structural.Severity != taxonomy.SeverityHigh {
		t.Errorf("structural severity = %s, want High", structural.Severity)
	}
	if structural.Area != "basement" {
		t.Errorf("structural area = %q, want basement", structural.Area)
	}

	mold := findDefect(t, res, taxonomy.CategoryMoldFungus)
	if mold.Keyword != "mold" {
		t.Errorf("mold keyword = %q, want mold", mold.Keyword)
	}
	if mold.Area != "kitchen" {
		t.Errorf("mold area = %q, want kitchen", mold.Area)
	}

	wantSummary := map[string]int{"Structural": 1, "Mold & Fungus": 1}
	if !reflect.DeepEqual(res.Summary, wantSummary) {
		t.Errorf("summary = %v, want %v", res.Summary, wantSummary)
	}
	// High severity sorts first.
	if res.Defects[0].Type != taxonomy.CategoryStructural {
		t.Errorf("first defect = %s, want Structural", res.Defects[0].Type)
	}
}

func TestAnalyzeCleanTextYieldsNoDefects(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "notes.txt", "The property was painted blue.")
	if res.TotalDefects != 0 {
		t.Fatalf("TotalDefects = %d, want 0; defects: %+v", res.TotalDefects, res.Defects)
	}
	if res.Defects == nil || len(res.Defects) != 0 {
		t.Errorf("Defects = %v, want empty non-nil slice", res.Defects)
	}
	if len(res.Summary) != 0 {
		t.Errorf("Summary = %v, want empty", res.Summary)
	}
}

func TestAnalyzeCollapsesSameCategoryHits(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf",
		"A crack and a foundation crack were recorded.")

	if got := res.Summary["Structural"]; got != 1 {
		t.Fatalf("Structural count = %d, want 1; defects: %+v", got, res.Defects)
	}
	structural := findDefect(t, res, taxonomy.CategoryStructural)
	if structural.Keyword != "foundation crack" {
		t.Errorf("surviving keyword = %q, want the more severe foundation crack", structural.Keyword)
	}
	if structural.Severity != taxonomy.SeverityHigh {
		t.Errorf("surviving severity = %s, want High", structural.Severity)
	}
}

func TestAnalyzeMultiCategorySentence(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf",
		"The damp basement wall shows exposed wiring.")

	if res.TotalDefects != 2 {
		t.Fatalf("TotalDefects = %d, want 2; defects: %+v", res.TotalDefects, res.Defects)
	}
	electrical := findDefect(t, res, taxonomy.CategoryElectrical)
	moisture := findDefect(t, res, taxonomy.CategoryMoistureDamp)
	if electrical.Area != "basement" || moisture.Area != "basement" {
		t.Errorf("areas = %q/%q, want basement for both", electrical.Area, moisture.Area)
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "empty.txt", "")
	if res.TotalDefects != 0 || len(res.Defects) != 0 || len(res.Summary) != 0 {
		t.Errorf("empty input produced %+v", res)
	}
	if res.Defects == nil {
		t.Error("Defects is nil, want empty slice")
	}
	if res.Filename != "empty.txt" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestAnalyzeBoilerplateOnlyInput(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "cover.pdf", "Page 1 of 3\nCONFIDENTIAL\n2024\n")
	if res.TotalDefects != 0 {
		t.Errorf("boilerplate produced defects: %+v", res.Defects)
	}
}

// ---------------------------------------------------------------------------
// Aggregate behavior
// ---------------------------------------------------------------------------

const multiDefectFixture = "The basement wall shows a severe crack. " +
	"Rising damp was found in the bathroom. " +
	"Exposed wiring near the fuse box is an electrical hazard. " +
	"The roof gutter is covered in rust."

func TestAnalyzeSummaryAgreesWithTotal(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)

	if res.TotalDefects != len(res.Defects) {
		t.Errorf("TotalDefects = %d but len(Defects) = %d", res.TotalDefects, len(res.Defects))
	}
	sum := 0
	for _, n := range res.Summary {
		sum += n
	}
	if sum != res.TotalDefects {
		t.Errorf("summary sum = %d, want %d", sum, res.TotalDefects)
	}
	if res.TotalDefects != 4 {
		t.Errorf("TotalDefects = %d, want 4: %+v", res.TotalDefects, res.Defects)
	}
}

func TestAnalyzeOrderingSeverityThenConfidence(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)

	for i := 1; i < len(res.Defects); i++ {
		prev, cur := res.Defects[i-1], res.Defects[i]
		if prev.Severity.Rank() < cur.Severity.Rank() {
			t.Fatalf("defect %d (%s) outranks defect %d (%s)", i, cur.Severity, i-1, prev.Severity)
		}
		if prev.Severity == cur.Severity && prev.Confidence < cur.Confidence {
			t.Fatalf("confidence out of order at %d: %v < %v", i, prev.Confidence, cur.Confidence)
		}
	}
	last := res.Defects[len(res.Defects)-1]
	if last.Type != taxonomy.CategoryCorrosionRust {
		t.Errorf("lowest ranked defect = %s, want Corrosion & Rust", last.Type)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	e := newTestEngine(t)
	first := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)
	for i := 0; i < 5; i++ {
		again := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)
		if !reflect.DeepEqual(again.Defects, first.Defects) {
			t.Fatalf("run %d produced different defects", i)
		}
		if !reflect.DeepEqual(again.Summary, first.Summary) {
			t.Fatalf("run %d produced different summary", i)
		}
	}
}

func TestAnalyzeConfidenceStaysInSeverityBand(t *testing.T) {
	e := newTestEngine(t)
	res := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)
	for _, d := range res.Defects {
		lo, hi := severityBand(d.Severity)
		if d.Confidence < lo || d.Confidence > hi {
			t.Errorf("%s %q confidence %v outside band [%v, %v]", d.Severity, d.Keyword, d.Confidence, lo, hi)
		}
	}
}

func TestAnalyzeMaxSentencesCap(t *testing.T) {
	e := newTestEngine(t, WithMaxSentences(1))
	res := e.Analyze(context.Background(), "survey.pdf",
		"A crack was seen in the hall. Damp was found in the bathroom.")
	if res.TotalDefects != 1 {
		t.Fatalf("TotalDefects = %d, want 1 after cap", res.TotalDefects)
	}
	if res.Defects[0].Type != taxonomy.CategoryStructural {
		t.Errorf("surviving defect = %s, want Structural", res.Defects[0].Type)
	}
}

func TestAnalyzeTokenModeSkipsEmbeddedWords(t *testing.T) {
	text := "The crackdown on permits was noted."
	sub := newTestEngine(t)
	if res := sub.Analyze(context.Background(), "a.txt", text); res.TotalDefects == 0 {
		t.Error("substring mode should hit the embedded keyword")
	}
	tok := newTestEngine(t, WithMatchMode(ModeToken))
	if res := tok.Analyze(context.Background(), "a.txt", text); res.TotalDefects != 0 {
		t.Errorf("token mode matched embedded keyword: %+v", res.Defects)
	}
}

func TestAnalyzeTokenModeMatchesHyphenVariants(t *testing.T) {
	e := newTestEngine(t, WithMatchMode(ModeToken))
	res := e.Analyze(context.Background(), "a.txt", "The load bearing wall shows deflection.")
	if got := res.Summary["General Structural"]; got != 1 {
		t.Fatalf("General Structural count = %d, want 1: %+v", got, res.Defects)
	}
	d := findDefect(t, res, taxonomy.CategoryGeneralStructural)
	if d.Keyword != "load-bearing" {
		t.Errorf("keyword = %q, want load-bearing (first rule wins the tie)", d.Keyword)
	}
}

// ---------------------------------------------------------------------------
// Classifier blending
// ---------------------------------------------------------------------------

func TestAnalyzeBlendsClassifierScore(t *testing.T) {
	stub := &stubClassifier{score: 1.0}
	e := newTestEngine(t, WithClassifier(stub, 0.4))
	res := e.Analyze(context.Background(), "a.txt", "A crack was found.")

	d := findDefect(t, res, taxonomy.CategoryStructural)
	// 0.4*1.0 + 0.6*0.555 = 0.733, still inside the Medium band.
	if math.Abs(d.Confidence-0.733) > 1e-9 {
		t.Errorf("confidence = %v, want 0.733", d.Confidence)
	}
	if stub.calls == 0 {
		t.Error("classifier was never consulted")
	}
}

func TestAnalyzeClampsBlendToSeverityBand(t *testing.T) {
	stub := &stubClassifier{score: 1.0}
	e := newTestEngine(t, WithClassifier(stub, 1.0))
	res := e.Analyze(context.Background(), "a.txt", "A crack was found.")

	d := findDefect(t, res, taxonomy.CategoryStructural)
	if d.Confidence != mediumBandCeil {
		t.Errorf("confidence = %v, want clamped to %v", d.Confidence, mediumBandCeil)
	}
}

func TestAnalyzeClassifierFailureFallsBackToRules(t *testing.T) {
	stub := &stubClassifier{err: errors.New(errors.ErrCodeClassifierInferenceFailed, "model down")}
	e := newTestEngine(t, WithClassifier(stub, 0.5))
	res := e.Analyze(context.Background(), "a.txt", "A crack was found.")

	d := findDefect(t, res, taxonomy.CategoryStructural)
	if math.Abs(d.Confidence-0.555) > 1e-9 {
		t.Errorf("confidence = %v, want rule-only 0.555", d.Confidence)
	}
	if res.TotalDefects != 1 {
		t.Errorf("classifier failure changed detection: %+v", res.Defects)
	}
}

func TestAnalyzeMemoizesClassifierCalls(t *testing.T) {
	stub := &stubClassifier{score: 0.9}
	e := newTestEngine(t, WithClassifier(stub, 0.5))
	// One sentence, two Structural rules and one General Structural rule hit:
	// scoring runs once per (sentence, category), so two calls, not three.
	e.Analyze(context.Background(), "a.txt", "A crack and a foundation crack were recorded.")
	if stub.calls != 2 {
		t.Errorf("classifier calls = %d, want 2", stub.calls)
	}
}

// ---------------------------------------------------------------------------
// Concurrency and metadata
// ---------------------------------------------------------------------------

func TestAnalyzeConcurrent(t *testing.T) {
	e := newTestEngine(t)
	reference := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				res := e.Analyze(context.Background(), "survey.pdf", multiDefectFixture)
				if !reflect.DeepEqual(res.Defects, reference.Defects) {
					t.Errorf("concurrent analysis diverged")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestAnalyzeTimestampIsUTC(t *testing.T) {
	e := newTestEngine(t)
	before := time.Now().UTC().Add(-time.Minute)
	res := e.Analyze(context.Background(), "a.txt", "A crack was found.")
	if res.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", res.Timestamp.Location())
	}
	if res.Timestamp.Before(before) {
		t.Errorf("timestamp %v is stale", res.Timestamp)
	}
}
