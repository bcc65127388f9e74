package textnorm

import (
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func sentenceTexts(sentences []Sentence) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, s.Text)
	}
	return out
}

// ---------------------------------------------------------------------------
// Split
// ---------------------------------------------------------------------------

func TestSplitEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n\r ", "..."} {
		got := Split(input)
		if got == nil {
			t.Fatalf("Split(%q) returned nil, want empty slice", input)
		}
		if len(got) != 0 {
			t.Errorf("Split(%q) = %v, want no sentences", input, got)
		}
	}
}

func TestSplitSingleSentenceWithoutTerminal(t *testing.T) {
	got := Split("the north wall shows damp staining")
	if len(got) != 1 {
		t.Fatalf("expected 1 sentence, got %d", len(got))
	}
	if got[0].Index != 0 {
		t.Errorf("index = %d, want 0", got[0].Index)
	}
	if got[0].Text != "the north wall shows damp staining" {
		t.Errorf("unexpected text %q", got[0].Text)
	}
}

func TestSplitMultipleSentences(t *testing.T) {
	got := Split("First finding. Second finding! Is this a third?")
	want := []string{"First finding.", "Second finding!", "Is this a third?"}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
	for i, s := range got {
		if s.Index != i {
			t.Errorf("sentence %d has index %d", i, s.Index)
		}
	}
}

func TestSplitCollapsesWhitespace(t *testing.T) {
	got := Split("The   wall\thas\n\na crack.   Next   item.")
	want := []string{"The wall has a crack.", "Next item."}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
}

func TestSplitDecimalPointIsNotABoundary(t *testing.T) {
	got := Split("The moisture reading was 3.5 percent. Further checks follow.")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(got), sentenceTexts(got))
	}
	if !strings.Contains(got[0].Text, "3.5") {
		t.Errorf("first sentence lost the decimal: %q", got[0].Text)
	}
}

func TestSplitPunctuationRuns(t *testing.T) {
	got := Split("Really?! Yes. Done...")
	want := []string{"Really?!", "Yes.", "Done..."}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
}

func TestSplitDropsContentFreeSegments(t *testing.T) {
	got := Split("One finding here. . ! Two findings there.")
	want := []string{"One finding here.", "Two findings there."}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
	// Indices renumber densely after drops.
	if got[1].Index != 1 {
		t.Errorf("second sentence index = %d, want 1", got[1].Index)
	}
}

func TestSplitKeepsOriginalCase(t *testing.T) {
	got := Split("The BASEMENT wall is Damp.")
	if len(got) != 1 || got[0].Text != "The BASEMENT wall is Damp." {
		t.Errorf("casing not preserved: %v", sentenceTexts(got))
	}
}

func TestSplitKeepsTrailingFragment(t *testing.T) {
	got := Split("A complete sentence. trailing fragment without punctuation")
	want := []string{"A complete sentence.", "trailing fragment without punctuation"}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
}

func TestSplitScrubsControlCharacters(t *testing.T) {
	got := Split("Damp\x00patch on wall. Check\x0ccomplete.")
	want := []string{"Damp patch on wall.", "Check complete."}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
}

func TestSplitDeterministic(t *testing.T) {
	input := "Severe crack in the wall!  Damp near the window. mold behind units"
	first := Split(input)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(Split(input), first) {
			t.Fatal("repeated Split calls disagree")
		}
	}
}

// ---------------------------------------------------------------------------
// Clean
// ---------------------------------------------------------------------------

func TestCleanDropsBoilerplateLines(t *testing.T) {
	input := strings.Join([]string{
		"Page 3 of 12",
		"CONFIDENTIAL",
		"Date: 2024-01-05",
		"Copyright Acme Surveyors Ltd",
		"42",
		"ok",
		"The north wall shows damp staining.",
	}, "\n")
	got := Clean(input)
	if got != "The north wall shows damp staining." {
		t.Errorf("Clean = %q", got)
	}
}

func TestCleanKeepsFindingLines(t *testing.T) {
	input := "Severe crack in the rear elevation.\nMold growth behind kitchen units."
	got := Clean(input)
	if got != input {
		t.Errorf("Clean modified clean input: %q", got)
	}
}

func TestCleanEmptyInput(t *testing.T) {
	if got := Clean(""); got != "" {
		t.Errorf("Clean(\"\") = %q, want empty", got)
	}
}

func TestCleanTrimsLineWhitespace(t *testing.T) {
	got := Clean("   The basement wall is cracked.   \n")
	if got != "The basement wall is cracked." {
		t.Errorf("Clean = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Normalize
// ---------------------------------------------------------------------------

func TestNormalizeFullPipeline(t *testing.T) {
	input := strings.Join([]string{
		"Page 1",
		"CONFIDENTIAL",
		"The basement wall shows a severe crack. Mold growth was noted behind the units.",
		"2024",
	}, "\n")
	got := Normalize(input)
	want := []string{
		"The basement wall shows a severe crack.",
		"Mold growth was noted behind the units.",
	}
	if !reflect.DeepEqual(sentenceTexts(got), want) {
		t.Errorf("texts = %v, want %v", sentenceTexts(got), want)
	}
}

func TestNormalizeEmptyAfterFiltering(t *testing.T) {
	got := Normalize("Page 1 of 2\nCONFIDENTIAL\n7\n")
	if got == nil {
		t.Fatal("Normalize returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("expected no sentences, got %v", sentenceTexts(got))
	}
}
