// Package textnorm prepares raw survey text for defect detection. It strips
// boilerplate lines left over from document extraction, collapses whitespace
// and splits the remaining text into sentences with stable indices.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Output types
// ---------------------------------------------------------------------------

// Sentence is a single normalized sentence. Index is the zero-based position
// of the sentence within its document and is stable for identical input,
// which makes it usable as a deduplication key downstream.
type Sentence struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ---------------------------------------------------------------------------
// Boilerplate filtering
// ---------------------------------------------------------------------------

// minContentLen is the shortest line worth keeping. Survey extractions leave
// stray page numbers and orphaned glyphs shorter than this.
const minContentLen = 4

// skipMarkers flags lines that are headers, footers or legal notices rather
// than findings. Survey PDFs repeat their title block and pagination on every
// page, so any line carrying one of these is dropped wholesale.
var skipMarkers = []string{
	"page",
	"report",
	"survey",
	"date:",
	"confidential",
	"copyright",
}

// Clean removes boilerplate lines from extracted document text. Lines are
// trimmed, then dropped when they are shorter than minContentLen, consist
// only of digits, or contain one of the skipMarkers (case-insensitive).
// Surviving lines are rejoined with newlines in their original order.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < minContentLen || isDigits(line) {
			continue
		}
		lower := strings.ToLower(line)
		if containsAny(lower, skipMarkers) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Sentence splitting
// ---------------------------------------------------------------------------

// Split breaks text into sentences. A boundary is a run of '.', '!' or '?'
// followed by whitespace or end of input, so decimal points and dotted
// abbreviations inside a token do not end a sentence. Consecutive whitespace
// collapses to a single space, control characters are scrubbed, and segments
// without a single letter or digit are dropped. Sentence text keeps its
// original casing and terminal punctuation.
//
// Empty or whitespace-only input yields an empty, non-nil slice; callers
// treat zero sentences as a valid "nothing to analyze" outcome.
func Split(text string) []Sentence {
	text = norm.NFC.String(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	collapsed := strings.Join(strings.Fields(text), " ")

	sentences := make([]Sentence, 0, 8)
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if hasContent(s) {
			sentences = append(sentences, Sentence{Index: len(sentences), Text: s})
		}
	}

	runes := []rune(collapsed)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if !isTerminal(runes[i]) {
			continue
		}
		// Absorb the rest of the punctuation run ("?!", "...").
		for i+1 < len(runes) && isTerminal(runes[i+1]) {
			i++
			b.WriteRune(runes[i])
		}
		if i+1 >= len(runes) || runes[i+1] == ' ' {
			flush()
			i++ // consume the separating space
		}
	}
	flush()
	return sentences
}

// Normalize runs the full pipeline: boilerplate removal, whitespace
// collapsing and sentence splitting.
func Normalize(text string) []Sentence {
	return Split(Clean(text))
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// hasContent reports whether s carries at least one letter or digit. Segments
// that are pure punctuation are bullet markers or ellipses, not findings.
func hasContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
