package detector

import "strings"

// ---------------------------------------------------------------------------
// Building-area attribution
// ---------------------------------------------------------------------------

// AreaGeneral labels defects whose sentence names no known building area.
const AreaGeneral = "general"

// AreaVocabulary maps defect sentences to building-area labels for spatial
// grouping. The list is an explicit ordered sequence: earlier entries win
// ties, which keeps attribution reproducible when several areas sit at the
// same distance from a keyword.
type AreaVocabulary struct {
	areas []string
}

// DefaultAreas returns the built-in vocabulary in priority order.
func DefaultAreas() *AreaVocabulary {
	return NewAreaVocabulary([]string{
		"basement",
		"foundation",
		"kitchen",
		"bathroom",
		"electrical",
		"exterior",
		"roof",
	})
}

// NewAreaVocabulary builds a vocabulary from area names in priority order.
// Names are trimmed and lowercased; empties are dropped.
func NewAreaVocabulary(areas []string) *AreaVocabulary {
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return &AreaVocabulary{areas: out}
}

// Names returns the vocabulary in priority order.
func (v *AreaVocabulary) Names() []string {
	out := make([]string, len(v.areas))
	copy(out, v.areas)
	return out
}

// Attribute picks the area label for a keyword found at byte offset pos in
// the lowered sentence. Every occurrence of every area name is considered
// and the one closest to the keyword wins, so a sentence that mentions the
// basement and the kitchen attributes each defect to its own area. Distance
// ties fall back to priority order, and a sentence with no area mention
// attributes to AreaGeneral. Attribution is advisory and never fails.
func (v *AreaVocabulary) Attribute(lowerSentence string, pos int) string {
	best := AreaGeneral
	bestDist := -1
	for _, area := range v.areas {
		from := 0
		for {
			i := strings.Index(lowerSentence[from:], area)
			if i < 0 {
				break
			}
			at := from + i
			dist := at - pos
			if dist < 0 {
				dist = -dist
			}
			if bestDist < 0 || dist < bestDist {
				bestDist = dist
				best = area
			}
			from = at + 1
		}
	}
	return best
}
