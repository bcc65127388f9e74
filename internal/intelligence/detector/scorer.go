package detector

import (
	"math"
	"strings"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// ---------------------------------------------------------------------------
// Confidence scoring
// ---------------------------------------------------------------------------

// Each severity owns a confidence band. A match's confidence always lands
// inside its severity's band, so confidence never contradicts severity when
// results are sorted or filtered.
const (
	highBandFloor   = 0.85
	highBandCeil    = 1.00
	mediumBandFloor = 0.55
	mediumBandCeil  = 0.84
	lowBandFloor    = 0.25
	lowBandCeil     = 0.54

	// Specificity bonuses on top of the band floor. Multi-word phrases and
	// longer keywords are less ambiguous, so they score higher than the
	// single words they contain and win same-severity deduplication.
	phraseBonus    = 0.03
	lengthBonus    = 0.001
	lengthBonusCap = 20
)

// severityBand returns the confidence floor and ceiling for a severity.
// Unknown severities fall into the Low band.
func severityBand(s taxonomy.Severity) (lo, hi float64) {
	switch s {
	case taxonomy.SeverityHigh:
		return highBandFloor, highBandCeil
	case taxonomy.SeverityMedium:
		return mediumBandFloor, mediumBandCeil
	default:
		return lowBandFloor, lowBandCeil
	}
}

// ruleConfidence computes the rule-only confidence for a keyword match: the
// severity band floor plus specificity bonuses, capped at the band ceiling.
// The value depends only on the rule, never on the sentence, which keeps
// identical inputs scoring identically.
func ruleConfidence(rule taxonomy.KeywordRule) float64 {
	lo, hi := severityBand(rule.Severity)
	score := lo
	score += phraseBonus * float64(len(strings.Fields(rule.Keyword))-1)
	n := len(rule.Keyword)
	if n > lengthBonusCap {
		n = lengthBonusCap
	}
	score += lengthBonus * float64(n)
	if score > hi {
		score = hi
	}
	return score
}

// blend folds a classifier probability into the rule confidence using the
// configured weight, then clamps the result back into the severity band. The
// classifier can move a score within its band but never out of it.
func blend(ruleScore, modelScore, weight float64, severity taxonomy.Severity) float64 {
	score := weight*modelScore + (1-weight)*ruleScore
	lo, hi := severityBand(severity)
	if score < lo {
		score = lo
	}
	if score > hi {
		score = hi
	}
	return score
}

// round3 trims float noise to three decimals for stable serialized output.
func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
