package detector

import (
	"strings"
	"unicode"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/internal/intelligence/textnorm"
)

// ---------------------------------------------------------------------------
// Raw matches
// ---------------------------------------------------------------------------

// rawMatch is a single (sentence, rule) hit before scoring, attribution and
// deduplication. pos is the byte offset of the keyword's first occurrence in
// the lowered sentence; the area attributor uses it to find the closest
// area mention.
type rawMatch struct {
	rule     taxonomy.KeywordRule
	sentence textnorm.Sentence
	lower    string
	pos      int
}

// ---------------------------------------------------------------------------
// Matcher
// ---------------------------------------------------------------------------

// matcher scans sentences against the full rule set. Every rule is evaluated
// for every sentence; one sentence can legitimately describe defects of
// several categories, so there is no early termination.
type matcher struct {
	rules   []taxonomy.KeywordRule
	mode    MatchMode
	phrases [][]string // rule keywords pre-tokenized for token mode
}

func newMatcher(rules []taxonomy.KeywordRule, mode MatchMode) *matcher {
	m := &matcher{rules: rules, mode: mode}
	if mode == ModeToken {
		m.phrases = make([][]string, len(rules))
		for i, r := range rules {
			tokens := tokenize(r.Keyword)
			phrase := make([]string, len(tokens))
			for j, t := range tokens {
				phrase[j] = t.text
			}
			m.phrases[i] = phrase
		}
	}
	return m
}

// scan returns all raw matches across sentences, in sentence order then rule
// order. That ordering is what makes downstream tie-breaks deterministic.
func (m *matcher) scan(sentences []textnorm.Sentence) []rawMatch {
	matches := make([]rawMatch, 0, len(sentences))
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence.Text)
		var tokens []token
		if m.mode == ModeToken {
			tokens = tokenize(lower)
		}
		for i, rule := range m.rules {
			pos := -1
			switch m.mode {
			case ModeToken:
				pos = findTokenPhrase(tokens, m.phrases[i])
			default:
				pos = strings.Index(lower, rule.Keyword)
			}
			if pos < 0 {
				continue
			}
			matches = append(matches, rawMatch{
				rule:     rule,
				sentence: sentence,
				lower:    lower,
				pos:      pos,
			})
		}
	}
	return matches
}

// ---------------------------------------------------------------------------
// Tokenization
// ---------------------------------------------------------------------------

// token is a maximal run of letters and digits with its byte offset.
type token struct {
	text  string
	start int
}

func tokenize(s string) []token {
	var tokens []token
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{text: s[start:i], start: start})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: s[start:], start: start})
	}
	return tokens
}

// findTokenPhrase locates the first consecutive occurrence of phrase within
// tokens and returns the byte offset of its first word, or -1. A hyphenated
// keyword such as "load-bearing" tokenizes to two words and therefore also
// matches the spaced spelling.
func findTokenPhrase(tokens []token, phrase []string) int {
	if len(phrase) == 0 || len(tokens) < len(phrase) {
		return -1
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		matched := true
		for j, word := range phrase {
			if tokens[i+j].text != word {
				matched = false
				break
			}
		}
		if matched {
			return tokens[i].start
		}
	}
	return -1
}
