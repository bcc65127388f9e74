// Package taxonomy defines the defect classification vocabulary: the fixed
// set of defect categories, per-keyword severity grades, and the rule set the
// matcher scans sentences with. A Taxonomy is immutable once built, so a
// single instance can back any number of concurrent analyses.
package taxonomy

import (
	"strings"

	"github.com/defectwise/defectwise/pkg/errors"
)

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Category identifies one of the seven defect classes. The string value is
// the display name used in reports, summaries and API payloads.
type Category string

const (
	CategoryStructural        Category = "Structural"
	CategoryMoistureDamp      Category = "Moisture & Damp"
	CategoryElectrical        Category = "Electrical"
	CategoryPlumbing          Category = "Plumbing"
	CategoryMoldFungus        Category = "Mold & Fungus"
	CategoryCorrosionRust     Category = "Corrosion & Rust"
	CategoryGeneralStructural Category = "General Structural"
)

// Categories returns all categories in canonical display order.
func Categories() []Category {
	return []Category{
		CategoryStructural,
		CategoryMoistureDamp,
		CategoryElectrical,
		CategoryPlumbing,
		CategoryMoldFungus,
		CategoryCorrosionRust,
		CategoryGeneralStructural,
	}
}

func (c Category) String() string {
	return string(c)
}

// Valid reports whether c is one of the seven known categories.
func (c Category) Valid() bool {
	_, ok := ParseCategory(string(c))
	return ok
}

// ParseCategory resolves a category from its display name, ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories() {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Severity
// ---------------------------------------------------------------------------

// Severity grades how urgent a defect finding is.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Severities returns all severities from most to least urgent.
func Severities() []Severity {
	return []Severity{SeverityHigh, SeverityMedium, SeverityLow}
}

func (s Severity) String() string {
	return string(s)
}

// Rank orders severities for comparison; higher is more urgent. Unknown
// severities rank zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() != 0
}

// ParseSeverity resolves a severity from its name, ignoring case and
// surrounding whitespace.
func ParseSeverity(s string) (Severity, bool) {
	s = strings.TrimSpace(s)
	for _, sev := range Severities() {
		if strings.EqualFold(s, string(sev)) {
			return sev, true
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// KeywordRule binds a single keyword or phrase to the category it signals
// and the severity it carries. Keywords are stored lowercase; matching is
// case-insensitive.
type KeywordRule struct {
	Category Category `json:"category" yaml:"category"`
	Keyword  string   `json:"keyword" yaml:"keyword"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// Taxonomy is a validated, immutable rule set.
type Taxonomy struct {
	rules []KeywordRule
}

// New validates rules and builds a Taxonomy. Keywords are trimmed and
// lowercased; category and severity names may arrive in any casing. Rule
// order is preserved and serves as the final tie-break between matches of
// equal severity and confidence, so more specific phrases should be listed
// before the single words they contain.
func New(rules []KeywordRule) (*Taxonomy, error) {
	if len(rules) == 0 {
		return nil, errors.New(errors.ErrCodeTaxonomyNoRules, "taxonomy: rule set is empty")
	}
	out := make([]KeywordRule, 0, len(rules))
	for i, r := range rules {
		keyword := strings.ToLower(strings.TrimSpace(r.Keyword))
		if keyword == "" {
			return nil, errors.Newf(errors.ErrCodeTaxonomyEmptyKeyword,
				"taxonomy: rule %d has an empty keyword", i)
		}
		category, ok := ParseCategory(string(r.Category))
		if !ok {
			return nil, errors.Newf(errors.ErrCodeTaxonomyUnknownCategory,
				"taxonomy: rule %d (%q) has unknown category %q", i, keyword, r.Category)
		}
		severity, ok := ParseSeverity(string(r.Severity))
		if !ok {
			return nil, errors.Newf(errors.ErrCodeTaxonomyUnknownSeverity,
				"taxonomy: rule %d (%q) has unknown severity %q", i, keyword, r.Severity)
		}
		out = append(out, KeywordRule{Category: category, Keyword: keyword, Severity: severity})
	}
	return &Taxonomy{rules: out}, nil
}

// Rules returns a copy of the rule set in its original order.
func (t *Taxonomy) Rules() []KeywordRule {
	out := make([]KeywordRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules.
func (t *Taxonomy) Len() int {
	return len(t.rules)
}

// CountByCategory returns how many rules each category carries. Categories
// with no rules are absent from the map.
func (t *Taxonomy) CountByCategory() map[Category]int {
	counts := make(map[Category]int, len(Categories()))
	for _, r := range t.rules {
		counts[r.Category]++
	}
	return counts
}
