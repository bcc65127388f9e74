package handlers

import (
	"net/http"

	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// TaxonomyHandler serves the read-only classification vocabulary so clients
// can build filter dropdowns without hardcoding category names.
type TaxonomyHandler struct {
	tax   *taxonomy.Taxonomy
	areas *detector.AreaVocabulary
}

// NewTaxonomyHandler builds the handler around an immutable rule set.
func NewTaxonomyHandler(tax *taxonomy.Taxonomy, areas *detector.AreaVocabulary) *TaxonomyHandler {
	return &TaxonomyHandler{tax: tax, areas: areas}
}

type categoryInfo struct {
	Name      string `json:"name"`
	RuleCount int    `json:"rule_count"`
}

type taxonomyResponse struct {
	Categories []categoryInfo `json:"categories"`
	Severities []string       `json:"severities"`
	Areas      []string       `json:"areas"`
	RuleCount  int            `json:"rule_count"`
}

// Get handles GET /taxonomy.
func (h *TaxonomyHandler) Get(w http.ResponseWriter, r *http.Request) {
	counts := h.tax.CountByCategory()

	categories := make([]categoryInfo, 0, len(taxonomy.Categories()))
	for _, c := range taxonomy.Categories() {
		categories = append(categories, categoryInfo{
			Name:      c.String(),
			RuleCount: counts[c],
		})
	}

	severities := make([]string, 0, len(taxonomy.Severities()))
	for _, s := range taxonomy.Severities() {
		severities = append(severities, s.String())
	}

	writeData(w, r, http.StatusOK, taxonomyResponse{
		Categories: categories,
		Severities: severities,
		Areas:      h.areas.Names(),
		RuleCount:  h.tax.Len(),
	})
}
