package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/defectwise/defectwise/internal/application/reporting"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
)

// ReportingHandler exposes the read-side views: dashboard, defect search
// and CSV export.
type ReportingHandler struct {
	svc    reporting.Service
	logger logging.Logger
}

// NewReportingHandler builds the handler.
func NewReportingHandler(svc reporting.Service, logger logging.Logger) *ReportingHandler {
	return &ReportingHandler{svc: svc, logger: logger}
}

// Dashboard handles GET /stats/dashboard.
func (h *ReportingHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.svc.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, dash)
}

// Search handles GET /defects/search.
func (h *ReportingHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := parsePagination(r)

	out, err := h.svc.SearchDefects(r.Context(), reporting.SearchInput{
		Query:      q.Get("q"),
		Category:   q.Get("category"),
		Severity:   q.Get("severity"),
		Area:       q.Get("area"),
		AnalysisID: q.Get("analysis_id"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, out)
}

// Export handles GET /analyses/{analysisID}/export, streaming the defect
// rows as a CSV attachment.
func (h *ReportingHandler) Export(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", exportFilename(analysisID)))

	if err := h.svc.ExportCSV(r.Context(), analysisID, w); err != nil {
		// The service validates before writing, so lookup and state
		// errors arrive while the headers are still unsent.
		w.Header().Del("Content-Disposition")
		writeError(w, r, err)
		return
	}
}

func exportFilename(analysisID string) string {
	base := strings.TrimSuffix(analysisID, filepath.Ext(analysisID))
	if base == "" {
		base = "analysis"
	}
	return base + "-defects.csv"
}
