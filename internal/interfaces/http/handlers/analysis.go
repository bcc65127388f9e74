package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/pkg/errors"
)

// maxUploadSize bounds multipart document uploads.
const maxUploadSize = 20 << 20 // 20 MiB

// AnalysisHandler exposes the analysis pipeline over HTTP.
type AnalysisHandler struct {
	svc    appAnalysis.Service
	logger logging.Logger
}

// NewAnalysisHandler builds the handler.
func NewAnalysisHandler(svc appAnalysis.Service, logger logging.Logger) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, logger: logger}
}

type analyzeTextRequest struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// Create handles POST /analyses: synchronous analysis of inline text.
func (h *AnalysisHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req analyzeTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.svc.AnalyzeText(r.Context(), appAnalysis.AnalyzeTextInput{
		Filename: req.Filename,
		Text:     req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	writeData(w, r, status, out)
}

// Upload handles POST /analyses/upload: synchronous analysis of a
// multipart document.
func (h *AnalysisHandler) Upload(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.svc.AnalyzeDocument(r.Context(), appAnalysis.AnalyzeDocumentInput{
		Filename: filename,
		Data:     data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	writeData(w, r, status, out)
}

// Submit handles POST /analyses/submit: the document is archived and
// queued, and the pending analysis is acknowledged with 202.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.svc.SubmitDocument(r.Context(), appAnalysis.SubmitDocumentInput{
		Filename: filename,
		Data:     data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if out.Duplicate {
		status = http.StatusOK
	}
	writeData(w, r, status, out)
}

// List handles GET /analyses with optional status filter and pagination.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	result, err := h.svc.List(r.Context(), appAnalysis.ListInput{
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

// Get handles GET /analyses/{analysisID}.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, a)
}

// Delete handles DELETE /analyses/{analysisID}.
func (h *AnalysisHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "analysisID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reanalyze handles POST /analyses/{analysisID}/reanalyze.
func (h *AnalysisHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Reanalyze(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, a)
}

// readUpload pulls the "file" part out of a multipart form.
func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return "", nil, errors.Wrap(err, errors.CodeInvalidParam, "invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CodeInvalidParam, "missing file field")
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CodeInvalidParam, "read uploaded file")
	}
	if len(data) > maxUploadSize {
		return "", nil, errors.Newf(errors.CodeInvalidParam, "uploaded file exceeds %d bytes", maxUploadSize)
	}
	return header.Filename, data, nil
}
