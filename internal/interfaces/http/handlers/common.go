// Package handlers holds the HTTP handlers behind the chi router. Every
// response uses the shared APIResponse envelope, and error codes map to
// HTTP statuses through pkg/errors.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

// maxPageSize caps page_size from the query string.
const maxPageSize = 100

// parsePagination reads page and page_size query parameters with defaults.
func parsePagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 20
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			pageSize = n
		}
	}
	return page, pageSize
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeData wraps data in the success envelope.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, common.APIResponse[any]{
		Success:   true,
		Data:      data,
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: common.NewTimestamp(),
	})
}

// writeError maps an error to its HTTP status through the pkg/errors code
// table. Server-side codes are masked with their default message so
// internals never leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = errors.DefaultMessageForCode(code)
	}

	writeJSON(w, status, common.APIResponse[any]{
		Success:   false,
		Error:     &common.ErrorDetail{Code: string(code), Message: message},
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: common.NewTimestamp(),
	})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, errors.CodeInvalidParam, "invalid request body")
	}
	return nil
}
