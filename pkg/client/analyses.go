package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/defectwise/defectwise/pkg/types/common"
)

// Defect is one finding inside an analysis result.
type Defect struct {
	Type       string  `json:"type"`
	Keyword    string  `json:"keyword"`
	Sentence   string  `json:"sentence"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Area       string  `json:"area"`
}

// AnalysisResult is the engine output attached to a completed analysis.
type AnalysisResult struct {
	Filename     string         `json:"filename"`
	Defects      []Defect       `json:"defects"`
	Summary      map[string]int `json:"summary"`
	TotalDefects int            `json:"total_defects"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Analysis is one stored analysis as the API serves it.
type Analysis struct {
	ID            string          `json:"id"`
	Filename      string          `json:"filename"`
	ContentHash   string          `json:"content_hash"`
	Status        string          `json:"status"`
	Result        *AnalysisResult `json:"result,omitempty"`
	SourceKey     string          `json:"source_key,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Outcome wraps an analysis with its duplicate flag: true means the server
// returned a prior analysis of identical content instead of rerunning.
type Outcome struct {
	Analysis  *Analysis `json:"analysis"`
	Duplicate bool      `json:"duplicate"`
}

// AnalysisPage is one page of a listing.
type AnalysisPage struct {
	Items      []*Analysis `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// ListOptions narrows and paginates a listing. Zero values are omitted.
type ListOptions struct {
	Status   string
	Page     int
	PageSize int
}

// AnalyzeText submits inline text for synchronous analysis.
func (c *Client) AnalyzeText(ctx context.Context, filename, text string) (*Outcome, error) {
	body := map[string]string{"filename": filename, "text": text}
	var envelope common.APIResponse[*Outcome]
	if err := c.post(ctx, "/api/v1/analyses", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Get fetches one analysis by ID.
func (c *Client) Get(ctx context.Context, analysisID string) (*Analysis, error) {
	var envelope common.APIResponse[*Analysis]
	if err := c.get(ctx, "/api/v1/analyses/"+url.PathEscape(analysisID), &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// List fetches a page of analyses.
func (c *Client) List(ctx context.Context, opts ListOptions) (*AnalysisPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	path := "/api/v1/analyses"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var envelope common.APIResponse[*AnalysisPage]
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Delete removes an analysis and everything derived from it.
func (c *Client) Delete(ctx context.Context, analysisID string) error {
	return c.delete(ctx, "/api/v1/analyses/"+url.PathEscape(analysisID))
}

// Reanalyze reruns the engine over an archived document.
func (c *Client) Reanalyze(ctx context.Context, analysisID string) (*Analysis, error) {
	var envelope common.APIResponse[*Analysis]
	if err := c.post(ctx, "/api/v1/analyses/"+url.PathEscape(analysisID)+"/reanalyze", nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
