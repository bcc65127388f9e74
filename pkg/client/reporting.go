package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/defectwise/defectwise/pkg/types/common"
)

// RecentAnalysis is one row of the dashboard's recent list.
type RecentAnalysis struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Defects   int       `json:"defects"`
	CreatedAt time.Time `json:"created_at"`
}

// Dashboard is the aggregate statistics snapshot.
type Dashboard struct {
	TotalAnalyses  int64              `json:"total_analyses"`
	ByStatus       map[string]int64   `json:"by_status"`
	TotalDefects   int64              `json:"total_defects"`
	ByCategory     map[string]int64   `json:"by_category"`
	CategoryShares map[string]float64 `json:"category_shares"`
	BySeverity     map[string]int64   `json:"by_severity"`
	Priority       string             `json:"priority"`
	Recent         []RecentAnalysis   `json:"recent"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// DefectHit is one defect search result.
type DefectHit struct {
	AnalysisID    string    `json:"analysis_id"`
	Filename      string    `json:"filename"`
	Category      string    `json:"category"`
	Severity      string    `json:"severity"`
	Area          string    `json:"area,omitempty"`
	Keyword       string    `json:"keyword"`
	Sentence      string    `json:"sentence"`
	SentenceIndex int       `json:"sentence_index"`
	Confidence    float64   `json:"confidence"`
	DetectedAt    time.Time `json:"detected_at"`
	Score         float64   `json:"score"`
	Highlights    []string  `json:"highlights,omitempty"`
}

// SearchResult is one page of defect hits.
type SearchResult struct {
	Hits     []DefectHit `json:"hits"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	TookMs   int64       `json:"took_ms"`
}

// SearchOptions narrows a defect search. Empty fields are not filtered on.
type SearchOptions struct {
	Query      string
	Category   string
	Severity   string
	Area       string
	AnalysisID string
	Page       int
	PageSize   int
}

// Dashboard fetches the aggregate statistics snapshot.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var envelope common.APIResponse[*Dashboard]
	if err := c.get(ctx, "/api/v1/stats/dashboard", &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Search queries the defect index.
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	q := url.Values{}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Severity != "" {
		q.Set("severity", opts.Severity)
	}
	if opts.Area != "" {
		q.Set("area", opts.Area)
	}
	if opts.AnalysisID != "" {
		q.Set("analysis_id", opts.AnalysisID)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}

	path := "/api/v1/defects/search"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var envelope common.APIResponse[*SearchResult]
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
