// Package reporting builds read-side views over stored analyses: the
// dashboard snapshot, CSV export of one analysis, and full-text defect
// search. It never mutates analyses; the write side lives in the analysis
// application service.
package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	domain "github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/database/redis"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/infrastructure/search/opensearch"
	"github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

const (
	// dashboardCacheKey sits under the stats: prefix that the analysis
	// service invalidates whenever results change.
	dashboardCacheKey = "stats:dashboard"
	dashboardCacheTTL = 30 * time.Second

	// recentLimit is how many analyses the dashboard lists.
	recentLimit = 10

	// tallyScanLimit bounds the repository fallback when search is down.
	tallyScanLimit = 200

	// sentenceExportLimit is the widest sentence context a CSV cell holds.
	sentenceExportLimit = 120
)

// Priority bands for a defect count, as surveyors triage reports.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PriorityBand grades a defect count into a triage band.
func PriorityBand(defects int64) string {
	switch {
	case defects >= 15:
		return PriorityHigh
	case defects >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Searcher is the slice of the search layer the read side uses.
type Searcher interface {
	Search(ctx context.Context, req opensearch.SearchRequest) (*opensearch.SearchResult, error)
}

// Dashboard is the aggregate snapshot served to the UI and the CLI.
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

// RecentAnalysis is one row of the dashboard's recent list.
type RecentAnalysis struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Defects   int       `json:"defects"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchInput narrows a defect search. Empty fields are not filtered on.
type SearchInput struct {
	Query      string
	Category   string
	Severity   string
	Area       string
	AnalysisID string
	Page       int
	PageSize   int
}

// DefectHit is one search result with its relevance context.
type DefectHit struct {
	opensearch.DefectDocument
	Score      float64  `json:"score"`
	Highlights []string `json:"highlights,omitempty"`
}

// SearchOutput is a page of defect hits.
type SearchOutput struct {
	Hits     []DefectHit `json:"hits"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	TookMs   int64       `json:"took_ms"`
}

// Service is the reporting read surface.
type Service interface {
	Dashboard(ctx context.Context) (*Dashboard, error)
	ExportCSV(ctx context.Context, analysisID string, w io.Writer) error
	SearchDefects(ctx context.Context, in SearchInput) (*SearchOutput, error)
}

// Deps wires the reporting collaborators. Repo is required; without a
// Searcher the dashboard falls back to repository tallies and defect search
// reports unavailable.
type Deps struct {
	Repo     domain.Repository
	Searcher Searcher
	Index    string
	Cache    redis.Cache
	Logger   logging.Logger
}

type serviceImpl struct {
	repo     domain.Repository
	searcher Searcher
	index    string
	cache    redis.Cache
	logger   logging.Logger
}

// NewService builds the reporting service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, errors.New(errors.CodeInvalidParam, "reporting service: repository is required")
	}
	if deps.Searcher != nil && deps.Index == "" {
		return nil, errors.New(errors.CodeInvalidParam, "reporting service: search index name is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &serviceImpl{
		repo:     deps.Repo,
		searcher: deps.Searcher,
		index:    deps.Index,
		cache:    deps.Cache,
		logger:   deps.Logger,
	}, nil
}

func (s *serviceImpl) Dashboard(ctx context.Context) (*Dashboard, error) {
	if s.cache != nil {
		var dash Dashboard
		err := s.cache.GetOrSet(ctx, dashboardCacheKey, &dash, dashboardCacheTTL, func(ctx context.Context) (interface{}, error) {
			return s.buildDashboard(ctx)
		})
		if err == nil {
			return &dash, nil
		}
		if err != redis.ErrCacheMiss {
			s.logger.Warn("dashboard cache unavailable", logging.Err(err))
		}
	}
	return s.buildDashboard(ctx)
}

func (s *serviceImpl) buildDashboard(ctx context.Context) (*Dashboard, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		ByStatus:       make(map[string]int64, len(counts)),
		ByCategory:     map[string]int64{},
		CategoryShares: map[string]float64{},
		BySeverity:     map[string]int64{},
		GeneratedAt:    time.Now().UTC(),
	}
	for status, n := range counts {
		dash.ByStatus[status.String()] = n
		dash.TotalAnalyses += n
	}

	recent, _, err := s.repo.List(ctx, domain.ListFilter{}, common.Pagination{Page: 1, PageSize: recentLimit})
	if err != nil {
		return nil, err
	}
	for _, a := range recent {
		dash.Recent = append(dash.Recent, RecentAnalysis{
			ID:        string(a.ID),
			Filename:  a.Filename,
			Status:    a.Status.String(),
			Defects:   a.DefectCount(),
			CreatedAt: a.CreatedAt,
		})
	}

	if err := s.tallyDefects(ctx, dash); err != nil {
		s.logger.Warn("defect tally via search failed, falling back to repository", logging.Err(err))
		if terr := s.tallyFromRepository(ctx, dash); terr != nil {
			return nil, terr
		}
	}

	if dash.TotalDefects > 0 {
		for category, n := range dash.ByCategory {
			dash.CategoryShares[category] = float64(int(float64(n)/float64(dash.TotalDefects)*1000+0.5)) / 10
		}
	}
	dash.Priority = PriorityBand(dash.TotalDefects)
	return dash, nil
}

// tallyDefects fills the category and severity breakdowns from terms
// aggregations over the defect index.
func (s *serviceImpl) tallyDefects(ctx context.Context, dash *Dashboard) error {
	if s.searcher == nil {
		return errors.New(errors.ErrCodeSearchUnavailable, "reporting: search is not configured")
	}
	result, err := s.searcher.Search(ctx, opensearch.SearchRequest{
		Index:      s.index,
		Pagination: &opensearch.Pagination{Offset: 0, Limit: 0},
		Aggregations: map[string]opensearch.Aggregation{
			"by_category": {AggType: "terms", Field: "category", Size: 50},
			"by_severity": {AggType: "terms", Field: "severity", Size: 10},
		},
	})
	if err != nil {
		return err
	}
	dash.TotalDefects = result.Total
	for _, bucket := range result.Aggregations["by_category"].Buckets {
		dash.ByCategory[bucketKey(bucket)] = bucket.DocCount
	}
	for _, bucket := range result.Aggregations["by_severity"].Buckets {
		dash.BySeverity[bucketKey(bucket)] = bucket.DocCount
	}
	return nil
}

// tallyFromRepository approximates the breakdowns from the most recent
// completed analyses when search is down. Bounded so the dashboard cannot
// drag the whole table through memory.
func (s *serviceImpl) tallyFromRepository(ctx context.Context, dash *Dashboard) error {
	items, _, err := s.repo.List(ctx,
		domain.ListFilter{Status: domain.StatusCompleted},
		common.Pagination{Page: 1, PageSize: tallyScanLimit})
	if err != nil {
		return err
	}
	for _, a := range items {
		if a.Result == nil {
			continue
		}
		dash.TotalDefects += int64(a.Result.TotalDefects)
		for category, n := range a.Result.Summary {
			dash.ByCategory[category] += int64(n)
		}
		for severity, n := range a.Result.CountBySeverity() {
			if n > 0 {
				dash.BySeverity[severity] += int64(n)
			}
		}
	}
	return nil
}

func (s *serviceImpl) ExportCSV(ctx context.Context, analysisID string, w io.Writer) error {
	a, err := s.repo.FindByID(ctx, common.ID(analysisID))
	if err != nil {
		return err
	}
	if a.Result == nil {
		return errors.Newf(errors.ErrCodeAnalysisInvalidState,
			"analysis %s has no result to export", a.ID)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category", "severity", "confidence", "area", "keyword", "sentence"}); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "reporting: write csv header")
	}
	for _, d := range a.Result.Defects {
		record := []string{
			string(d.Type),
			string(d.Severity),
			strconv.FormatFloat(d.Confidence, 'f', 2, 64),
			d.Area,
			d.Keyword,
			truncateRunes(d.Sentence, sentenceExportLimit),
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "reporting: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "reporting: flush csv")
	}
	return nil
}

func (s *serviceImpl) SearchDefects(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	if s.searcher == nil {
		return nil, errors.New(errors.ErrCodeSearchUnavailable, "reporting: search is not configured")
	}
	if in.Page <= 0 {
		in.Page = 1
	}
	if in.PageSize <= 0 {
		in.PageSize = 20
	}
	if in.PageSize > 100 {
		in.PageSize = 100
	}

	req := opensearch.SearchRequest{
		Index: s.index,
		Pagination: &opensearch.Pagination{
			Offset: (in.Page - 1) * in.PageSize,
			Limit:  in.PageSize,
		},
	}
	if in.Query != "" {
		req.Query = &opensearch.Query{QueryType: "match", Field: "sentence", Value: in.Query}
		req.Highlight = &opensearch.HighlightConfig{Fields: []string{"sentence"}}
	} else {
		// Browsing without a query reads newest findings first.
		req.Sort = []opensearch.SortField{{Field: "detected_at", Order: "desc"}}
	}
	for field, value := range map[string]string{
		"category":    in.Category,
		"severity":    in.Severity,
		"area":        in.Area,
		"analysis_id": in.AnalysisID,
	} {
		if value != "" {
			req.Filters = append(req.Filters, opensearch.Filter{
				Field: field, FilterType: "term", Value: value,
			})
		}
	}

	result, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &SearchOutput{
		Total:    result.Total,
		Page:     in.Page,
		PageSize: in.PageSize,
		TookMs:   result.TookMs,
	}
	for _, hit := range result.Hits {
		var doc opensearch.DefectDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			s.logger.Warn("skip malformed search hit",
				logging.String("doc_id", hit.ID),
				logging.Err(err))
			continue
		}
		out.Hits = append(out.Hits, DefectHit{
			DefectDocument: doc,
			Score:          hit.Score,
			Highlights:     hit.Highlights["sentence"],
		})
	}
	return out, nil
}

func bucketKey(b opensearch.AggBucket) string {
	if b.KeyAsString != "" {
		return b.KeyAsString
	}
	if s, ok := b.Key.(string); ok {
		return s
	}
	return ""
}

// truncateRunes cuts s to at most limit runes, marking the cut with an
// ellipsis inside the limit.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
