package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

// SearcherConfig holds search settings.
type SearcherConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	HighlightPreTag  string
	HighlightPostTag string
	ScrollKeepAlive  time.Duration
	ScrollBatchSize  int
}

// SearchRequest describes one query against an index.
type SearchRequest struct {
	Index          string
	Query          *Query
	Filters        []Filter
	Sort           []SortField
	Pagination     *Pagination
	Highlight      *HighlightConfig
	Aggregations   map[string]Aggregation
	SourceIncludes []string
	SourceExcludes []string
}

// Query is a recursive query clause.
type Query struct {
	QueryType          string // "match", "multi_match", "term", "terms", "range", "match_phrase" or "bool"
	Field              string
	Fields             []string
	Value              any
	Boost              float64
	Must               []Query
	Should             []Query
	MustNot            []Query
	MinimumShouldMatch string
}

// Filter is a non-scoring filter clause.
type Filter struct {
	Field      string
	FilterType string // "term", "terms", "range" or "exists"
	Value      any
	RangeFrom  any
	RangeTo    any
}

// SortField orders results by a field.
type SortField struct {
	Field string
	Order string // "asc" or "desc"
}

// Pagination selects a result window.
type Pagination struct {
	Offset int
	Limit  int
}

// HighlightConfig marks query matches in the listed fields.
type HighlightConfig struct {
	Fields            []string
	PreTag            string
	PostTag           string
	FragmentSize      int
	NumberOfFragments int
}

// Aggregation describes one aggregation, optionally nested.
type Aggregation struct {
	AggType         string // "terms", "date_histogram", "range", "avg" or "cardinality"
	Field           string
	Size            int
	Interval        string
	Ranges          []AggRange
	SubAggregations map[string]Aggregation
}

// AggRange is one bucket boundary of a range aggregation.
type AggRange struct {
	Key  string
	From any
	To   any
}

// SearchResult is a decoded search response.
type SearchResult struct {
	Total        int64
	MaxScore     float64
	Hits         []SearchHit
	Aggregations map[string]AggregationResult
	TookMs       int64
}

// SearchHit is one matching document.
type SearchHit struct {
	ID         string
	Score      float64
	Source     json.RawMessage
	Highlights map[string][]string
	Sort       []any
}

// AggregationResult holds either buckets or a single metric value.
type AggregationResult struct {
	Buckets []AggBucket
	Value   *float64
}

// AggBucket is one bucket of a bucketing aggregation.
type AggBucket struct {
	Key             any
	KeyAsString     string
	DocCount        int64
	SubAggregations map[string]AggregationResult
}

// Searcher executes queries against the defect index.
type Searcher struct {
	client *Client
	config SearcherConfig
	logger logging.Logger
}

// NewSearcher builds a Searcher with defaults filled in.
func NewSearcher(client *Client, cfg SearcherConfig, logger logging.Logger) *Searcher {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.HighlightPreTag == "" {
		cfg.HighlightPreTag = "<em>"
	}
	if cfg.HighlightPostTag == "" {
		cfg.HighlightPostTag = "</em>"
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = 5 * time.Minute
	}
	if cfg.ScrollBatchSize <= 0 {
		cfg.ScrollBatchSize = 500
	}
	return &Searcher{client: client, config: cfg, logger: logger}
}

// Search executes req and returns the decoded result.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Index == "" {
		return nil, appErrors.New(appErrors.ErrCodeValidation, "opensearch: search index is empty")
	}

	if req.Pagination == nil {
		req.Pagination = &Pagination{Limit: s.config.DefaultPageSize}
	}
	if req.Pagination.Limit <= 0 {
		req.Pagination.Limit = s.config.DefaultPageSize
	}
	if req.Pagination.Limit > s.config.MaxPageSize {
		req.Pagination.Limit = s.config.MaxPageSize
	}
	if req.Pagination.Offset < 0 {
		req.Pagination.Offset = 0
	}

	body, err := s.marshalDSL(req)
	if err != nil {
		return nil, err
	}

	osReq := opensearchapi.SearchRequest{Index: []string{req.Index}, Body: bytes.NewReader(body)}
	start := time.Now()
	resp, err := osReq.Do(ctx, s.client.Underlying())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, appErrors.New(appErrors.ErrCodeTimeout, "opensearch: search timed out")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: search request")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, apiError(resp, appErrors.ErrCodeSearchQueryFailed, "search")
	}

	result, err := s.parseSearchResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search executed",
		logging.String("index", req.Index),
		logging.Int64("hits", result.Total),
		logging.Duration("took", time.Since(start)))
	return result, nil
}

// Count returns the number of documents matching the query and filters.
func (s *Searcher) Count(ctx context.Context, index string, query *Query, filters []Filter) (int64, error) {
	dsl := s.buildQueryDSL(SearchRequest{Query: query, Filters: filters})
	// The count API accepts only the query clause.
	countDSL := map[string]any{}
	if q, ok := dsl["query"]; ok {
		countDSL["query"] = q
	}

	body, err := json.Marshal(countDSL)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal count query")
	}

	req := opensearchapi.CountRequest{Index: []string{index}, Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, s.client.Underlying())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: count request")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, apiError(resp, appErrors.ErrCodeSearchQueryFailed, "count")
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: decode count response")
	}
	return countResp.Count, nil
}

// ScrollSearch streams every match through batchHandler in scroll batches,
// used by exports that outgrow a result page. The scroll context is
// cleared on every exit path.
func (s *Searcher) ScrollSearch(ctx context.Context, req SearchRequest, batchHandler func(hits []SearchHit) error) error {
	if req.Index == "" {
		return appErrors.New(appErrors.ErrCodeValidation, "opensearch: search index is empty")
	}

	batchSize := s.config.ScrollBatchSize
	if req.Pagination != nil && req.Pagination.Limit > 0 {
		batchSize = req.Pagination.Limit
	}
	req.Pagination = nil

	dsl := s.buildQueryDSL(req)
	dsl["size"] = batchSize
	body, err := json.Marshal(dsl)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal scroll query")
	}

	osReq := opensearchapi.SearchRequest{
		Index:  []string{req.Index},
		Body:   bytes.NewReader(body),
		Scroll: s.config.ScrollKeepAlive,
	}
	resp, err := osReq.Do(ctx, s.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: open scroll")
	}

	page, err := s.decodeScrollPage(resp)
	if err != nil {
		return err
	}
	scrollID := page.scrollID

	for len(page.hits) > 0 {
		if err := batchHandler(page.hits); err != nil {
			s.clearScroll(ctx, scrollID)
			return err
		}

		scrollReq := opensearchapi.ScrollRequest{ScrollID: scrollID, Scroll: s.config.ScrollKeepAlive}
		resp, err := scrollReq.Do(ctx, s.client.Underlying())
		if err != nil {
			s.clearScroll(ctx, scrollID)
			return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: continue scroll")
		}
		page, err = s.decodeScrollPage(resp)
		if err != nil {
			s.clearScroll(ctx, scrollID)
			return err
		}
		if page.scrollID != "" {
			scrollID = page.scrollID
		}
	}

	return s.clearScroll(ctx, scrollID)
}

type scrollPage struct {
	scrollID string
	hits     []SearchHit
}

func (s *Searcher) decodeScrollPage(resp *opensearchapi.Response) (*scrollPage, error) {
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, apiError(resp, appErrors.ErrCodeSearchQueryFailed, "scroll")
	}

	var raw searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: decode scroll response")
	}
	return &scrollPage{scrollID: raw.ScrollID, hits: raw.searchHits()}, nil
}

func (s *Searcher) clearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	req := opensearchapi.ClearScrollRequest{ScrollID: []string{scrollID}}
	resp, err := req.Do(ctx, s.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: clear scroll")
	}
	resp.Body.Close()
	return nil
}

func (s *Searcher) marshalDSL(req SearchRequest) ([]byte, error) {
	body, err := json.Marshal(s.buildQueryDSL(req))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal query")
	}
	return body, nil
}

func (s *Searcher) buildQueryDSL(req SearchRequest) map[string]any {
	dsl := map[string]any{}

	var queryMap map[string]any
	if req.Query != nil {
		queryMap = buildQuery(req.Query)
	}

	if len(req.Filters) > 0 {
		filterClauses := make([]map[string]any, len(req.Filters))
		for i, f := range req.Filters {
			filterClauses[i] = buildFilter(f)
		}
		boolQuery := map[string]any{"filter": filterClauses}
		if queryMap != nil {
			boolQuery["must"] = queryMap
		} else {
			boolQuery["must"] = map[string]any{"match_all": map[string]any{}}
		}
		queryMap = map[string]any{"bool": boolQuery}
	}

	if queryMap != nil {
		dsl["query"] = queryMap
	}

	if req.Pagination != nil {
		dsl["from"] = req.Pagination.Offset
		dsl["size"] = req.Pagination.Limit
	}

	if len(req.Sort) > 0 {
		sortList := make([]map[string]any, len(req.Sort))
		for i, sf := range req.Sort {
			sortList[i] = map[string]any{sf.Field: map[string]any{"order": sf.Order}}
		}
		dsl["sort"] = sortList
	}

	if req.Highlight != nil {
		fields := map[string]any{}
		for _, f := range req.Highlight.Fields {
			fields[f] = map[string]any{}
		}
		preTag := req.Highlight.PreTag
		if preTag == "" {
			preTag = s.config.HighlightPreTag
		}
		postTag := req.Highlight.PostTag
		if postTag == "" {
			postTag = s.config.HighlightPostTag
		}
		highlight := map[string]any{
			"fields":    fields,
			"pre_tags":  []string{preTag},
			"post_tags": []string{postTag},
		}
		if req.Highlight.FragmentSize > 0 {
			highlight["fragment_size"] = req.Highlight.FragmentSize
		}
		if req.Highlight.NumberOfFragments > 0 {
			highlight["number_of_fragments"] = req.Highlight.NumberOfFragments
		}
		dsl["highlight"] = highlight
	}

	if len(req.Aggregations) > 0 {
		dsl["aggs"] = buildAggregations(req.Aggregations)
	}

	if len(req.SourceIncludes) > 0 || len(req.SourceExcludes) > 0 {
		src := map[string]any{}
		if len(req.SourceIncludes) > 0 {
			src["includes"] = req.SourceIncludes
		}
		if len(req.SourceExcludes) > 0 {
			src["excludes"] = req.SourceExcludes
		}
		dsl["_source"] = src
	}

	return dsl
}

func buildQuery(q *Query) map[string]any {
	switch q.QueryType {
	case "match":
		clause := map[string]any{"query": q.Value}
		if q.Boost > 0 {
			clause["boost"] = q.Boost
		}
		return map[string]any{"match": map[string]any{q.Field: clause}}
	case "multi_match":
		return map[string]any{"multi_match": map[string]any{"query": q.Value, "fields": q.Fields}}
	case "term":
		return map[string]any{"term": map[string]any{q.Field: q.Value}}
	case "terms":
		return map[string]any{"terms": map[string]any{q.Field: q.Value}}
	case "range":
		return map[string]any{"range": map[string]any{q.Field: q.Value}}
	case "match_phrase":
		return map[string]any{"match_phrase": map[string]any{q.Field: q.Value}}
	case "bool":
		boolQ := map[string]any{}
		if len(q.Must) > 0 {
			boolQ["must"] = buildSubQueries(q.Must)
		}
		if len(q.Should) > 0 {
			boolQ["should"] = buildSubQueries(q.Should)
		}
		if len(q.MustNot) > 0 {
			boolQ["must_not"] = buildSubQueries(q.MustNot)
		}
		if q.MinimumShouldMatch != "" {
			boolQ["minimum_should_match"] = q.MinimumShouldMatch
		}
		return map[string]any{"bool": boolQ}
	}
	return nil
}

func buildSubQueries(qs []Query) []map[string]any {
	clauses := make([]map[string]any, len(qs))
	for i := range qs {
		clauses[i] = buildQuery(&qs[i])
	}
	return clauses
}

func buildFilter(f Filter) map[string]any {
	switch f.FilterType {
	case "term":
		return map[string]any{"term": map[string]any{f.Field: f.Value}}
	case "terms":
		return map[string]any{"terms": map[string]any{f.Field: f.Value}}
	case "range":
		rangeMap := map[string]any{}
		if f.RangeFrom != nil {
			rangeMap["gte"] = f.RangeFrom
		}
		if f.RangeTo != nil {
			rangeMap["lte"] = f.RangeTo
		}
		return map[string]any{"range": map[string]any{f.Field: rangeMap}}
	case "exists":
		return map[string]any{"exists": map[string]any{"field": f.Field}}
	}
	return nil
}

func buildAggregations(aggs map[string]Aggregation) map[string]any {
	dsl := map[string]any{}
	for name, agg := range aggs {
		aggDSL := map[string]any{}
		switch agg.AggType {
		case "terms":
			size := agg.Size
			if size <= 0 {
				size = 10
			}
			aggDSL["terms"] = map[string]any{"field": agg.Field, "size": size}
		case "date_histogram":
			aggDSL["date_histogram"] = map[string]any{
				"field":             agg.Field,
				"calendar_interval": agg.Interval,
			}
		case "range":
			ranges := make([]map[string]any, len(agg.Ranges))
			for i, r := range agg.Ranges {
				entry := map[string]any{"key": r.Key}
				if r.From != nil {
					entry["from"] = r.From
				}
				if r.To != nil {
					entry["to"] = r.To
				}
				ranges[i] = entry
			}
			aggDSL["range"] = map[string]any{"field": agg.Field, "ranges": ranges}
		case "avg":
			aggDSL["avg"] = map[string]any{"field": agg.Field}
		case "cardinality":
			aggDSL["cardinality"] = map[string]any{"field": agg.Field}
		}

		if len(agg.SubAggregations) > 0 {
			aggDSL["aggs"] = buildAggregations(agg.SubAggregations)
		}
		dsl[name] = aggDSL
	}
	return dsl
}

type searchAPIResponse struct {
	ScrollID string `json:"_scroll_id"`
	Took     int64  `json:"took"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		MaxScore float64        `json:"max_score"`
		Hits     []searchAPIHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type searchAPIHit struct {
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
	Sort      []any               `json:"sort"`
}

func (r *searchAPIResponse) searchHits() []SearchHit {
	hits := make([]SearchHit, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		hits = append(hits, SearchHit{
			ID:         h.ID,
			Score:      h.Score,
			Source:     h.Source,
			Highlights: h.Highlight,
			Sort:       h.Sort,
		})
	}
	return hits
}

func (s *Searcher) parseSearchResponse(body io.Reader) (*SearchResult, error) {
	var resp searchAPIResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: decode search response")
	}

	result := &SearchResult{
		Total:    resp.Hits.Total.Value,
		MaxScore: resp.Hits.MaxScore,
		Hits:     resp.searchHits(),
		TookMs:   resp.Took,
	}

	if len(resp.Aggregations) > 0 {
		result.Aggregations = make(map[string]AggregationResult, len(resp.Aggregations))
		for name, raw := range resp.Aggregations {
			result.Aggregations[name] = parseAggregationResult(raw)
		}
	}
	return result, nil
}

func parseAggregationResult(raw json.RawMessage) AggregationResult {
	var decoded struct {
		Value   *float64 `json:"value"`
		Buckets []struct {
			Key         any     `json:"key"`
			KeyAsString string  `json:"key_as_string"`
			DocCount    int64   `json:"doc_count"`
			Extra       map[string]json.RawMessage `json:"-"`
		} `json:"buckets"`
	}

	res := AggregationResult{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return res
	}
	res.Value = decoded.Value

	if len(decoded.Buckets) == 0 {
		return res
	}

	// Re-decode the buckets loosely to pick up nested aggregations.
	var loose struct {
		Buckets []map[string]json.RawMessage `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		loose.Buckets = nil
	}

	for i, b := range decoded.Buckets {
		bucket := AggBucket{Key: b.Key, KeyAsString: b.KeyAsString, DocCount: b.DocCount}
		if bucket.KeyAsString == "" {
			bucket.KeyAsString = stringifyKey(b.Key)
		}
		if i < len(loose.Buckets) {
			for k, v := range loose.Buckets[i] {
				if k == "key" || k == "key_as_string" || k == "doc_count" {
					continue
				}
				if !looksLikeAggregation(v) {
					continue
				}
				if bucket.SubAggregations == nil {
					bucket.SubAggregations = make(map[string]AggregationResult)
				}
				bucket.SubAggregations[k] = parseAggregationResult(v)
			}
		}
		res.Buckets = append(res.Buckets, bucket)
	}
	return res
}

func looksLikeAggregation(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, hasBuckets := probe["buckets"]
	_, hasValue := probe["value"]
	return hasBuckets || hasValue
}

func stringifyKey(key any) string {
	switch v := key.(type) {
	case string:
		return v
	case float64:
		return json.Number(jsonNumberString(v)).String()
	default:
		b, err := json.Marshal(key)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func jsonNumberString(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
