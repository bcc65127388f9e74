package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

var (
	ErrIndexAlreadyExists = appErrors.New(appErrors.ErrCodeConflict, "opensearch: index already exists")
	ErrIndexNotFound      = appErrors.New(appErrors.ErrCodeNotFound, "opensearch: index not found")
	ErrDocumentNotFound   = appErrors.New(appErrors.ErrCodeNotFound, "opensearch: document not found")
)

// DefectsIndexSuffix names the defect sentence index; combine it with
// Client.IndexName for the full per-environment name.
const DefectsIndexSuffix = "defects"

// IndexMapping is the settings and mappings body for index creation.
type IndexMapping struct {
	Settings map[string]any `json:"settings,omitempty"`
	Mappings map[string]any `json:"mappings,omitempty"`
}

// BulkResult reports per-document outcomes of a bulk indexing run.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// BulkItemError ties a failed bulk entry to its document ID.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// DefectDocument is the shape stored in the defects index, one document
// per detected defect.
type DefectDocument struct {
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
}

// DefectDocumentID builds the deterministic document ID for one defect,
// so reindexing an analysis overwrites instead of duplicating.
func DefectDocumentID(analysisID string, position int) string {
	return fmt.Sprintf("%s-%d", analysisID, position)
}

// DefectsIndexMapping returns the index schema. The sentence field uses
// the english analyzer so "cracking" matches "crack"; everything the
// filters touch stays keyword.
func DefectsIndexMapping() IndexMapping {
	return IndexMapping{
		Settings: map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		Mappings: map[string]any{
			"properties": map[string]any{
				"analysis_id":    map[string]any{"type": "keyword"},
				"filename":       map[string]any{"type": "keyword"},
				"category":       map[string]any{"type": "keyword"},
				"severity":       map[string]any{"type": "keyword"},
				"area":           map[string]any{"type": "keyword"},
				"keyword":        map[string]any{"type": "keyword"},
				"sentence":       map[string]any{"type": "text", "analyzer": "english"},
				"sentence_index": map[string]any{"type": "integer"},
				"confidence":     map[string]any{"type": "float"},
				"detected_at":    map[string]any{"type": "date"},
			},
		},
	}
}

// IndexerConfig holds indexing settings.
type IndexerConfig struct {
	BulkBatchSize int
	RefreshPolicy string
}

// Indexer manages the defect index and document ingestion.
type Indexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
}

// NewIndexer builds an Indexer. RefreshPolicy defaults to "false"; tests
// use "true" so writes are visible immediately.
func NewIndexer(client *Client, cfg IndexerConfig, logger logging.Logger) *Indexer {
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	return &Indexer{client: client, config: cfg, logger: logger}
}

// CreateIndex creates index with the given mapping.
func (i *Indexer) CreateIndex(ctx context.Context, index string, mapping IndexMapping) error {
	exists, err := i.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return ErrIndexAlreadyExists
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal index mapping")
	}

	req := opensearchapi.IndicesCreateRequest{Index: index, Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: create index")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apiError(resp, appErrors.ErrCodeSearchIndexFailed, "create index")
	}
	i.logger.Info("index created", logging.String("index", index))
	return nil
}

// EnsureIndex creates index unless it already exists. Startup path.
func (i *Indexer) EnsureIndex(ctx context.Context, index string, mapping IndexMapping) error {
	err := i.CreateIndex(ctx, index, mapping)
	if stderrors.Is(err, ErrIndexAlreadyExists) {
		return nil
	}
	return err
}

// DeleteIndex removes an index.
func (i *Indexer) DeleteIndex(ctx context.Context, index string) error {
	req := opensearchapi.IndicesDeleteRequest{Index: []string{index}}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: delete index")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrIndexNotFound
	}
	if resp.IsError() {
		return apiError(resp, appErrors.ErrCodeSearchIndexFailed, "delete index")
	}
	i.logger.Warn("index deleted", logging.String("index", index))
	return nil
}

// IndexExists reports whether index exists.
func (i *Indexer) IndexExists(ctx context.Context, index string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{index}}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: check index")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apiError(resp, appErrors.ErrCodeSearchIndexFailed, "check index")
	}
}

// IndexDocument stores one document under docID.
func (i *Indexer) IndexDocument(ctx context.Context, index, docID string, document any) error {
	body, err := json.Marshal(document)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal document")
	}

	req := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
		Refresh:    i.config.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: index document")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return apiError(resp, appErrors.ErrCodeSearchIndexFailed, "index document")
	}
	return nil
}

// BulkIndex stores documents keyed by ID, batched by BulkBatchSize.
func (i *Indexer) BulkIndex(ctx context.Context, index string, documents map[string]any) (*BulkResult, error) {
	result := &BulkResult{}
	if len(documents) == 0 {
		return result, nil
	}

	docIDs := make([]string, 0, len(documents))
	for id := range documents {
		docIDs = append(docIDs, id)
	}

	for start := 0; start < len(docIDs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(docIDs) {
			end = len(docIDs)
		}
		if err := i.bulkBatch(ctx, index, docIDs[start:end], documents, result); err != nil {
			return result, err
		}
	}

	i.logger.Info("bulk index finished",
		logging.String("index", index),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) bulkBatch(ctx context.Context, index string, batchIDs []string, documents map[string]any, result *BulkResult) error {
	var buf bytes.Buffer
	queued := 0
	for _, id := range batchIDs {
		docBytes, err := json.Marshal(documents[id])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{
				DocID:     id,
				ErrorType: "serialization_error",
				Reason:    err.Error(),
			})
			continue
		}
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": id},
		})
		if err != nil {
			result.Failed++
			continue
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
		queued++
	}
	if queued == 0 {
		return nil
	}

	req := opensearchapi.BulkRequest{Body: bytes.NewReader(buf.Bytes()), Refresh: i.config.RefreshPolicy}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: bulk request")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		result.Failed += queued
		result.Errors = append(result.Errors, BulkItemError{
			DocID:     "_batch",
			ErrorType: "http_error",
			Reason:    apiError(resp, appErrors.ErrCodeSearchIndexFailed, "bulk").Error(),
		})
		return nil
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: decode bulk response")
	}

	if !bulkResp.Errors {
		result.Succeeded += len(bulkResp.Items)
		return nil
	}
	for _, item := range bulkResp.Items {
		// Each item holds one action keyed "index".
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{
					DocID:     info.ID,
					ErrorType: info.Error.Type,
					Reason:    info.Error.Reason,
				})
			}
			break
		}
	}
	return nil
}

// DeleteDocument removes one document.
func (i *Indexer) DeleteDocument(ctx context.Context, index, docID string) error {
	req := opensearchapi.DeleteRequest{
		Index:      index,
		DocumentID: docID,
		Refresh:    i.config.RefreshPolicy,
	}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: delete document")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	if resp.IsError() {
		return apiError(resp, appErrors.ErrCodeSearchIndexFailed, "delete document")
	}
	return nil
}

// DeleteByAnalysisID removes every defect document of one analysis, used
// when an analysis is deleted or about to be reindexed.
func (i *Indexer) DeleteByAnalysisID(ctx context.Context, index, analysisID string) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"analysis_id": analysisID},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: marshal delete query")
	}

	refresh := i.config.RefreshPolicy == "true"
	req := opensearchapi.DeleteByQueryRequest{
		Index:   []string{index},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}
	resp, err := req.Do(ctx, i.client.Underlying())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: delete by query")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, apiError(resp, appErrors.ErrCodeSearchIndexFailed, "delete by query")
	}

	var deleteResp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deleteResp); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "opensearch: decode delete response")
	}
	return deleteResp.Deleted, nil
}
