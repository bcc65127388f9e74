package bootstrap

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"

	appAnalysis "github.com/defectwise/defectwise/internal/application/analysis"
	domain "github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/search/opensearch"
	"github.com/defectwise/defectwise/internal/infrastructure/storage/minio"
)

// DocumentArchive adapts the MinIO object repository to the application's
// DocumentArchive port. Keys are derived from the content hash so identical
// uploads share one stored object.
type DocumentArchive struct {
	objects minio.ObjectRepository
}

var _ appAnalysis.DocumentArchive = (*DocumentArchive)(nil)

func NewDocumentArchive(objects minio.ObjectRepository) *DocumentArchive {
	return &DocumentArchive{objects: objects}
}

func (a *DocumentArchive) Store(ctx context.Context, contentHash, filename string, data []byte) (string, error) {
	key := minio.DocumentKey(contentHash, filename)
	if _, err := a.objects.Put(ctx, key, data, contentTypeFor(filename, data)); err != nil {
		return "", err
	}
	return key, nil
}

func (a *DocumentArchive) Fetch(ctx context.Context, key string) ([]byte, error) {
	return a.objects.Get(ctx, key)
}

func (a *DocumentArchive) Remove(ctx context.Context, key string) error {
	return a.objects.Delete(ctx, key)
}

// contentTypeFor resolves a MIME type from the extension, sniffing the
// bytes when the extension is unknown.
func contentTypeFor(filename string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// DefectIndexer mirrors completed analyses into the OpenSearch defects
// index, one document per finding.
type DefectIndexer struct {
	indexer *opensearch.Indexer
	index   string
}

var _ appAnalysis.DefectIndexer = (*DefectIndexer)(nil)

func NewDefectIndexer(indexer *opensearch.Indexer, index string) *DefectIndexer {
	return &DefectIndexer{indexer: indexer, index: index}
}

func (d *DefectIndexer) IndexAnalysis(ctx context.Context, a *domain.Analysis) error {
	if a.Result == nil || len(a.Result.Defects) == 0 {
		// Reanalysis can drop to zero findings; clear stale documents.
		_, err := d.indexer.DeleteByAnalysisID(ctx, d.index, string(a.ID))
		return err
	}

	detectedAt := a.UpdatedAt
	if a.CompletedAt != nil {
		detectedAt = *a.CompletedAt
	}

	documents := make(map[string]any, len(a.Result.Defects))
	for i, defect := range a.Result.Defects {
		documents[opensearch.DefectDocumentID(string(a.ID), i)] = opensearch.DefectDocument{
			AnalysisID:    string(a.ID),
			Filename:      a.Filename,
			Category:      string(defect.Type),
			Severity:      string(defect.Severity),
			Area:          defect.Area,
			Keyword:       defect.Keyword,
			Sentence:      defect.Sentence,
			SentenceIndex: defect.SentenceIndex,
			Confidence:    defect.Confidence,
			DetectedAt:    detectedAt,
		}
	}
	_, err := d.indexer.BulkIndex(ctx, d.index, documents)
	return err
}

func (d *DefectIndexer) RemoveAnalysis(ctx context.Context, analysisID string) error {
	_, err := d.indexer.DeleteByAnalysisID(ctx, d.index, analysisID)
	return err
}
