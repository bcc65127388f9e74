// Package analysis orchestrates the defect-detection pipeline around the
// Analysis aggregate: synchronous text and document analysis, asynchronous
// submission through the message bus, reanalysis of archived documents, and
// the read operations the HTTP and CLI surfaces expose. The stored row is
// the source of truth; search indexing and event publishing are best-effort
// fanout after the save commits.
package analysis

import (
	"context"
	"strings"
	"time"

	domain "github.com/defectwise/defectwise/internal/domain/analysis"
	"github.com/defectwise/defectwise/internal/infrastructure/database/redis"
	"github.com/defectwise/defectwise/internal/infrastructure/messaging/kafka"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/prometheus"
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/extract"
	"github.com/defectwise/defectwise/internal/intelligence/textnorm"
	"github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

const (
	// hashKeyPrefix keys the content-hash to analysis-ID dedup entries.
	hashKeyPrefix = "analysis:hash:"

	// statsKeyPrefix is where reporting caches its dashboard snapshots.
	// Completing or deleting an analysis makes those stale.
	statsKeyPrefix = "stats:"

	// dedupTTL bounds how long a dedup entry lives without being refreshed.
	// The repository remains authoritative after expiry.
	dedupTTL = 24 * time.Hour

	// eventSource identifies this service in published event envelopes.
	eventSource = "defectwise.analysis"
)

// Processing modes as reported to metrics.
const (
	modeText       = "text"
	modeDocument   = "document"
	modeAsync      = "async"
	modeReanalysis = "reanalysis"
)

// Engine runs the detection pipeline over extracted text.
type Engine interface {
	Analyze(ctx context.Context, filename, text string) *detector.AnalysisResult
}

// DocumentArchive stores the raw uploaded bytes so asynchronous workers and
// reanalysis can fetch them after the HTTP request is gone.
type DocumentArchive interface {
	Store(ctx context.Context, contentHash, filename string, data []byte) (key string, err error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Publisher pushes analysis lifecycle events onto the message bus.
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.ProducerMessage) error
}

// DefectIndexer mirrors completed analyses into the search index.
type DefectIndexer interface {
	IndexAnalysis(ctx context.Context, a *domain.Analysis) error
	RemoveAnalysis(ctx context.Context, analysisID string) error
}

// AnalyzeTextInput is a synchronous plain-text analysis request.
type AnalyzeTextInput struct {
	Filename string
	Text     string
}

// AnalyzeDocumentInput is a synchronous file analysis request.
type AnalyzeDocumentInput struct {
	Filename string
	Data     []byte
}

// SubmitDocumentInput queues a file for asynchronous analysis.
type SubmitDocumentInput struct {
	Filename string
	Data     []byte
}

// ListInput narrows and paginates a listing.
type ListInput struct {
	Status   string
	Page     int
	PageSize int
}

// Outcome is the result of an analysis request. Duplicate is set when the
// same content was analyzed before and the prior analysis is returned
// instead of running the engine again.
type Outcome struct {
	Analysis  *domain.Analysis `json:"analysis"`
	Duplicate bool             `json:"duplicate"`
}

// Service is the application surface for the analysis pipeline.
type Service interface {
	AnalyzeText(ctx context.Context, in AnalyzeTextInput) (*Outcome, error)
	AnalyzeDocument(ctx context.Context, in AnalyzeDocumentInput) (*Outcome, error)
	SubmitDocument(ctx context.Context, in SubmitDocumentInput) (*Outcome, error)
	ProcessSubmitted(ctx context.Context, analysisID string) error
	Reanalyze(ctx context.Context, analysisID string) (*domain.Analysis, error)
	Get(ctx context.Context, analysisID string) (*domain.Analysis, error)
	List(ctx context.Context, in ListInput) (*common.PageResponse[*domain.Analysis], error)
	Delete(ctx context.Context, analysisID string) error
}

// Deps wires the service collaborators. Repo and Engine are required; the
// rest degrade gracefully when absent so the binary runs with whatever
// backing services are configured.
type Deps struct {
	Repo      domain.Repository
	Engine    Engine
	Cache     redis.Cache
	Archive   DocumentArchive
	Publisher Publisher
	Indexer   DefectIndexer
	Metrics   *prometheus.AppMetrics
	Logger    logging.Logger
}

type serviceImpl struct {
	repo      domain.Repository
	engine    Engine
	cache     redis.Cache
	archive   DocumentArchive
	publisher Publisher
	indexer   DefectIndexer
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
}

// NewService builds the analysis application service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, errors.New(errors.CodeInvalidParam, "analysis service: repository is required")
	}
	if deps.Engine == nil {
		return nil, errors.New(errors.CodeInvalidParam, "analysis service: engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &serviceImpl{
		repo:      deps.Repo,
		engine:    deps.Engine,
		cache:     deps.Cache,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		indexer:   deps.Indexer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

func (s *serviceImpl) AnalyzeText(ctx context.Context, in AnalyzeTextInput) (*Outcome, error) {
	if strings.TrimSpace(in.Filename) == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: filename is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: text is required")
	}

	hash := domain.HashText(in.Text)
	if prior := s.findByHash(ctx, hash); prior != nil {
		return &Outcome{Analysis: prior, Duplicate: true}, nil
	}

	a, err := domain.New(in.Filename, hash)
	if err != nil {
		return nil, err
	}
	if err := a.Start(); err != nil {
		return nil, err
	}
	return s.completeAndStore(ctx, a, in.Text, modeText)
}

func (s *serviceImpl) AnalyzeDocument(ctx context.Context, in AnalyzeDocumentInput) (*Outcome, error) {
	if strings.TrimSpace(in.Filename) == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: filename is required")
	}
	if len(in.Data) == 0 {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: document is empty")
	}

	text, err := extract.Extract(in.Filename, in.Data)
	if err != nil {
		return nil, err
	}

	hash := domain.HashText(text)
	if prior := s.findByHash(ctx, hash); prior != nil {
		return &Outcome{Analysis: prior, Duplicate: true}, nil
	}

	a, err := domain.New(in.Filename, hash)
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		key, aerr := s.archive.Store(ctx, hash, in.Filename, in.Data)
		if aerr != nil {
			s.logger.Warn("document archive unavailable, analysis will not be reanalyzable",
				logging.String("analysis_id", string(a.ID)),
				logging.Err(aerr))
		} else {
			a.MarkSource(key)
		}
	}
	if err := a.Start(); err != nil {
		return nil, err
	}
	return s.completeAndStore(ctx, a, text, modeDocument)
}

func (s *serviceImpl) SubmitDocument(ctx context.Context, in SubmitDocumentInput) (*Outcome, error) {
	if strings.TrimSpace(in.Filename) == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: filename is required")
	}
	if len(in.Data) == 0 {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: document is empty")
	}
	// Reject unsupported formats before queueing rather than at the worker.
	if _, err := extract.ForFilename(in.Filename); err != nil {
		return nil, err
	}
	if s.archive == nil || s.publisher == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable,
			"analysis: asynchronous submission requires the document archive and message bus")
	}

	// Extraction happens on the worker, so upload identity is the raw-bytes
	// hash rather than the normalized-text hash.
	hash := domain.HashBytes(in.Data)
	if prior := s.findByHash(ctx, hash); prior != nil {
		return &Outcome{Analysis: prior, Duplicate: true}, nil
	}

	a, err := domain.New(in.Filename, hash)
	if err != nil {
		return nil, err
	}
	key, err := s.archive.Store(ctx, hash, in.Filename, in.Data)
	if err != nil {
		return nil, err
	}
	a.MarkSource(key)

	if err := s.repo.Save(ctx, a); err != nil {
		if errors.IsCode(err, errors.CodeConflict) {
			if prior := s.findByHash(ctx, hash); prior != nil {
				return &Outcome{Analysis: prior, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	if err := s.publishRequested(ctx, a); err != nil {
		// Without the request on the bus the analysis would sit pending
		// forever, so the submission fails loudly.
		if ferr := a.Fail("queue publish failed: " + err.Error()); ferr == nil {
			if serr := s.repo.Save(ctx, a); serr != nil {
				s.logger.Error("mark analysis failed after publish error",
					logging.String("analysis_id", string(a.ID)),
					logging.Err(serr))
			}
			a.Events()
		}
		return nil, err
	}

	s.cacheHash(ctx, a)
	return &Outcome{Analysis: a}, nil
}

// ProcessSubmitted is the worker entry point for one queued analysis. A nil
// return acknowledges the message; an error return asks the consumer to
// retry and eventually dead-letter.
func (s *serviceImpl) ProcessSubmitted(ctx context.Context, analysisID string) error {
	a, err := s.repo.FindByID(ctx, common.ID(analysisID))
	if err != nil {
		return err
	}
	if a.Status == domain.StatusCompleted {
		// Redelivered after a prior success.
		return nil
	}
	if a.SourceKey == "" {
		s.failAnalysis(ctx, a, modeAsync, "no archived document to process")
		return nil
	}
	if s.archive == nil {
		return errors.New(errors.ErrCodeServiceUnavailable, "analysis: document archive is not configured")
	}
	// Running means a previous worker died mid-flight; resume in place.
	if a.Status != domain.StatusRunning {
		if err := a.Start(); err != nil {
			return err
		}
	}

	data, err := s.archive.Fetch(ctx, a.SourceKey)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeStorageObjectNotFound) {
			s.failAnalysis(ctx, a, modeAsync, "archived document is gone: "+a.SourceKey)
			return nil
		}
		return err
	}
	text, err := extract.Extract(a.Filename, data)
	if err != nil {
		s.failAnalysis(ctx, a, modeAsync, err.Error())
		return nil
	}

	if _, err := s.completeAndStore(ctx, a, text, modeAsync); err != nil {
		return err
	}
	return nil
}

func (s *serviceImpl) Reanalyze(ctx context.Context, analysisID string) (*domain.Analysis, error) {
	a, err := s.repo.FindByID(ctx, common.ID(analysisID))
	if err != nil {
		return nil, err
	}
	if a.SourceKey == "" {
		return nil, errors.Newf(errors.ErrCodeAnalysisInvalidState,
			"analysis %s has no archived document, only uploads can be reanalyzed", a.ID)
	}
	if s.archive == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "analysis: document archive is not configured")
	}
	// Start also guards against concurrent reanalysis: running does not
	// transition to running.
	if err := a.Start(); err != nil {
		return nil, err
	}

	data, err := s.archive.Fetch(ctx, a.SourceKey)
	if err != nil {
		s.failAnalysis(ctx, a, modeReanalysis, "archived document unavailable: "+err.Error())
		return nil, err
	}
	text, err := extract.Extract(a.Filename, data)
	if err != nil {
		s.failAnalysis(ctx, a, modeReanalysis, err.Error())
		return nil, err
	}

	out, err := s.completeAndStore(ctx, a, text, modeReanalysis)
	if err != nil {
		return nil, err
	}
	return out.Analysis, nil
}

func (s *serviceImpl) Get(ctx context.Context, analysisID string) (*domain.Analysis, error) {
	if strings.TrimSpace(analysisID) == "" {
		return nil, errors.New(errors.CodeInvalidParam, "analysis: id is required")
	}
	return s.repo.FindByID(ctx, common.ID(analysisID))
}

func (s *serviceImpl) List(ctx context.Context, in ListInput) (*common.PageResponse[*domain.Analysis], error) {
	page := common.Pagination{Page: in.Page, PageSize: in.PageSize}
	if page.Page <= 0 {
		page.Page = 1
	}
	if page.PageSize <= 0 {
		page.PageSize = 20
	}
	if err := page.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "analysis: invalid pagination")
	}

	filter := domain.ListFilter{}
	if in.Status != "" {
		status := domain.Status(in.Status)
		if !status.Valid() {
			return nil, errors.Newf(errors.CodeInvalidParam, "analysis: unknown status %q", in.Status)
		}
		filter.Status = status
	}

	items, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	resp := common.NewPageResponse(items, total, page)
	return &resp, nil
}

func (s *serviceImpl) Delete(ctx context.Context, analysisID string) error {
	a, err := s.Get(ctx, analysisID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, a.ID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, hashKey(a.ContentHash)); err != nil {
			s.logger.Warn("drop dedup entry", logging.Err(err))
		}
		if _, err := s.cache.DeleteByPrefix(ctx, statsKeyPrefix); err != nil {
			s.logger.Warn("invalidate stats cache", logging.Err(err))
		}
	}
	if s.indexer != nil {
		if err := s.indexer.RemoveAnalysis(ctx, string(a.ID)); err != nil {
			s.logger.Warn("remove analysis from search index",
				logging.String("analysis_id", string(a.ID)),
				logging.Err(err))
		}
	}
	if a.SourceKey != "" && s.archive != nil {
		if err := s.archive.Remove(ctx, a.SourceKey); err != nil {
			s.logger.Warn("remove archived document",
				logging.String("key", a.SourceKey),
				logging.Err(err))
		}
	}
	return nil
}

// completeAndStore runs the engine over a running analysis, persists the
// result, and fans out to cache, index, bus and metrics. On a content-hash
// conflict the concurrently stored analysis wins and is returned as the
// duplicate.
func (s *serviceImpl) completeAndStore(ctx context.Context, a *domain.Analysis, text, mode string) (*Outcome, error) {
	started := time.Now()
	result := s.engine.Analyze(ctx, a.Filename, text)
	if err := a.Complete(result); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, a); err != nil {
		if errors.IsCode(err, errors.CodeConflict) {
			if prior := s.findByHash(ctx, a.ContentHash); prior != nil {
				return &Outcome{Analysis: prior, Duplicate: true}, nil
			}
		}
		return nil, err
	}
	a.Events()

	s.cacheHash(ctx, a)
	if s.cache != nil {
		if _, err := s.cache.DeleteByPrefix(ctx, statsKeyPrefix); err != nil {
			s.logger.Warn("invalidate stats cache", logging.Err(err))
		}
	}
	if s.indexer != nil {
		if err := s.indexer.IndexAnalysis(ctx, a); err != nil {
			s.logger.Warn("index analysis defects",
				logging.String("analysis_id", string(a.ID)),
				logging.Err(err))
		}
	}
	s.publishCompleted(ctx, a)
	s.recordMetrics(a, mode, true, time.Since(started), len(textnorm.Normalize(text)))

	s.logger.Info("analysis completed",
		logging.String("analysis_id", string(a.ID)),
		logging.String("filename", a.Filename),
		logging.String("mode", mode),
		logging.Int("defects", a.DefectCount()))
	return &Outcome{Analysis: a}, nil
}

// findByHash resolves a content hash to a previously stored analysis,
// through the dedup cache when one is wired. Cache trouble degrades to a
// direct repository lookup; a lookup failure degrades to reprocessing.
func (s *serviceImpl) findByHash(ctx context.Context, hash string) *domain.Analysis {
	if s.cache != nil {
		var id string
		err := s.cache.GetOrSet(ctx, hashKey(hash), &id, dedupTTL, func(ctx context.Context) (interface{}, error) {
			prior, lerr := s.repo.FindByContentHash(ctx, hash)
			if lerr != nil {
				if errors.IsNotFound(lerr) {
					return nil, nil
				}
				return nil, lerr
			}
			return string(prior.ID), nil
		})
		switch {
		case err == nil:
			a, ferr := s.repo.FindByID(ctx, common.ID(id))
			if ferr == nil {
				return a
			}
			// Stale entry pointing at a deleted analysis.
			if derr := s.cache.Delete(ctx, hashKey(hash)); derr != nil {
				s.logger.Warn("drop stale dedup entry", logging.Err(derr))
			}
			if !errors.IsNotFound(ferr) {
				s.logger.Warn("resolve dedup entry", logging.Err(ferr))
			}
			return nil
		case err == redis.ErrCacheMiss:
			return nil
		default:
			s.logger.Warn("dedup cache unavailable", logging.Err(err))
		}
	}

	prior, err := s.repo.FindByContentHash(ctx, hash)
	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.Warn("duplicate lookup failed", logging.Err(err))
		}
		return nil
	}
	return prior
}

func (s *serviceImpl) cacheHash(ctx context.Context, a *domain.Analysis) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, hashKey(a.ContentHash), string(a.ID), dedupTTL); err != nil {
		s.logger.Warn("store dedup entry", logging.Err(err))
	}
}

// failAnalysis marks the aggregate failed, persists it and announces the
// failure. Errors along the way are logged, not propagated; callers decide
// separately whether the triggering error is retryable.
func (s *serviceImpl) failAnalysis(ctx context.Context, a *domain.Analysis, mode, reason string) {
	if err := a.Fail(reason); err != nil {
		s.logger.Error("mark analysis failed",
			logging.String("analysis_id", string(a.ID)),
			logging.Err(err))
		return
	}
	if err := s.repo.Save(ctx, a); err != nil {
		s.logger.Error("persist failed analysis",
			logging.String("analysis_id", string(a.ID)),
			logging.Err(err))
	}
	a.Events()
	s.publishFailed(ctx, a)
	s.recordMetrics(a, mode, false, 0, 0)
	s.logger.Warn("analysis failed",
		logging.String("analysis_id", string(a.ID)),
		logging.String("filename", a.Filename),
		logging.String("reason", reason))
}

func (s *serviceImpl) publishRequested(ctx context.Context, a *domain.Analysis) error {
	env, err := kafka.NewEventEnvelope(kafka.EventTypeAnalysisRequested, eventSource, kafka.AnalysisRequestedPayload{
		AnalysisID:  string(a.ID),
		Filename:    a.Filename,
		SourceKey:   a.SourceKey,
		ContentHash: a.ContentHash,
		RequestedAt: a.CreatedAt,
	})
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(kafka.TopicAnalysisRequested, string(a.ID))
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, msg)
}

func (s *serviceImpl) publishCompleted(ctx context.Context, a *domain.Analysis) {
	if s.publisher == nil {
		return
	}
	payload := kafka.AnalysisCompletedPayload{
		AnalysisID:   string(a.ID),
		Filename:     a.Filename,
		TotalDefects: a.DefectCount(),
		CompletedAt:  time.Now().UTC(),
	}
	if a.Result != nil {
		payload.Summary = a.Result.Summary
	}
	if a.CompletedAt != nil {
		payload.CompletedAt = *a.CompletedAt
	}
	s.publish(ctx, kafka.EventTypeAnalysisCompleted, kafka.TopicAnalysisCompleted, string(a.ID), payload)
}

func (s *serviceImpl) publishFailed(ctx context.Context, a *domain.Analysis) {
	if s.publisher == nil {
		return
	}
	s.publish(ctx, kafka.EventTypeAnalysisFailed, kafka.TopicAnalysisFailed, string(a.ID), kafka.AnalysisFailedPayload{
		AnalysisID: string(a.ID),
		Filename:   a.Filename,
		Reason:     a.FailureReason,
		FailedAt:   time.Now().UTC(),
	})
}

// publish wraps and sends one event. Publishing is fanout after the save,
// so failures are logged and swallowed.
func (s *serviceImpl) publish(ctx context.Context, eventType, topic, key string, payload any) {
	env, err := kafka.NewEventEnvelope(eventType, eventSource, payload)
	if err != nil {
		s.logger.Warn("build event envelope", logging.String("event_type", eventType), logging.Err(err))
		return
	}
	msg, err := env.ToMessage(topic, key)
	if err != nil {
		s.logger.Warn("serialize event envelope", logging.String("event_type", eventType), logging.Err(err))
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Warn("publish event",
			logging.String("event_type", eventType),
			logging.String("topic", topic),
			logging.Err(err))
	}
}

func (s *serviceImpl) recordMetrics(a *domain.Analysis, mode string, success bool, duration time.Duration, sentences int) {
	if s.metrics == nil {
		return
	}
	prometheus.RecordAnalysis(s.metrics, mode, success, duration, sentences)
	if !success || a.Result == nil {
		return
	}
	for _, d := range a.Result.Defects {
		prometheus.RecordDefect(s.metrics, string(d.Type), string(d.Severity), d.Confidence)
	}
}

func hashKey(hash string) string {
	return hashKeyPrefix + hash
}
