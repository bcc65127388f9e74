// Package detector implements the defect detection and classification
// engine: sentence normalization, taxonomy matching, severity and confidence
// scoring, building-area attribution, and aggregation into an ordered
// analysis result.
//
// The engine is a pure computation over one document at a time. It holds no
// mutable state after construction, so a single Engine serves any number of
// concurrent Analyze calls.
package detector

import (
	"context"
	"time"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/classifier"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/internal/intelligence/textnorm"
	"github.com/defectwise/defectwise/pkg/errors"
)

// defaultMaxSentences bounds how much of a pathological document is scanned.
const defaultMaxSentences = 5000

// defaultClassifierWeight balances rule and model scores when a classifier
// is attached without an explicit weight.
const defaultClassifierWeight = 0.5

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine runs the full detection pipeline. Construct it once with New and
// share it freely; Analyze is safe for concurrent use as long as the
// attached classifier is.
type Engine struct {
	matchMode    MatchMode
	matcher      *matcher
	areas        *AreaVocabulary
	cls          classifier.Classifier
	weight       float64
	maxSentences int
	log          logging.Logger
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithMatchMode selects substring or token matching.
func WithMatchMode(mode MatchMode) Option {
	return func(e *Engine) { e.matchMode = mode }
}

// WithClassifier attaches a statistical classifier whose scores are blended
// into rule confidence with the given weight in [0, 1]. Weight 0 ignores the
// model entirely; weight 1 trusts it fully within the severity band.
func WithClassifier(c classifier.Classifier, weight float64) Option {
	return func(e *Engine) {
		e.cls = c
		e.weight = weight
	}
}

// WithAreas replaces the default building-area vocabulary.
func WithAreas(v *AreaVocabulary) Option {
	return func(e *Engine) {
		if v != nil {
			e.areas = v
		}
	}
}

// WithMaxSentences caps how many sentences of a document are analyzed.
func WithMaxSentences(n int) Option {
	return func(e *Engine) { e.maxSentences = n }
}

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New validates the configuration and builds an Engine. The taxonomy is
// required; everything else has working defaults.
func New(tax *taxonomy.Taxonomy, opts ...Option) (*Engine, error) {
	if tax == nil || tax.Len() == 0 {
		return nil, errors.New(errors.ErrCodeEngineConfigInvalid, "detector: a non-empty taxonomy is required")
	}
	e := &Engine{
		matchMode:    ModeSubstring,
		areas:        DefaultAreas(),
		weight:       defaultClassifierWeight,
		maxSentences: defaultMaxSentences,
		log:          logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, ok := ParseMatchMode(string(e.matchMode)); !ok {
		return nil, errors.Newf(errors.ErrCodeEngineConfigInvalid, "detector: unknown match mode %q", e.matchMode)
	}
	if e.weight < 0 || e.weight > 1 {
		return nil, errors.Newf(errors.ErrCodeEngineConfigInvalid, "detector: classifier weight %v is out of range [0, 1]", e.weight)
	}
	if e.maxSentences < 1 {
		return nil, errors.Newf(errors.ErrCodeEngineConfigInvalid, "detector: max sentences %d must be at least 1", e.maxSentences)
	}
	e.matcher = newMatcher(tax.Rules(), e.matchMode)
	return e, nil
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

// Analyze runs the pipeline over one document and always produces a result:
// empty or boilerplate-only text yields a valid zero-defect report, and
// classifier failures degrade to rule-only confidence instead of surfacing.
// The context is only consulted for classifier calls.
func (e *Engine) Analyze(ctx context.Context, filename, text string) *AnalysisResult {
	sentences := textnorm.Normalize(text)
	if len(sentences) > e.maxSentences {
		e.log.Warn("sentence cap applied",
			logging.String("filename", filename),
			logging.Int("sentences", len(sentences)),
			logging.Int("cap", e.maxSentences))
		sentences = sentences[:e.maxSentences]
	}

	raws := e.matcher.scan(sentences)

	var (
		scores map[sentenceCategory]float64
		misses map[sentenceCategory]bool
	)
	if e.cls != nil {
		scores = make(map[sentenceCategory]float64)
		misses = make(map[sentenceCategory]bool)
	}

	matches := make([]DefectMatch, 0, len(raws))
	for _, raw := range raws {
		confidence := ruleConfidence(raw.rule)
		if e.cls != nil {
			if p, ok := e.classifierScore(ctx, raw, scores, misses); ok {
				confidence = blend(confidence, p, e.weight, raw.rule.Severity)
			}
		}
		matches = append(matches, DefectMatch{
			Type:          raw.rule.Category,
			Keyword:       raw.rule.Keyword,
			Sentence:      raw.sentence.Text,
			SentenceIndex: raw.sentence.Index,
			Severity:      raw.rule.Severity,
			Confidence:    round3(confidence),
			Area:          e.areas.Attribute(raw.lower, raw.pos),
		})
	}

	defects := dedupe(matches)
	sortMatches(defects)

	return &AnalysisResult{
		Filename:     filename,
		Defects:      defects,
		Summary:      summarize(defects),
		TotalDefects: len(defects),
		Timestamp:    time.Now().UTC(),
	}
}

// classifierScore fetches the model score for a (sentence, category) pair,
// memoizing both successes and failures so each pair costs at most one call
// per analysis. A false return means the rule confidence stands alone.
func (e *Engine) classifierScore(ctx context.Context, raw rawMatch, scores map[sentenceCategory]float64, misses map[sentenceCategory]bool) (float64, bool) {
	key := sentenceCategory{sentence: raw.sentence.Index, category: raw.rule.Category}
	if p, ok := scores[key]; ok {
		return p, true
	}
	if misses[key] {
		return 0, false
	}
	p, err := e.cls.Score(ctx, raw.sentence.Text, raw.rule.Category)
	if err != nil {
		// Unavailable is the provider declining, not a fault worth noise.
		if errors.IsCode(err, errors.ErrCodeClassifierUnavailable) {
			e.log.Debug("classifier unavailable",
				logging.String("provider", e.cls.Name()))
		} else {
			e.log.Warn("classifier scoring failed, keeping rule confidence",
				logging.String("provider", e.cls.Name()),
				logging.String("category", string(raw.rule.Category)),
				logging.Int("sentence", raw.sentence.Index),
				logging.Err(err))
		}
		misses[key] = true
		return 0, false
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	scores[key] = p
	return p, true
}
