// Package classifier provides the optional statistical scorer that refines
// rule-based defect confidence. Implementations wrap an external model
// behind a single interface; the detection engine treats every provider the
// same way and keeps working when scoring fails or no provider is configured.
package classifier

import (
	"context"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// defaultScoreTimeout bounds a single remote scoring call when the caller
// does not configure one.
const defaultScoreTimeout = 10 * time.Second

// ---------------------------------------------------------------------------
// Classifier interface
// ---------------------------------------------------------------------------

// Classifier scores how strongly a sentence reads as a defect of the given
// category. Scores are probabilities in [0, 1]. Implementations must be safe
// for concurrent use; the engine may score many sentences in flight.
type Classifier interface {
	// Name identifies the provider in logs and health output.
	Name() string

	// Score returns the model's probability that sentence describes a
	// defect of category. Errors mean the score is unavailable, not that
	// the sentence is defect-free.
	Score(ctx context.Context, sentence string, category taxonomy.Category) (float64, error)

	// Healthy reports whether the provider can currently serve scores.
	Healthy(ctx context.Context) bool

	// Close releases any held resources.
	Close() error
}

// ---------------------------------------------------------------------------
// Noop provider
// ---------------------------------------------------------------------------

// Noop is the default provider. It scores nothing and reports healthy, so an
// engine wired with it behaves exactly like a rule-only engine.
type Noop struct{}

var _ Classifier = (*Noop)(nil)

// NewNoop returns the no-op classifier.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Name() string {
	return "noop"
}

// Score always reports unavailable so the engine keeps the rule confidence.
func (n *Noop) Score(_ context.Context, _ string, _ taxonomy.Category) (float64, error) {
	return 0, errors.New(errors.ErrCodeClassifierUnavailable, "classifier: noop provider has no model")
}

func (n *Noop) Healthy(_ context.Context) bool {
	return true
}

func (n *Noop) Close() error {
	return nil
}
