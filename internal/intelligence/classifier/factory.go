package classifier

import (
	"strings"
	"time"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/pkg/errors"
)

// Options selects and configures a provider. The zero value yields the noop
// provider, which keeps analysis on rule confidence alone.
type Options struct {
	Provider    string // "noop", "serving" or "openai"
	ServingAddr string // base URL of the self-hosted scoring service
	OpenAIKey   string
	OpenAIModel string
	BaseURL     string // optional OpenAI-compatible endpoint override
	Timeout     time.Duration
	CacheTTL    time.Duration // > 0 wraps the provider in a score cache
	Logger      logging.Logger
}

// New builds the classifier described by opts.
func New(opts Options) (Classifier, error) {
	var (
		cls Classifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "noop":
		cls = NewNoop()
	case "serving":
		cls, err = NewServing(opts.ServingAddr, opts.Timeout, opts.Logger)
	case "openai":
		cls, err = NewOpenAI(opts.OpenAIKey, opts.BaseURL, opts.OpenAIModel, opts.Timeout)
	default:
		return nil, errors.Newf(errors.ErrCodeClassifierProviderUnknown,
			"classifier: unknown provider %q", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheTTL > 0 {
		cls = NewCached(cls, opts.CacheTTL)
	}
	return cls, nil
}
