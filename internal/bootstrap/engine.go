// Package bootstrap holds wiring shared by the apiserver and worker
// binaries: engine construction from config and the infrastructure
// adapters both processes mount behind the application ports.
package bootstrap

import (
	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/classifier"
	"github.com/defectwise/defectwise/internal/intelligence/detector"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
)

// LoadTaxonomy returns the configured rule set, falling back to the
// built-in defaults when no path is set.
func LoadTaxonomy(cfg *config.Config) (*taxonomy.Taxonomy, error) {
	if cfg.Engine.TaxonomyPath != "" {
		return taxonomy.LoadFile(cfg.Engine.TaxonomyPath)
	}
	return taxonomy.Default(), nil
}

// BuildEngine assembles the detection engine from the engine and
// classifier config sections.
func BuildEngine(cfg *config.Config, logger logging.Logger) (*detector.Engine, error) {
	tax, err := LoadTaxonomy(cfg)
	if err != nil {
		return nil, err
	}

	opts := []detector.Option{detector.WithLogger(logger.Named("detector"))}
	if mode, ok := detector.ParseMatchMode(cfg.Engine.Matching); ok {
		opts = append(opts, detector.WithMatchMode(mode))
	}
	if cfg.Engine.MaxSentences > 0 {
		opts = append(opts, detector.WithMaxSentences(cfg.Engine.MaxSentences))
	}
	if cfg.Engine.ClassifierWeight > 0 {
		cls, err := classifier.New(classifier.Options{
			Provider:    cfg.Classifier.Provider,
			ServingAddr: cfg.Classifier.ServingAddr,
			OpenAIKey:   cfg.Classifier.OpenAIKey,
			OpenAIModel: cfg.Classifier.OpenAIModel,
			BaseURL:     cfg.Classifier.BaseURL,
			Timeout:     cfg.Classifier.Timeout,
			CacheTTL:    cfg.Classifier.CacheTTL,
			Logger:      logger.Named("classifier"),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, detector.WithClassifier(cls, cfg.Engine.ClassifierWeight))
	}
	return detector.New(tax, opts...)
}
