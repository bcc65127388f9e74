package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// ---------------------------------------------------------------------------
// Wire schema
// ---------------------------------------------------------------------------

// scoreRequest is the payload posted to the scoring service.
type scoreRequest struct {
	Sentence string `json:"sentence"`
	Category string `json:"category"`
}

// scoreResponse is the payload returned by the scoring service.
type scoreResponse struct {
	Score float64 `json:"score"`
}

// ---------------------------------------------------------------------------
// Serving provider
// ---------------------------------------------------------------------------

// Serving scores sentences against a self-hosted model server speaking a
// small JSON protocol: POST /v1/score with a sentence and category name
// returns a probability in [0, 1]. Health is a GET on /healthz.
type Serving struct {
	baseURL string
	client  *http.Client
	log     logging.Logger
}

var _ Classifier = (*Serving)(nil)

// NewServing builds a provider for the scoring service at addr. Addresses
// without a scheme are assumed to be plain HTTP.
func NewServing(addr string, timeout time.Duration, log logging.Logger) (*Serving, error) {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" {
		return nil, errors.New(errors.ErrCodeClassifierUnavailable, "classifier: serving address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = defaultScoreTimeout
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Serving{
		baseURL: addr,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// Name implements Classifier.
func (s *Serving) Name() string { return "serving" }

// Score implements Classifier.
func (s *Serving) Score(ctx context.Context, sentence string, category taxonomy.Category) (float64, error) {
	body, err := json.Marshal(scoreRequest{Sentence: sentence, Category: category.String()})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "classifier: encode score request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "classifier: build score request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeClassifierInferenceFailed, "classifier: score request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Newf(errors.ErrCodeClassifierInferenceFailed,
			"classifier: scoring service returned status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeClassifierBadResponse, "classifier: malformed score response")
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, errors.Newf(errors.ErrCodeClassifierBadResponse,
			"classifier: score %v is outside [0, 1]", out.Score)
	}
	return out.Score, nil
}

// Healthy implements Classifier.
func (s *Serving) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("scoring service health check failed", logging.Err(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close implements Classifier.
func (s *Serving) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
