// Package opensearch maintains the defect sentence index and serves the
// full-text search behind the reporting endpoints.
package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

const (
	connectTimeout      = 5 * time.Second
	healthCheckInterval = 30 * time.Second
)

// Client wraps the OpenSearch connection and tracks cluster health in the
// background so HTTP health checks never block on a sick cluster.
type Client struct {
	client  *opensearch.Client
	cfg     config.OpenSearchConfig
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
}

// ValidateConfig rejects configs the client cannot run with.
func ValidateConfig(cfg config.OpenSearchConfig) error {
	if len(cfg.Addresses) == 0 {
		return appErrors.New(appErrors.ErrCodeValidation, "opensearch: no addresses configured")
	}
	if cfg.IndexPrefix == "" {
		return appErrors.New(appErrors.ErrCodeValidation, "opensearch: index prefix is empty")
	}
	return nil
}

// NewClient connects, verifies the cluster responds, and starts the
// background health probe.
func NewClient(cfg config.OpenSearchConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // dev clusters run self-signed certs
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.User,
		Password:      cfg.Password,
		Transport:     transport,
		MaxRetries:    3,
		RetryOnStatus: []int{429, 502, 503, 504},
		RetryBackoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 100 * time.Millisecond
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: build client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{client: osClient, cfg: cfg, logger: logger, cancel: cancel}

	pingCtx, pingCancel := context.WithTimeout(ctx, connectTimeout)
	defer pingCancel()
	if err := c.Ping(pingCtx); err != nil {
		cancel()
		return nil, err
	}

	go c.healthLoop(ctx)

	logger.Info("opensearch connected",
		logging.Any("addresses", cfg.Addresses),
		logging.String("index_prefix", cfg.IndexPrefix))
	return c, nil
}

// Ping probes the cluster and updates the health flag.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		return appErrors.Wrap(err, appErrors.ErrCodeSearchUnavailable, "opensearch: ping")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		return appErrors.Newf(appErrors.ErrCodeSearchUnavailable, "opensearch: ping returned status %d", resp.StatusCode)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the most recent probe.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// Underlying exposes the raw client for the indexer and searcher.
func (c *Client) Underlying() *opensearch.Client {
	return c.client
}

// IndexName prefixes suffix with the configured index prefix, keeping
// every environment's indices apart on a shared cluster.
func (c *Client) IndexName(suffix string) string {
	return c.cfg.IndexPrefix + "-" + suffix
}

// Close stops the health probe. The underlying transport has no close.
func (c *Client) Close() error {
	c.cancel()
	c.logger.Info("opensearch client closed")
	return nil
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			if prev && err != nil {
				c.logger.Error("opensearch became unhealthy", logging.Err(err))
			} else if !prev && err == nil {
				c.logger.Info("opensearch recovered")
			}
		}
	}
}

// apiError turns a non-2xx OpenSearch response into an AppError, pulling
// the reason out of the body when the cluster provides one.
func apiError(resp *opensearchapi.Response, code appErrors.ErrorCode, op string) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Reason != "" {
		return appErrors.Newf(code, "opensearch: %s: %s (%s)", op, body.Error.Reason, body.Error.Type)
	}
	return appErrors.Newf(code, "opensearch: %s: status %d", op, resp.StatusCode)
}
