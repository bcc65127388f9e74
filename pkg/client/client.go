// Package client is a thin typed HTTP client for the DefectWise API. It is
// what the CLI's remote mode talks through, and it doubles as a minimal Go
// SDK: requests carry the standard envelope, errors come back as pkg/errors
// codes, and transient server failures are retried with jittered backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/defectwise/defectwise/pkg/errors"
	"github.com/defectwise/defectwise/pkg/types/common"
)

// Version is the SDK version reported in the User-Agent header.
const Version = "0.1.0"

// Client talks to one DefectWise API server.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	userAgent    string
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// New validates the base URL and builds a Client with sane retry defaults.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New(errors.CodeInvalidParam, "client: base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "client: invalid base URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.Newf(errors.CodeInvalidParam, "client: base URL scheme %q must be http or https", parsed.Scheme)
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		userAgent:    fmt.Sprintf("defectwise-go/%s", Version),
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do runs one request with retries, decoding the response envelope's data
// field into result when it is non-nil. Error envelopes are translated back
// into pkg/errors values, so errors.IsNotFound and friends work on the
// client side too.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "client: encode request body")
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.CodeTimeout, "client: request canceled")
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidParam, "client: build request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, errors.ErrCodeServiceUnavailable, "client: request failed")
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = errors.Wrap(err, errors.ErrCodeServiceUnavailable, "client: read response")
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = decodeAPIError(resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return decodeAPIError(resp.StatusCode, respBody)
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return errors.Wrap(err, errors.ErrCodeSerialization, "client: decode response")
			}
		}
		return nil
	}
	return lastErr
}

// decodeAPIError converts an error envelope back into an AppError carrying
// the server's code. Undecodable bodies map onto the status code family.
func decodeAPIError(status int, body []byte) error {
	var envelope common.APIResponse[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		appErr := errors.New(errors.ErrorCode(envelope.Error.Code), envelope.Error.Message)
		if envelope.RequestID != "" {
			return appErr.WithDetail("request_id=" + envelope.RequestID)
		}
		return appErr
	}

	code := errors.ErrCodeInternal
	switch {
	case status == http.StatusNotFound:
		code = errors.CodeNotFound
	case status == http.StatusTooManyRequests:
		code = errors.ErrCodeTooManyRequests
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		code = errors.CodeInvalidParam
	}
	return errors.Newf(code, "client: server answered HTTP %d", status)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryWaitMin << uint(attempt-1)
	if d > c.retryWaitMax {
		d = c.retryWaitMax
	}
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d/4)+1))
}
