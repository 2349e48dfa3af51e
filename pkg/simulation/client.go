// Package simulation drives the prediction service the way a migration
// controller would: it samples host load, asks for a downtime estimate,
// performs an emulated migration, measures the real pause and reports the
// measured downtime back so the service can track its accuracy.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/predictor"
	"github.com/HatiCode/vmpredict/pkg/service"
)

// ErrNotReady is returned by Health when the service answers but has no
// model to serve.
var ErrNotReady = errors.New("predictor not ready")

// APIError is a non-2xx answer from the prediction service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.StatusCode)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the predictor HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the predictor at baseURL. A nil
// httpClient gets a plain client with a 5s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Health returns the service health. A degraded or uninitialized service
// still returns its health snapshot, together with ErrNotReady.
func (c *Client) Health(ctx context.Context) (*service.Health, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, apiError(status, body)
	}

	var h service.Health
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if status == http.StatusServiceUnavailable {
		return &h, fmt.Errorf("%w: status %s", ErrNotReady, h.Status)
	}
	return &h, nil
}

// Predict asks for the downtime estimate of v.
func (c *Client) Predict(ctx context.Context, v features.Vector) (*predictor.Result, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/predict", v)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(status, body)
	}

	var res predictor.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &res, nil
}

// Feedback reports a measured migration and returns the accuracy computed
// by the service.
func (c *Client) Feedback(ctx context.Context, fb service.Feedback) (float64, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/feedback", fb)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, apiError(status, body)
	}

	acc := gjson.GetBytes(body, "accuracy")
	if !acc.Exists() {
		return 0, errors.New("decode feedback: missing accuracy")
	}
	return acc.Float(), nil
}

// WaitReady polls Health with exponential backoff until the service is
// ready, maxWait elapses or ctx is done.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) (*service.Health, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait

	var h *service.Health
	op := func() error {
		var err error
		h, err = c.Health(ctx)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return h, fmt.Errorf("wait for predictor: %w", err)
	}
	return h, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func apiError(status int, body []byte) error {
	return &APIError{
		StatusCode: status,
		Message:    gjson.GetBytes(body, "error").String(),
	}
}
