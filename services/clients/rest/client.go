// Package rest implements the external system clients against vendor-agnostic
// JSON REST endpoints.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/upb/hr-onboarding/config"
	"github.com/upb/hr-onboarding/services/clients"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	maxErrorBody      = 512
)

// Client is the shared JSON transport for every adapter
type Client struct {
	system     string
	config     config.ClientConfig
	httpClient *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient creates a transport for system
func NewClient(system string, cfg config.ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		system: system,
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryDelay: defaultRetryDelay,
		logger:     logger.With(zap.String("system", system)),
	}
}

// request describes one call
type request struct {
	operation      string
	method         string
	path           string
	query          url.Values
	idempotencyKey string
	body           interface{}
}

// do sends req, retrying transport errors and 5xx responses, and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return clients.NewClientError(c.system, req.operation, 0, false, fmt.Errorf("marshal request: %w", err))
		}
	}

	endpoint := c.config.BaseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return clients.NewClientError(c.system, req.operation, 0, true, ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		status, body, err := c.send(ctx, req, endpoint, payload)
		if err != nil {
			lastErr = clients.NewClientError(c.system, req.operation, 0, true, err)
			c.logger.Debug("request failed", zap.String("operation", req.operation), zap.Int("attempt", attempt+1), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if status >= 500 {
			lastErr = clients.NewClientError(c.system, req.operation, status, true, errors.New(truncate(body)))
			c.logger.Debug("server error", zap.String("operation", req.operation), zap.Int("attempt", attempt+1), zap.Int("status", status))
			continue
		}
		if status < 200 || status > 299 {
			return clients.NewClientError(c.system, req.operation, status, false, errors.New(truncate(body)))
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return clients.NewClientError(c.system, req.operation, status, false, fmt.Errorf("unmarshal response: %w", err))
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, req request, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

// idResponse is the common create response
type idResponse struct {
	ID string `json:"id"`
}
