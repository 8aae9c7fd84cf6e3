// Package nas is the storage-appliance management API boundary: an
// opaque request/response transport with retry, TLS control, and
// product-variant detection.
package nas

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Variant identifies the appliance product line.
type Variant string

const (
	VariantCore    Variant = "core"
	VariantScale   Variant = "scale"
	VariantUnknown Variant = "unknown"
)

// ErrUnauthorized is returned for 401/403 responses from the appliance.
var ErrUnauthorized = errors.New("appliance rejected credentials")

// APIError is a non-2xx response from the management API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("appliance API error: status %d: %s", e.StatusCode, e.Body)
}

// Config holds the connection settings for the appliance API.
type Config struct {
	BaseURL      string
	APIKey       string
	VerifyTLS    bool
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client is an HTTP client for the appliance management API with retry
// and backoff on transient failures. 4xx responses are never retried.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger

	variant Variant
	version string
}

// NewClient builds a client from the given config. Defaults: 30s
// timeout, 3 retries.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	waitMin := cfg.RetryWaitMin
	if waitMin <= 0 {
		waitMin = 1 * time.Second
	}
	waitMax := cfg.RetryWaitMax
	if waitMax <= 0 {
		waitMax = 8 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = waitMax
	rc.Logger = &retryLogger{logger: logger}
	rc.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec // operator-controlled for self-signed appliances
			MaxIdleConnsPerHost: 10,
		},
	}

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
		variant: VariantUnknown,
	}
}

// Connect probes the system info endpoint and records the detected
// product variant and version.
func (c *Client) Connect(ctx context.Context) error {
	info, err := c.Get(ctx, "/system/info")
	if err != nil {
		return fmt.Errorf("system info probe failed: %w", err)
	}

	if m, ok := info.(map[string]any); ok {
		if v, ok := m["version"].(string); ok {
			c.version = v
			if strings.Contains(strings.ToUpper(v), "SCALE") {
				c.variant = VariantScale
			} else {
				c.variant = VariantCore
			}
		}
	}

	c.logger.Info("appliance connected",
		zap.String("variant", string(c.variant)),
		zap.String("version", c.version),
	)
	return nil
}

// Variant returns the detected product variant.
func (c *Client) Variant() Variant { return c.variant }

// Version returns the reported appliance version string.
func (c *Client) Version() string { return c.version }

// Get issues a GET against an API path (relative to /api/v2.0).
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE, with an optional JSON body.
func (c *Client) Delete(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodDelete, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (any, error) {
	url := c.baseURL + "/api/v2.0" + path

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appliance request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read appliance response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		// Some endpoints return bare text (e.g. job IDs); pass through.
		return strings.TrimSpace(string(raw)), nil
	}
	return result, nil
}

// retryLogger adapts zap to retryablehttp's LeveledLogger.
type retryLogger struct {
	logger *zap.Logger
}

func (l *retryLogger) Error(msg string, kv ...any) { l.logger.Sugar().Errorw(msg, kv...) }
func (l *retryLogger) Info(msg string, kv ...any)  { l.logger.Sugar().Infow(msg, kv...) }
func (l *retryLogger) Debug(msg string, kv ...any) { l.logger.Sugar().Debugw(msg, kv...) }
func (l *retryLogger) Warn(msg string, kv ...any)  { l.logger.Sugar().Warnw(msg, kv...) }
