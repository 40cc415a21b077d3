package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/pkg/retry"
)

// ClientConfig holds settings for the HTTP order-submission client.
type ClientConfig struct {
	// Endpoint is the full URL of the order-submission API.
	Endpoint string `json:"endpoint"`

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string `json:"auth_token,omitempty"`

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `json:"request_timeout"`

	// Retry controls backoff for transient failures. Rejections (4xx) are
	// never retried.
	Retry retry.Config `json:"retry"`
}

// DefaultClientConfig returns sensible defaults for the submission client.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:       endpoint,
		RequestTimeout: 10 * time.Second,
		Retry:          retry.DefaultConfig(),
	}
}

// Client submits orders over HTTP. It implements Submitter.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a submission client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("endpoint is required"),
			"order", "NewClient", "validate config")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}, nil
}

type submitResponse struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error,omitempty"`
}

// Submit posts the request to the order API. Network errors and 5xx are
// retried with backoff under the same idempotency key; 4xx responses are
// surfaced immediately as rejections.
func (c *Client) Submit(ctx context.Context, req SubmissionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapInvalid(err, "order", "Submit", "encode request")
	}

	return retry.DoWithResult(ctx, c.cfg.Retry, func() (string, error) {
		return c.attempt(ctx, req.IdempotencyKey, body)
	})
}

func (c *Client) attempt(ctx context.Context, idemKey string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.NonRetryable(
			errors.WrapInvalid(err, "order", "Submit", "build request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idemKey)
	if c.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrSubmissionFailed, err),
			"order", "Submit", "post order")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.WrapTransient(
			fmt.Errorf("%w: read response: %v", errors.ErrSubmissionFailed, err),
			"order", "Submit", "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr submitResponse
		if err := json.Unmarshal(respBody, &sr); err != nil || sr.OrderID == "" {
			return "", retry.NonRetryable(errors.WrapInvalid(
				fmt.Errorf("%w: response missing order_id", errors.ErrSubmissionRejected),
				"order", "Submit", "decode response"))
		}
		return sr.OrderID, nil

	case resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= 500:
		c.logger.Warn("order API transient failure",
			"status", resp.StatusCode, "idempotency_key", idemKey)
		return "", errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrSubmissionFailed, resp.StatusCode),
			"order", "Submit", "post order")

	default:
		var sr submitResponse
		_ = json.Unmarshal(respBody, &sr)
		c.logger.Error("order API rejected submission",
			"status", resp.StatusCode, "error", sr.Error)
		return "", retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("%w: status %d: %s", errors.ErrSubmissionRejected, resp.StatusCode, sr.Error),
			"order", "Submit", "post order"))
	}
}
