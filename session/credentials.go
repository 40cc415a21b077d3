package session

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

// Credentials is everything a session needs to reach the realtime provider:
// a short-lived client secret for the SDP exchange, the signaling endpoint,
// and the restaurant's serialized menu context.
type Credentials struct {
	ClientSecret string          `json:"client_secret"`
	SDPEndpoint  string          `json:"sdp_endpoint"`
	MenuContext  json.RawMessage `json:"menu_context"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// CredentialProvider fetches session credentials for a restaurant.
type CredentialProvider interface {
	Fetch(ctx context.Context, restaurantID string) (*Credentials, error)
}

// CredentialClientConfig holds settings for the HTTP credential provider.
type CredentialClientConfig struct {
	// Endpoint is the platform's session-credential API.
	Endpoint string `json:"endpoint"`

	// AuthToken authenticates this service to the platform.
	AuthToken string `json:"auth_token,omitempty"`

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// CredentialClient fetches credentials over HTTP with fast retries; a
// failed fetch means no session, so attempts are cheap and quick.
type CredentialClient struct {
	cfg    CredentialClientConfig
	http   *http.Client
	logger *slog.Logger
}

// NewCredentialClient creates an HTTP credential provider.
func NewCredentialClient(cfg CredentialClientConfig, logger *slog.Logger) (*CredentialClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("endpoint is required"),
			"session", "NewCredentialClient", "validate config")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}, nil
}

// Fetch requests credentials for a restaurant.
func (c *CredentialClient) Fetch(ctx context.Context, restaurantID string) (*Credentials, error) {
	body, err := json.Marshal(map[string]string{"restaurant_id": restaurantID})
	if err != nil {
		return nil, errors.WrapInvalid(err, "session", "Fetch", "encode request")
	}

	return retry.DoWithResult(ctx, retry.Quick(), func() (*Credentials, error) {
		return c.attempt(ctx, body)
	})
}

func (c *CredentialClient) attempt(ctx context.Context, body []byte) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NonRetryable(
			errors.WrapInvalid(err, "session", "Fetch", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrCredentialsUnavailable, err),
			"session", "Fetch", "request credentials")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: read response: %v", errors.ErrCredentialsUnavailable, err),
			"session", "Fetch", "read response")
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrCredentialsUnavailable, resp.StatusCode),
			"session", "Fetch", "request credentials")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retry.NonRetryable(errors.WrapFatal(
			fmt.Errorf("%w: status %d", errors.ErrCredentialsUnavailable, resp.StatusCode),
			"session", "Fetch", "request credentials"))
	}

	var creds Credentials
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return nil, retry.NonRetryable(errors.WrapFatal(
			fmt.Errorf("%w: decode response: %v", errors.ErrCredentialsUnavailable, err),
			"session", "Fetch", "decode response"))
	}
	if creds.ClientSecret == "" || creds.SDPEndpoint == "" {
		return nil, retry.NonRetryable(errors.WrapFatal(
			fmt.Errorf("%w: response missing client_secret or sdp_endpoint",
				errors.ErrCredentialsUnavailable),
			"session", "Fetch", "validate response"))
	}
	return &creds, nil
}
