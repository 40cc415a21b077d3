// Package natsclient manages the NATS connection used for kitchen
// announcements. It wraps connection lifecycle, reconnect policy and
// drain-on-close behind a small surface.
package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tablecraft/voiceorder/errors"
)

// Config holds NATS connection settings.
type Config struct {
	// URL is the NATS server URL, e.g. nats://localhost:4222.
	URL string `json:"url"`

	// Name identifies this client in NATS monitoring.
	Name string `json:"name,omitempty"`

	// MaxReconnects bounds automatic reconnect attempts; -1 is unlimited.
	MaxReconnects int `json:"max_reconnects"`

	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration `json:"reconnect_wait"`

	// ConnectTimeout bounds the initial connect.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// DrainTimeout bounds Close's drain of in-flight messages.
	DrainTimeout time.Duration `json:"drain_timeout"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "voiceorder",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		DrainTimeout:   10 * time.Second,
	}
}

// Client owns one NATS connection.
type Client struct {
	cfg    Config
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials NATS and returns a connected client. Reconnects after a
// drop are handled by the underlying connection; a publish during an outage
// fails and the caller decides what to do with it.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("url is required"),
			"natsclient", "Connect", "validate config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}

	c := &Client{cfg: cfg, logger: logger}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("connect to %s: %w", cfg.URL, err),
			"natsclient", "Connect", "dial NATS")
	}
	c.conn = conn
	logger.Info("NATS connected", "url", conn.ConnectedUrl())
	return c, nil
}

// Publish sends one message. Satisfies the kitchen announcer's publisher.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("publish to %s: %w", subject, err),
			"natsclient", "Publish", "publish message")
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains in-flight messages and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return errors.WrapTransient(err, "natsclient", "Close", "drain connection")
	}
	return nil
}
