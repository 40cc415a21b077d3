// Package config loads and validates the service configuration. A JSON
// config file provides the base; environment variables override individual
// fields so deployments can keep secrets out of files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tablecraft/voiceorder/errors"
	"github.com/tablecraft/voiceorder/gateway"
	"github.com/tablecraft/voiceorder/kitchen"
	"github.com/tablecraft/voiceorder/menu"
	"github.com/tablecraft/voiceorder/natsclient"
	"github.com/tablecraft/voiceorder/order"
	"github.com/tablecraft/voiceorder/session"
	"github.com/tablecraft/voiceorder/transport"
)

// Config is the complete service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address for the gateway and /metrics.
	ListenAddr string `json:"listen_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	Credentials session.CredentialClientConfig `json:"credentials"`
	OrderAPI    order.ClientConfig             `json:"order_api"`
	Transport   transport.Config               `json:"transport"`
	Matcher     menu.MatcherConfig             `json:"matcher"`
	Gateway     gateway.Config                 `json:"gateway"`
	Kitchen     kitchen.Config                 `json:"kitchen"`

	// NATS is optional; an empty URL disables kitchen announcements.
	NATS natsclient.Config `json:"nats"`

	// MaxSessions bounds concurrent voice sessions; 0 means unlimited.
	MaxSessions int `json:"max_sessions"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Transport:       transport.DefaultConfig(),
		Matcher:         menu.DefaultMatcherConfig(),
		Gateway:         gateway.DefaultConfig(),
		Kitchen:         kitchen.DefaultConfig(),
		Credentials: session.CredentialClientConfig{
			RequestTimeout: 10 * time.Second,
		},
		OrderAPI: order.DefaultClientConfig(""),
	}
}

// Load reads the config file (when path is non-empty), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from VOICEORDER_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "VOICEORDER_LISTEN_ADDR")
	setString(&c.LogLevel, "VOICEORDER_LOG_LEVEL")
	setString(&c.Credentials.Endpoint, "VOICEORDER_CREDENTIALS_ENDPOINT")
	setString(&c.Credentials.AuthToken, "VOICEORDER_CREDENTIALS_TOKEN")
	setString(&c.OrderAPI.Endpoint, "VOICEORDER_ORDER_API_ENDPOINT")
	setString(&c.OrderAPI.AuthToken, "VOICEORDER_ORDER_API_TOKEN")
	setString(&c.NATS.URL, "VOICEORDER_NATS_URL")
	setString(&c.Kitchen.SubjectPrefix, "VOICEORDER_KITCHEN_SUBJECT_PREFIX")
	setInt(&c.MaxSessions, "VOICEORDER_MAX_SESSIONS")
	setFloat(&c.Matcher.MinConfidence, "VOICEORDER_MATCH_MIN_CONFIDENCE")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.ListenAddr == "" {
		problems = append(problems, "listen_addr is required")
	}
	if c.Credentials.Endpoint == "" {
		problems = append(problems, "credentials.endpoint is required")
	}
	if c.OrderAPI.Endpoint == "" {
		problems = append(problems, "order_api.endpoint is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.Matcher.MinConfidence < 0 || c.Matcher.MinConfidence > 1 {
		problems = append(problems, "matcher.min_confidence must be in [0,1]")
	}
	if c.MaxSessions < 0 {
		problems = append(problems, "max_sessions cannot be negative")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%s", strings.Join(problems, "; ")),
			"config", "Validate", "validate configuration")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
