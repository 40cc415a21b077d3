package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecraft/voiceorder/errors"
)

func validFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"credentials": {"endpoint": "https://platform.example/v1/voice/credentials"},
		"order_api": {"endpoint": "https://platform.example/v1/orders"}
	}`), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(validFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.6, cfg.Matcher.MinConfidence)
	assert.Equal(t, "oai-events", cfg.Transport.DataChannelLabel)
	assert.Equal(t, "voiceorder.kitchen", cfg.Kitchen.SubjectPrefix)
}

func TestLoadRequiresEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "credentials.endpoint")
	assert.Contains(t, err.Error(), "order_api.endpoint")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"log_level": "verbose",
		"credentials": {"endpoint": "https://x"},
		"order_api": {"endpoint": "https://y"}
	}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEORDER_LISTEN_ADDR", ":9999")
	t.Setenv("VOICEORDER_NATS_URL", "nats://broker:4222")
	t.Setenv("VOICEORDER_MATCH_MIN_CONFIDENCE", "0.75")
	t.Setenv("VOICEORDER_MAX_SESSIONS", "32")

	cfg, err := Load(validFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 0.75, cfg.Matcher.MinConfidence)
	assert.Equal(t, 32, cfg.MaxSessions)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateConfidenceBounds(t *testing.T) {
	cfg, err := Load(validFile(t))
	require.NoError(t, err)

	cfg.Matcher.MinConfidence = 1.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidence")
}
