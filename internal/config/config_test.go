package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.APIURL)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, 100, cfg.WriterBatchSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VARYS_API_URL", "http://backend:9000")
	t.Setenv("STREAM_IDLE_TIMEOUT", "5s")
	t.Setenv("TELEMETRY_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.StreamIdleTimeout)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REQUEST_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}
