package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint16(4443), cfg.Port)
	require.Equal(t, uint64(100), cfg.MaxRequestID)
	require.Equal(t, 7*time.Second, cfg.MaxIdleTimeout)
	require.Equal(t, 3*time.Second, cfg.KeepAlive)
	require.False(t, cfg.EnableObjectLogging)
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("MOQRELAY_PORT", "8443")
	t.Setenv("MOQRELAY_ENABLE_OBJECT_LOGGING", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint16(8443), cfg.Port)
	require.True(t, cfg.EnableObjectLogging)
}

func TestLoadMissingEnvFileIsNotAnError(t *testing.T) {
	_, err := Load("/nonexistent/path/to/.env")
	require.NoError(t, err)
}

func TestRelayConfigProjection(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	rc := cfg.RelayConfig()
	require.Equal(t, cfg.MaxRequestID, rc.MaxRequestID)
	require.Equal(t, cfg.CacheSize, rc.CacheCapacity)
	require.Equal(t, cfg.SetupDeadline, rc.SetupDeadline)
}
