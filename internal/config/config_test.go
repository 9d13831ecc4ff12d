package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, GatewayLocal, cfg.Gateway.Mode)
	assert.Equal(t, "reset", cfg.Survey.RestartPolicy)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  mode: remote
  base_url: https://survey.example.com/api
  list_cache_ttl: 2m
survey:
  restart_policy: ignore
  max_notices: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, GatewayRemote, cfg.Gateway.Mode)
	assert.Equal(t, "https://survey.example.com/api", cfg.Gateway.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Gateway.ListCacheTTL)
	assert.Equal(t, "ignore", cfg.Survey.RestartPolicy)
	assert.Equal(t, 5, cfg.Survey.MaxNotices)

	// Untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "Footprint Survey", cfg.Export.DocumentName)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
survey:
  restart_policy: ignore
`)
	t.Setenv("SURVEY__SURVEY__RESTART_POLICY", "reset")
	t.Setenv("SURVEY__SURVEY__SAVE_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "reset", cfg.Survey.RestartPolicy)
	assert.Equal(t, 45*time.Second, cfg.Survey.SaveTimeout)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"remote without base url", "gateway:\n  mode: remote\n"},
		{"unknown gateway mode", "gateway:\n  mode: carrier-pigeon\n"},
		{"unknown restart policy", "survey:\n  restart_policy: append\n"},
		{"id prefix collides with persisted ids", "survey:\n  id_prefix: property\n"},
		{"zero notices", "survey:\n  max_notices: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "gateway.base_url", envKey("SURVEY__GATEWAY__BASE_URL"))
	assert.Equal(t, "survey.max_notices", envKey("SURVEY__SURVEY__MAX_NOTICES"))
}
