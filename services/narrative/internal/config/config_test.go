package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "narrative.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Narrative.Enabled)
	assert.Equal(t, 8090, cfg.Service.Port)
	assert.Equal(t, AgentNone, cfg.Agent.Provider)
	assert.Equal(t, 30*24*time.Hour, cfg.Narrative.ExportTTL)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
service:
  port: 9000
  public_base_url: https://pitch.example.com
narrative:
  enabled: false
  export_ttl: 72h
integrity:
  methodology_version: vpd-2
  agent_versions:
    composer: openai-2026-01
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "https://pitch.example.com", cfg.Service.PublicBaseURL)
	assert.False(t, cfg.Narrative.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Narrative.ExportTTL)
	assert.Equal(t, 60, cfg.Narrative.VerifyRateLimitPerMinute, "unset keys keep defaults")
	assert.Equal(t, "vpd-2", cfg.Integrity.MethodologyVersion)
	assert.Equal(t, "gates-mean-1", cfg.Integrity.FitScoreAlgorithmVersion)
	assert.Equal(t, map[string]string{"composer": "openai-2026-01"}, cfg.Integrity.AgentVersions)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "narrative:\n  enabled: true\n")
	t.Setenv("NARRATIVE_ENABLED", "off")
	t.Setenv("SERVICE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://narrative@localhost/narrative")
	t.Setenv("VERIFY_RATE_LIMIT_PER_MINUTE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Narrative.Enabled)
	assert.Equal(t, 7070, cfg.Service.Port)
	assert.Equal(t, "postgres://narrative@localhost/narrative", cfg.Database.DB().URL)
	assert.Equal(t, 60, cfg.Narrative.VerifyRateLimitPerMinute)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Service.Port = 0
	cfg.Agent.Provider = AgentOpenAI
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service.port")
	assert.Contains(t, err.Error(), "agent.api_key")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "service: [unterminated"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
