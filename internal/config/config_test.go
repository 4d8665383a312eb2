package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "agentcore", cfg.App.Name)
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Negotiation.MaxFallbackAttempts)
	assert.Equal(t, 64, cfg.Lifecycle.BTreeOrder)
	assert.InDelta(t, 0.6, cfg.Consensus.RequiredMajority, 0.0001)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := writeTempYAML(t, `
app:
  name: custom-agent
consensus:
  required_majority: 0.75
  minimum_votes: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-agent", cfg.App.Name)
	assert.InDelta(t, 0.75, cfg.Consensus.RequiredMajority, 0.0001)
	assert.Equal(t, 5, cfg.Consensus.MinimumVotes)
	assert.Equal(t, 1024, cfg.Cache.MaxEntries, "unrelated defaults survive")
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("AGENTCORE_APP_NAME", "env-agent")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-agent", cfg.App.Name)
}

func TestLoad_RejectsInvalidConsensusMajority(t *testing.T) {
	path := writeTempYAML(t, "consensus:\n  required_majority: 1.5\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnparsableMinProtocolVersion(t *testing.T) {
	path := writeTempYAML(t, "negotiation:\n  min_protocol_version: \"not-a-version\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNegotiationConfig_ConvertsToPreferencesAndFallback(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	prefs, fallback, err := cfg.Negotiation.ToPreferencesAndFallback()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), prefs.MinProtocolVersion.Major)
	assert.True(t, fallback.AllowFormatDowngrade)
}

func TestLifecycleConfig_ConvertsToLifecycleConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	lc := cfg.Lifecycle.ToLifecycleConfig()
	assert.Equal(t, cfg.Lifecycle.StoragePath, lc.StoragePath)
	assert.Equal(t, cfg.Lifecycle.BTreeOrder, lc.BTreeOrder)
}
