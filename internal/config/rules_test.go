package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadRules_File(t *testing.T) {
	path := writeRules(t, `
rate_limits:
  default:
    max_requests: 7
    window: 30s
  endpoints:
    submit_score:
      max_requests: 5
      window: 60s
games:
  flappy:
    score_rate_cap: 1.5
  chess: {}
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, RateRule{MaxRequests: 7, Window: 30 * time.Second}, rules.RateLimits.Default)
	assert.Equal(t, RateRule{MaxRequests: 5, Window: time.Minute}, rules.RateLimits.Endpoints["submit_score"])
	assert.InDelta(t, 1.5, rules.Games["flappy"].ScoreRateCap, 1e-9)
	assert.Zero(t, rules.Games["chess"].ScoreRateCap)
}

func TestLoadRules_MissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, RateRule{MaxRequests: 30, Window: time.Minute}, rules.RateLimits.Default)
	assert.Empty(t, rules.RateLimits.Endpoints)
}

func TestLoadRules_Invalid(t *testing.T) {
	path := writeRules(t, `
rate_limits:
  endpoints:
    submit_score:
      max_requests: 0
      window: 60s
`)

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit_score")
}

func TestLoadRules_RepositoryFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "config", "rules.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, rules.RateLimits.Endpoints["submit_score"].MaxRequests)
	assert.Positive(t, rules.RateLimits.Endpoints["balance_sync"].MaxRequests)
	assert.Positive(t, rules.Games["flappy"].ScoreRateCap)

	chess, ok := rules.Games["chess"]
	require.True(t, ok, "uncapped games must be registered")
	assert.Zero(t, chess.ScoreRateCap)
}

func TestLoadRules_EmptyGameEntryIsKept(t *testing.T) {
	path := writeRules(t, `
games:
  flappy:
    score_rate_cap: 1.5
  chess: {}
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)

	require.Contains(t, rules.Games, "chess")
	assert.Zero(t, rules.Games["chess"].ScoreRateCap)
	assert.InDelta(t, 1.5, rules.Games["flappy"].ScoreRateCap, 1e-9)
}
