package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Analysis.MaxConcurrency)
	assert.Equal(t, "@every 5m", cfg.Sweep.Spec)
	assert.False(t, cfg.LLM.Enabled())
}

func TestLoadFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9090"
webhook_token = "s3cret"

[analysis]
max_concurrency = 4

[llm]
api_key = "sk-test"
model = "gpt-4o"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Server.WebhookToken)
	assert.Equal(t, 4, cfg.Analysis.MaxConcurrency)
	assert.True(t, cfg.LLM.Enabled())
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[analysis]
max_concurrency = 0
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
