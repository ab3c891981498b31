package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateV1(t *testing.T) {
	raw := []byte(`
schema_version: 1
model:
  name: "analyst"
`)
	cfg, err := Migrate(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.SchemaVersion)
	assert.Equal(t, "analyst", cfg.Model.Name)
}

func TestMigrateNoVersion(t *testing.T) {
	cfg, err := Migrate([]byte("limits:\n  max_rounds: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.SchemaVersion, "missing version defaults to 1")
	assert.Equal(t, 4, cfg.Limits.MaxRounds)
}

func TestMigrateLegacyLayout(t *testing.T) {
	raw := []byte(`
llm:
  api_key_env: LEGACY_KEY
  base_url: https://legacy.example.com/v1
  model: old-model
  temperature: 0.2
  max_tokens: 2048
output_dir: results
max_rounds: 12
`)
	cfg, err := Migrate(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.SchemaVersion)
	assert.Equal(t, "old-model", cfg.Model.Name)
	assert.Equal(t, "LEGACY_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, "https://legacy.example.com/v1", cfg.Model.BaseURL)
	assert.Equal(t, 2048, cfg.Model.MaxTokens)
	assert.Equal(t, "results", cfg.Output.Dir)
	assert.Equal(t, 12, cfg.Limits.MaxRounds)
}

func TestMigrateUnsupportedVersion(t *testing.T) {
	_, err := Migrate([]byte("schema_version: 99\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema_version 99")
}

func TestMigrateInvalidYAML(t *testing.T) {
	_, err := Migrate([]byte(`{{{invalid yaml}}}`))
	require.Error(t, err)
}
