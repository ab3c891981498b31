package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const maxSupportedSchemaVersion = 1

// Migrate parses raw YAML bytes, handling schema version migration.
// Files without a schema_version may use the legacy flat layout with an
// `llm` section and a top-level `max_rounds`.
func Migrate(raw []byte) (*Config, error) {
	var base struct {
		SchemaVersion int        `yaml:"schema_version"`
		LLM           *legacyLLM `yaml:"llm"`
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("parse schema_version: %w", err)
	}

	switch {
	case base.SchemaVersion == 0 && base.LLM != nil:
		return parseLegacy(raw)
	case base.SchemaVersion == 0 || base.SchemaVersion == 1:
		return parseV1(raw)
	default:
		return nil, fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			base.SchemaVersion, maxSupportedSchemaVersion)
	}
}

func parseV1(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SchemaVersion = 1
	return &cfg, nil
}

type legacyLLM struct {
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type legacyConfig struct {
	LLM       legacyLLM `yaml:"llm"`
	OutputDir string    `yaml:"output_dir"`
	MaxRounds int       `yaml:"max_rounds"`
}

func parseLegacy(raw []byte) (*Config, error) {
	var old legacyConfig
	if err := yaml.Unmarshal(raw, &old); err != nil {
		return nil, fmt.Errorf("parse legacy config: %w", err)
	}
	return &Config{
		SchemaVersion: 1,
		Output:        OutputConfig{Dir: old.OutputDir},
		Model: ModelConfig{
			BaseURL:     old.LLM.BaseURL,
			Name:        old.LLM.Model,
			APIKeyEnv:   old.LLM.APIKeyEnv,
			Temperature: old.LLM.Temperature,
			MaxTokens:   old.LLM.MaxTokens,
		},
		Limits: LimitsConfig{MaxRounds: old.MaxRounds},
	}, nil
}
