package config

import (
	"fmt"
	"os"
	"time"
)

// Config represents the full dataflame.yaml configuration.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Output        OutputConfig   `yaml:"output"`
	Model         ModelConfig    `yaml:"model"`
	Limits        LimitsConfig   `yaml:"limits"`
	Sandbox       SandboxConfig  `yaml:"sandbox"`
	Prompt        PromptConfig   `yaml:"prompt"`
	Format        FormatConfig   `yaml:"format"`
	Decision      DecisionConfig `yaml:"decision"`
}

type OutputConfig struct {
	Dir           string `yaml:"dir"`
	MinFreeDiskMB int    `yaml:"min_free_disk_mb"`
}

// ModelConfig describes the primary model endpoint and an optional fallback.
type ModelConfig struct {
	BaseURL        string          `yaml:"base_url"`
	Name           string          `yaml:"name"`
	APIKeyEnv      string          `yaml:"api_key_env"`
	APIKey         string          `yaml:"-"`
	Temperature    float64         `yaml:"temperature"`
	MaxTokens      int             `yaml:"max_tokens"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	MaxRetries     int             `yaml:"max_retries"`
	RetryDelay     time.Duration   `yaml:"retry_delay"`
	Fallback       *EndpointConfig `yaml:"fallback,omitempty"`
}

type EndpointConfig struct {
	BaseURL   string `yaml:"base_url"`
	Name      string `yaml:"name"`
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"-"`
}

type LimitsConfig struct {
	MaxRounds            int           `yaml:"max_rounds"`
	MaxRecoverAttempts   int           `yaml:"max_recover_attempts"`
	MaxExtractionRetries int           `yaml:"max_extraction_retries"`
	ExecTimeout          time.Duration `yaml:"exec_timeout"`
	MaxExecutionSteps    uint64        `yaml:"max_execution_steps"`
}

type SandboxConfig struct {
	AllowedModules []string `yaml:"allowed_modules"`
	DeniedCalls    []string `yaml:"denied_calls"`
	MaxStdoutBytes int      `yaml:"max_stdout_bytes"`
}

type PromptConfig struct {
	RecencyWindow int `yaml:"recency_window"`
}

type FormatConfig struct {
	StdoutLimit int `yaml:"stdout_limit"`
	Budget      int `yaml:"budget"`
}

// Decision modes.
const (
	DecisionModel     = "model"
	DecisionThreshold = "threshold"
)

type DecisionConfig struct {
	Mode      string `yaml:"mode"`
	Threshold int    `yaml:"threshold"`
}

// Load reads and parses a dataflame.yaml file, applying defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg, err := Migrate(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Finalize re-applies defaults and validates after external overrides
// (environment, flags) were layered on.
func Finalize(cfg *Config) error {
	applyDefaults(cfg)
	resolveKeys(cfg)
	return Validate(cfg)
}

func resolveKeys(cfg *Config) {
	if cfg.Model.APIKey == "" && cfg.Model.APIKeyEnv != "" {
		cfg.Model.APIKey = os.Getenv(cfg.Model.APIKeyEnv)
	}
	if fb := cfg.Model.Fallback; fb != nil && fb.APIKey == "" && fb.APIKeyEnv != "" {
		fb.APIKey = os.Getenv(fb.APIKeyEnv)
	}
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if cfg.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if cfg.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if cfg.Model.Temperature < 0 || cfg.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be 0-2, got %g", cfg.Model.Temperature)
	}
	if cfg.Model.MaxRetries < 0 {
		return fmt.Errorf("model.max_retries must be >= 0, got %d", cfg.Model.MaxRetries)
	}
	if fb := cfg.Model.Fallback; fb != nil && fb.Name == "" {
		return fmt.Errorf("model.fallback.name is required when a fallback is configured")
	}

	if cfg.Limits.MaxRounds < 1 {
		return fmt.Errorf("limits.max_rounds must be >= 1, got %d", cfg.Limits.MaxRounds)
	}
	if cfg.Limits.MaxRecoverAttempts < 0 {
		return fmt.Errorf("limits.max_recover_attempts must be >= 0, got %d", cfg.Limits.MaxRecoverAttempts)
	}
	if cfg.Limits.MaxExtractionRetries < 0 {
		return fmt.Errorf("limits.max_extraction_retries must be >= 0, got %d", cfg.Limits.MaxExtractionRetries)
	}
	if cfg.Limits.ExecTimeout <= 0 {
		return fmt.Errorf("limits.exec_timeout must be positive, got %v", cfg.Limits.ExecTimeout)
	}

	if len(cfg.Sandbox.AllowedModules) == 0 {
		return fmt.Errorf("sandbox.allowed_modules must not be empty")
	}
	for _, m := range cfg.Sandbox.AllowedModules {
		if !KnownModule(m) {
			return fmt.Errorf("sandbox.allowed_modules: unknown module %q", m)
		}
	}

	if cfg.Prompt.RecencyWindow < 1 {
		return fmt.Errorf("prompt.recency_window must be >= 1, got %d", cfg.Prompt.RecencyWindow)
	}
	if cfg.Format.StdoutLimit > cfg.Format.Budget {
		return fmt.Errorf("format.stdout_limit (%d) exceeds format.budget (%d)",
			cfg.Format.StdoutLimit, cfg.Format.Budget)
	}

	switch cfg.Decision.Mode {
	case DecisionModel:
	case DecisionThreshold:
		if cfg.Decision.Threshold < 1 {
			return fmt.Errorf("decision.threshold must be >= 1 in threshold mode, got %d", cfg.Decision.Threshold)
		}
	default:
		return fmt.Errorf("decision.mode must be %q or %q, got %q", DecisionModel, DecisionThreshold, cfg.Decision.Mode)
	}

	return nil
}

// KnownModule reports whether name is a module the sandbox can provide.
func KnownModule(name string) bool {
	for _, m := range knownModules {
		if m == name {
			return true
		}
	}
	return false
}

var knownModules = []string{"table", "stats", "plot", "json", "math", "time"}
