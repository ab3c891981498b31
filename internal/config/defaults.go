package config

import "time"

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "outputs"
	}
	if cfg.Output.MinFreeDiskMB == 0 {
		cfg.Output.MinFreeDiskMB = 100
	}

	// Model defaults
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o-mini"
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.1
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 16384
	}
	if cfg.Model.RequestTimeout == 0 {
		cfg.Model.RequestTimeout = 120 * time.Second
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.RetryDelay == 0 {
		cfg.Model.RetryDelay = 2 * time.Second
	}
	if fb := cfg.Model.Fallback; fb != nil && fb.APIKeyEnv == "" {
		fb.APIKeyEnv = cfg.Model.APIKeyEnv
	}

	// Limits defaults
	if cfg.Limits.MaxRounds == 0 {
		cfg.Limits.MaxRounds = 20
	}
	if cfg.Limits.MaxRecoverAttempts == 0 {
		cfg.Limits.MaxRecoverAttempts = 3
	}
	if cfg.Limits.MaxExtractionRetries == 0 {
		cfg.Limits.MaxExtractionRetries = 2
	}
	if cfg.Limits.ExecTimeout == 0 {
		cfg.Limits.ExecTimeout = 30 * time.Second
	}
	if cfg.Limits.MaxExecutionSteps == 0 {
		cfg.Limits.MaxExecutionSteps = 50_000_000
	}

	// Sandbox defaults
	if len(cfg.Sandbox.AllowedModules) == 0 {
		cfg.Sandbox.AllowedModules = append([]string(nil), knownModules...)
	}
	if len(cfg.Sandbox.DeniedCalls) == 0 {
		cfg.Sandbox.DeniedCalls = []string{
			"os", "sys", "subprocess", "socket", "shutil", "requests", "urllib",
			"http", "open", "eval", "exec", "compile", "__import__",
		}
	}
	if cfg.Sandbox.MaxStdoutBytes == 0 {
		cfg.Sandbox.MaxStdoutBytes = 64 * 1024
	}

	if cfg.Prompt.RecencyWindow == 0 {
		cfg.Prompt.RecencyWindow = 3
	}

	if cfg.Format.StdoutLimit == 0 {
		cfg.Format.StdoutLimit = 2000
	}
	if cfg.Format.Budget == 0 {
		cfg.Format.Budget = 6000
	}

	if cfg.Decision.Mode == "" {
		cfg.Decision.Mode = DecisionModel
	}
	if cfg.Decision.Mode == DecisionThreshold && cfg.Decision.Threshold == 0 {
		cfg.Decision.Threshold = 5
	}
}
