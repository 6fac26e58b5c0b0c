// Package config loads and validates the runtime's YAML/JSON5 configuration file, with an
// $include-resolving, env-expanding loader (see loader.go) scoped to the Engine/Conversation
// Manager/Gateway/Tool Dispatcher knobs this runtime actually has.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Version       int                 `yaml:"version,omitempty"`
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	ContextWindow ContextWindowConfig `yaml:"context_window"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Session       SessionConfig       `yaml:"session"`
	Interrupt     InterruptConfig     `yaml:"interrupt"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds listener settings (metrics/health only — no TUI, per the runtime's
// non-goals). MetricsPort is loaded and defaulted, but the runtime starts no listener and
// does not read it.
type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

// Load reads path (resolving $include directives, expanding ${ENV_VAR} references, then
// applying PENGUIN_*-prefixed env overrides and defaults) into a validated Config.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyContextWindowDefaults(&cfg.ContextWindow)
	applyCheckpointDefaults(&cfg.Checkpoint)
	applySessionDefaults(&cfg.Session)
	applyInterruptDefaults(&cfg.Interrupt)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

// applyEnvOverrides applies the PENGUIN_*-prefixed environment knobs, which take precedence
// over file-level values (grounded on original_source/penguin's config precedence rules).
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("PENGUIN_TOOL_TIMEOUT_CODE")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tools.CodeTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_TOOL_TIMEOUT_DEFAULT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tools.DefaultTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_CHECKPOINT_FREQUENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.Frequency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_CHECKPOINT_RETENTION_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.RetentionHours = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_CHECKPOINT_MAX_AGE_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.MaxAgeDays = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_REASONING_EXCLUDE")); v != "" {
		cfg.ContextWindow.ReasoningExclude = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_INTERRUPT_ON_ACTION")); v != "" {
		b := v == "1" || strings.EqualFold(v, "true")
		cfg.Interrupt.OnAction = &b
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_INTERRUPT_ON_TOOL_CALL")); v != "" {
		b := v == "1" || strings.EqualFold(v, "true")
		cfg.Interrupt.OnToolCall = &b
	}
	if v := strings.TrimSpace(os.Getenv("PENGUIN_METRICS_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
}

// ConfigValidationError collects every validation failure so a user sees them all at once
// rather than fixing a config file one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.LLM.DefaultProvider == "" {
		issues = append(issues, "llm.default_provider is required")
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; cfg.LLM.DefaultProvider != "" && !ok {
		issues = append(issues, fmt.Sprintf("llm.default_provider %q has no matching entry under llm.providers", cfg.LLM.DefaultProvider))
	}
	if cfg.ContextWindow.MaxTokens > 0 && cfg.ContextWindow.MaxTokens < cfg.ContextWindow.MinTokens {
		issues = append(issues, "context_window.max_tokens must not be below context_window.min_tokens")
	}
	if cfg.Session.Backend != "" && !validSessionBackend(cfg.Session.Backend) {
		issues = append(issues, fmt.Sprintf("session.backend %q is not one of memory, file, sql", cfg.Session.Backend))
	}
	if cfg.Checkpoint.Frequency < 0 {
		issues = append(issues, "checkpoint.frequency must not be negative")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validSessionBackend(backend string) bool {
	switch backend {
	case "memory", "file", "sql":
		return true
	default:
		return false
	}
}
