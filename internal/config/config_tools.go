package config

import "time"

// ToolsConfig holds Tool Dispatcher settings: timeouts, concurrency, and an authorization
// policy. Of these, the runtime reads only DefaultTimeout, which it passes to the dispatcher.
type ToolsConfig struct {
	// DefaultTimeout is the dispatcher's default timeout for tool calls.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// CodeTimeout is a timeout for execute_code/shell-style tool calls. It is loaded (and can
	// be overridden from the environment) but is not passed to the dispatcher, so code tools
	// run under the same default timeout as every other tool.
	CodeTimeout time.Duration `yaml:"code_timeout"`

	// MaxConcurrent is a per-agent limit on parallel tool calls. It is loaded but not read;
	// the dispatcher applies no concurrency limit from it.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Policy holds allow/deny settings for tool calls. It is loaded but not read; the
	// dispatcher's policy resolver is built without it.
	Policy ToolPolicyConfig `yaml:"policy"`
}

// ToolPolicyConfig holds allow/deny settings for tool calls (see ToolsConfig.Policy).
type ToolPolicyConfig struct {
	// AllowedTools, when non-empty, is the exhaustive set of tool names any agent may call.
	AllowedTools []string `yaml:"allowed_tools"`

	// DeniedTools is always consulted, even when AllowedTools is empty (deny overrides allow).
	DeniedTools []string `yaml:"denied_tools"`

	// RequireApprovalFor lists tool names whose mutating side effects require human approval
	// before execution.
	RequireApprovalFor []string `yaml:"require_approval_for"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.CodeTimeout == 0 {
		cfg.CodeTimeout = 2 * time.Minute
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}
}
