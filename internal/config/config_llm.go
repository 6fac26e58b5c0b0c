package config

import "time"

// LLMConfig configures the LLM Gateway's provider adapters. The runtime reads DefaultProvider
// and Providers; FallbackChain, Bedrock and Routing are loaded but not read.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists provider IDs to fall back to if the default provider fails.
	// Example: ["anthropic", "bedrock"]. It is not read: no fallback across providers
	// takes place.
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock holds AWS Bedrock model discovery settings. It is not read: no model discovery
	// takes place.
	Bedrock BedrockConfig `yaml:"bedrock"`

	// Routing holds provider selection rules. It is not read: no routing between providers
	// takes place.
	Routing LLMRoutingConfig `yaml:"routing"`
}

// LLMProviderConfig configures a single named provider adapter.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
	// Region is consulted by the bedrock adapter; ignored by others.
	Region string `yaml:"region"`
}

// LLMRoutingConfig configures provider routing rules.
type LLMRoutingConfig struct {
	Enabled           bool          `yaml:"enabled"`
	UnhealthyCooldown time.Duration `yaml:"unhealthy_cooldown"`
	Rules             []RoutingRule `yaml:"rules"`
	Fallback          RoutingTarget `yaml:"fallback"`
}

// RoutingRule defines a routing rule matched against action/tag patterns.
type RoutingRule struct {
	Name   string        `yaml:"name"`
	Match  RoutingMatch  `yaml:"match"`
	Target RoutingTarget `yaml:"target"`
}

// RoutingMatch defines rule matching criteria.
type RoutingMatch struct {
	Patterns []string `yaml:"patterns"`
	Tags     []string `yaml:"tags"`
}

// RoutingTarget defines a routing destination.
type RoutingTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// BedrockConfig holds settings for AWS Bedrock foundation model discovery. The runtime
// performs no model discovery and reads none of these fields.
type BedrockConfig struct {
	// Enabled switches Bedrock foundation model discovery on.
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region to query for models. Default: us-east-1.
	Region string `yaml:"region"`

	// RefreshInterval is how often to refresh the model list. Default: 1h.
	RefreshInterval string `yaml:"refresh_interval"`

	// ProviderFilter limits discovery to specific model providers (e.g. ["anthropic", "meta"]).
	ProviderFilter []string `yaml:"provider_filter"`

	// DefaultContextWindow is used when a model doesn't report context size.
	DefaultContextWindow int `yaml:"default_context_window"`

	// DefaultMaxTokens is used when a model doesn't report max output.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.RefreshInterval == "" {
		cfg.Bedrock.RefreshInterval = "1h"
	}
	if cfg.Bedrock.DefaultContextWindow == 0 {
		cfg.Bedrock.DefaultContextWindow = 32000
	}
	if cfg.Bedrock.DefaultMaxTokens == 0 {
		cfg.Bedrock.DefaultMaxTokens = 4096
	}
	if cfg.Routing.UnhealthyCooldown == 0 {
		cfg.Routing.UnhealthyCooldown = 30 * time.Second
	}
}
