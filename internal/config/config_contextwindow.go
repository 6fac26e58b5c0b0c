package config

// ContextWindowConfig configures the per-agent Context Window Manager's token ceiling and
// trimming behavior.
type ContextWindowConfig struct {
	// MaxTokens is the default ceiling passed to contextwindow.New for an agent that doesn't
	// share a window with another agent.
	MaxTokens int `yaml:"max_tokens"`

	// MinTokens is used only by config validation, which rejects a MaxTokens below it. It does
	// not limit how far a window is clamped at run time.
	MinTokens int `yaml:"min_tokens"`

	// ReasoningExclude is loaded (and can be overridden from the environment) but is not read
	// by the runtime: FormatForGateway output is not filtered by it, and REASONING content is
	// only deprioritized during trimming.
	ReasoningExclude bool `yaml:"reasoning_exclude"`
}

func applyContextWindowDefaults(cfg *ContextWindowConfig) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 128000
	}
	if cfg.MinTokens == 0 {
		cfg.MinTokens = 16000
	}
}
