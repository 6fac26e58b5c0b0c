package config

// InterruptConfig controls when the LLM Gateway's streaming path is interrupted mid-response:
// a completed action tag or a native tool-call chunk can cut a stream short.
type InterruptConfig struct {
	// OnAction interrupts an in-flight stream as soon as a complete action tag is parsed from
	// accumulated output, instead of waiting for the stream to finish. Defaults to true.
	OnAction *bool `yaml:"on_action"`

	// OnToolCall interrupts an in-flight stream when a native tool-call chunk arrives from a
	// provider that supports function calling, mirroring OnAction for that calling convention.
	// Defaults to true.
	OnToolCall *bool `yaml:"on_tool_call"`
}

func applyInterruptDefaults(cfg *InterruptConfig) {
	// Both default to true: the core favors responsive interruption over waiting for a model
	// to finish generating a turn with no remaining decision to make.
	if cfg.OnAction == nil {
		t := true
		cfg.OnAction = &t
	}
	if cfg.OnToolCall == nil {
		t := true
		cfg.OnToolCall = &t
	}
}
