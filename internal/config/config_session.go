package config

// SessionConfig selects and configures the Session Store backend.
type SessionConfig struct {
	// Backend selects the sessionstore implementation: "memory", "file", or "sql".
	Backend string `yaml:"backend"`

	// Path is the workspace root for the file backend, or the database file for the sql
	// backend.
	Path string `yaml:"path"`

	// HistoryLimit is a message-count bound for history loads (0 = all). It is loaded but not
	// read by the runtime; no history load is bounded by it.
	HistoryLimit int `yaml:"history_limit"`
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.Path == "" {
		cfg.Path = "./data/sessions"
	}
}
