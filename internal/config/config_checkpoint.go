package config

// CheckpointConfig configures the Checkpoint Manager's auto-checkpointing cadence and
// age/count-bounded retention sweep. Every checkpoint is a full materialized snapshot rather
// than a diff against its parent, so pruning never needs to walk branch ancestry to stay safe
// (see internal/checkpoint's package doc) — retention is governed by RetentionHours and a
// per-session MinCount floor instead of refcounting.
type CheckpointConfig struct {
	// Frequency auto-checkpoints every N appended messages (0 disables auto-checkpointing;
	// manual checkpoints are always available regardless).
	Frequency int `yaml:"frequency"`

	// RetentionHours is how long a checkpoint survives before the sweep is eligible to prune
	// it, subject to MinCount always being kept per session.
	RetentionHours int `yaml:"retention_hours"`

	// MaxAgeDays is loaded (and can be overridden from the environment) but is not read by
	// the runtime; the retention sweep prunes by RetentionHours and MinCount only.
	MaxAgeDays int `yaml:"max_age_days"`

	// SweepInterval is how often the retention sweep runs, expressed as a cron schedule
	// (consumed by the robfig/cron scheduler backing the sweep worker).
	SweepInterval string `yaml:"sweep_interval"`
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.Frequency == 0 {
		cfg.Frequency = 20
	}
	if cfg.RetentionHours == 0 {
		cfg.RetentionHours = 72
	}
	if cfg.SweepInterval == "" {
		cfg.SweepInterval = "@hourly"
	}
}
