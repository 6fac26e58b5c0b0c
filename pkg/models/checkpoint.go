package models

import "time"

// Checkpoint is an immutable snapshot of a session head, optionally named and parented for
// branching. Checkpoints form a DAG rooted at each session's initial checkpoint.
type Checkpoint struct {
	ID                 string `json:"id"`
	SessionID          string `json:"session_id"`
	ParentCheckpointID string `json:"parent_checkpoint_id,omitempty"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// MessageCount is the number of messages included in the snapshot.
	MessageCount int `json:"message_count"`

	// SnapshotRef is opaque to callers; it identifies where the snapshotted messages are
	// materialized (an in-memory slice key, a file path, a row id — implementation's choice).
	SnapshotRef string `json:"snapshot_ref"`

	// Kind records how the checkpoint was created, mirrored onto the `checkpoint` event.
	Kind CheckpointKind `json:"kind"`

	CreatedAt time.Time `json:"created_at"`
}

// CheckpointKind distinguishes how a checkpoint came to exist.
type CheckpointKind string

const (
	CheckpointAuto   CheckpointKind = "auto"
	CheckpointManual CheckpointKind = "manual"
	CheckpointBranch CheckpointKind = "branch"
)

// IsRoot reports whether this checkpoint has no parent.
func (c *Checkpoint) IsRoot() bool { return c.ParentCheckpointID == "" }
