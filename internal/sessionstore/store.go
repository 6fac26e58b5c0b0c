// Package sessionstore persists sessions as versioned records and provides a reliable,
// atomic-append path for messages.
package sessionstore

import (
	"context"
	"errors"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// RecordVersion is the current on-disk/on-wire version of a persisted session record.
const RecordVersion = 1

// ErrSessionNotFound is returned by Load/Save/Delete/Append for an unknown session ID.
// SQLStore.Append does not check that the session exists and does not return it.
var ErrSessionNotFound = errors.New("sessionstore: session not found")

// ListOptions filters and paginates List.
type ListOptions struct {
	AgentID string
	Limit   int
	Offset  int
}

// DeleteResult reports the outcome of a guarded delete.
type DeleteResult struct {
	Deleted bool
	// Warning is non-empty when Deleted is false because other agents still reference the
	// session: the delete is refused until every referent is removed, surfaced as a warning
	// result rather than an exception.
	Warning string
}

// Record is the versioned, on-disk/on-wire shape of a persisted session.
type Record struct {
	Version   int               `json:"version"`
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	CreatedAt string            `json:"created_at"`
	Title     string            `json:"title,omitempty"`
	Messages  []*models.Message `json:"messages"`
}

// Store is the Session Store contract: load/save/list/delete plus an append-only message log.
type Store interface {
	// Create persists a brand-new session, assigning ID/CreatedAt if unset.
	Create(ctx context.Context, session *models.Session) error

	// Load returns the session record (without its messages; use History for those).
	Load(ctx context.Context, id string) (*models.Session, error)

	// Save persists updates to an existing session's metadata. MemoryStore keeps the whole
	// session, Metadata map included; FileStore and SQLStore persist only the title.
	Save(ctx context.Context, session *models.Session) error

	// List returns session summaries, most recently created last.
	List(ctx context.Context, opts ListOptions) ([]models.SessionSummary, error)

	// Delete guards against removing a session other agents still reference; referents is
	// the caller-supplied set of agent IDs currently holding a reference (e.g. via
	// AgentRecord.ShareSession), excluding the agent initiating the delete.
	Delete(ctx context.Context, id string, referents []string) (DeleteResult, error)

	// Append atomically adds one message to a session's log. Implementations MUST ensure a
	// crash mid-write never corrupts previously-appended messages (rename-over-temp or
	// equivalent).
	Append(ctx context.Context, sessionID string, msg *models.Message) error

	// History returns up to limit most-recent messages (0 = all) in append order.
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Replace atomically overwrites a session's entire message log with messages. It is the
	// one seam where the otherwise append-only log may be rewritten wholesale, used by the
	// Checkpoint Manager to implement rollback (replacing the current session with a
	// snapshot's contents) and branch (seeding a new session's initial state). Ordinary turn
	// processing must never call Replace.
	Replace(ctx context.Context, sessionID string, messages []*models.Message) error
}
