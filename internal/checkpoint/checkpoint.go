// Package checkpoint implements the Checkpoint Manager: point-in-time session
// snapshots with parent links, rollback, branching, and a background auto-checkpoint +
// retention worker.
//
// Every snapshot is materialized in full (the complete message slice at that point), not as a
// diff against its parent. Because a checkpoint never depends on its parent's snapshot bytes to
// be reconstructed, pruning an ancestor is always safe — retention never breaks branch
// reconstruction. ParentCheckpointID is retained purely as DAG provenance for UIs.
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/internal/sessionstore"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// Snapshot pairs a Checkpoint's metadata with its materialized message slice.
type Snapshot struct {
	Checkpoint models.Checkpoint
	Messages   []*models.Message
}

// Backend persists checkpoint metadata and snapshots. MemoryBackend and FileBackend are the
// two implementations provided; a SQL-backed one would follow the same shape as sessionstore's.
type Backend interface {
	Save(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, checkpointID string) (*Snapshot, error)
	// List returns checkpoint metadata for sessionID, oldest to newest. sessionID == "" lists
	// every checkpoint across all sessions (used by the retention sweep).
	List(ctx context.Context, sessionID string) ([]models.Checkpoint, error)
	Delete(ctx context.Context, checkpointID string) error
}

// CreateOptions configures a manual or automatic checkpoint creation.
type CreateOptions struct {
	Name        string
	Description string
	Kind        models.CheckpointKind
	ParentID    string // overrides the inferred parent (current head) when set
}

// RetentionPolicy bounds how long checkpoints survive the sweep.
type RetentionPolicy struct {
	MaxAge   time.Duration // 0 = no ceiling
	MinCount int           // always keep at least this many most-recent checkpoints per session
}

// Manager is the Checkpoint Manager: create/list/rollback/branch plus the async auto-worker.
type Manager struct {
	store   sessionstore.Store
	backend Backend
	sink    events.Sink
	metrics *observability.Metrics

	frequency int // auto-checkpoint every N appended messages; 0 disables
	retention RetentionPolicy

	mu      sync.Mutex
	counter map[string]int // per-session message count since the last auto-checkpoint

	queue chan string
	wg    sync.WaitGroup
	quit  chan struct{}
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithEventSink installs the sink that receives `checkpoint` events.
func WithEventSink(sink events.Sink) Option { return func(m *Manager) { m.sink = sink } }

// WithAutoFrequency sets how many appended messages trigger an automatic checkpoint (0
// disables auto-checkpointing; manual Create calls are always available).
func WithAutoFrequency(n int) Option { return func(m *Manager) { m.frequency = n } }

// WithRetention sets the sweep's age/count policy.
func WithRetention(p RetentionPolicy) Option { return func(m *Manager) { m.retention = p } }

// WithMetrics installs the Prometheus collectors Create reports against. A nil Metrics, the
// default, disables instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// New creates a Manager and starts its background auto-checkpoint worker. Call Close to stop
// it.
func New(store sessionstore.Store, backend Backend, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		backend: backend,
		counter: make(map[string]int),
		queue:   make(chan string, 256),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.wg.Add(1)
	go m.runWorker()
	return m
}

// Close stops the auto-checkpoint worker, draining any already-queued requests first.
func (m *Manager) Close() {
	close(m.quit)
	m.wg.Wait()
}

// runWorker processes auto-checkpoint requests strictly FIFO, one at a time, so concurrent
// OnMessageAppended calls never race to create overlapping snapshots for the same session.
func (m *Manager) runWorker() {
	defer m.wg.Done()
	for {
		select {
		case sessionID := <-m.queue:
			m.createAuto(sessionID)
		case <-m.quit:
			for {
				select {
				case sessionID := <-m.queue:
					m.createAuto(sessionID)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) createAuto(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Create(ctx, sessionID, CreateOptions{Kind: models.CheckpointAuto}); err != nil && m.sink != nil {
		m.sink.Emit(events.Error("", "", "PersistenceError", fmt.Errorf("auto-checkpoint %s: %w", sessionID, err)))
	}
}

// OnMessageAppended is called by the Conversation Manager after every message append. Once
// Frequency messages have accumulated since the last checkpoint for this session, it enqueues
// an auto-checkpoint request (non-blocking; a full queue simply defers to the next append).
func (m *Manager) OnMessageAppended(sessionID string) {
	if m.frequency <= 0 {
		return
	}
	m.mu.Lock()
	m.counter[sessionID]++
	due := m.counter[sessionID] >= m.frequency
	if due {
		m.counter[sessionID] = 0
	}
	m.mu.Unlock()

	if due {
		select {
		case m.queue <- sessionID:
		default:
		}
	}
}

// Create snapshots sessionID's current message log. If the resulting snapshot would be
// head-equivalent to the most recent checkpoint for this session (same message count), Create
// returns the existing checkpoint instead of creating a duplicate.
func (m *Manager) Create(ctx context.Context, sessionID string, opts CreateOptions) (*models.Checkpoint, error) {
	messages, err := m.store.History(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: loading history: %w", err)
	}

	existing, err := m.backend.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing existing checkpoints: %w", err)
	}

	parentID := opts.ParentID
	if len(existing) > 0 {
		head := existing[len(existing)-1]
		if parentID == "" {
			parentID = head.ID
		}
		if head.MessageCount == len(messages) {
			cp := head
			return &cp, nil
		}
	}

	kind := opts.Kind
	if kind == "" {
		kind = models.CheckpointManual
	}

	cp := models.Checkpoint{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		ParentCheckpointID: parentID,
		Name:               opts.Name,
		Description:        opts.Description,
		MessageCount:       len(messages),
		SnapshotRef:        uuid.NewString(),
		Kind:               kind,
		CreatedAt:          time.Now(),
	}

	snap := &Snapshot{Checkpoint: cp, Messages: cloneMessages(messages)}
	if err := m.backend.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("checkpoint: saving snapshot: %w", err)
	}

	m.metrics.IncCheckpoint(string(cp.Kind))
	if m.sink != nil {
		m.sink.Emit(events.Checkpoint("", cp.ID, sessionID, cp.Kind))
	}
	return &cp, nil
}

// List returns sessionID's checkpoints, oldest to newest.
func (m *Manager) List(ctx context.Context, sessionID string) ([]models.Checkpoint, error) {
	return m.backend.List(ctx, sessionID)
}

// Rollback replaces checkpointID's session with the snapshot's contents.
func (m *Manager) Rollback(ctx context.Context, checkpointID string) (bool, error) {
	snap, err := m.backend.Get(ctx, checkpointID)
	if err != nil {
		return false, fmt.Errorf("checkpoint: loading snapshot: %w", err)
	}
	if err := m.store.Replace(ctx, snap.Checkpoint.SessionID, cloneMessages(snap.Messages)); err != nil {
		return false, fmt.Errorf("checkpoint: replacing session: %w", err)
	}
	if m.sink != nil {
		m.sink.Emit(events.Checkpoint("", checkpointID, snap.Checkpoint.SessionID, snap.Checkpoint.Kind))
	}
	return true, nil
}

// Branch creates a new Session whose initial state equals checkpointID's snapshot. Subsequent
// mutations to the new session never modify the original.
func (m *Manager) Branch(ctx context.Context, checkpointID string, name string) (string, error) {
	snap, err := m.backend.Get(ctx, checkpointID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: loading snapshot: %w", err)
	}

	origin, err := m.store.Load(ctx, snap.Checkpoint.SessionID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: loading origin session: %w", err)
	}

	branchSession := &models.Session{AgentID: origin.AgentID, Title: name}
	if err := m.store.Create(ctx, branchSession); err != nil {
		return "", fmt.Errorf("checkpoint: creating branch session: %w", err)
	}
	if err := m.store.Replace(ctx, branchSession.ID, cloneMessages(snap.Messages)); err != nil {
		return "", fmt.Errorf("checkpoint: seeding branch session: %w", err)
	}

	branchCP := models.Checkpoint{
		ID:                 uuid.NewString(),
		SessionID:          branchSession.ID,
		ParentCheckpointID: checkpointID,
		Name:               name,
		MessageCount:       len(snap.Messages),
		SnapshotRef:        uuid.NewString(),
		Kind:               models.CheckpointBranch,
		CreatedAt:          time.Now(),
	}
	if err := m.backend.Save(ctx, &Snapshot{Checkpoint: branchCP, Messages: cloneMessages(snap.Messages)}); err != nil {
		return "", fmt.Errorf("checkpoint: saving branch root checkpoint: %w", err)
	}
	if m.sink != nil {
		m.sink.Emit(events.Checkpoint("", branchCP.ID, branchSession.ID, models.CheckpointBranch))
	}
	return branchSession.ID, nil
}

// Sweep prunes checkpoints older than the retention policy's MaxAge, always keeping at least
// MinCount most-recent checkpoints per session. Intended to run on a schedule (e.g. via
// robfig/cron) from the owning process.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.retention.MaxAge <= 0 {
		return 0, nil
	}
	all, err := m.backend.List(ctx, "")
	if err != nil {
		return 0, err
	}

	bySession := make(map[string][]models.Checkpoint)
	for _, cp := range all {
		bySession[cp.SessionID] = append(bySession[cp.SessionID], cp)
	}

	cutoff := time.Now().Add(-m.retention.MaxAge)
	minCount := m.retention.MinCount
	if minCount < 1 {
		minCount = 1
	}

	pruned := 0
	for _, cps := range bySession {
		sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.Before(cps[j].CreatedAt) })
		keepFrom := len(cps) - minCount
		for i, cp := range cps {
			if i >= keepFrom {
				break
			}
			if cp.CreatedAt.After(cutoff) {
				continue
			}
			if err := m.backend.Delete(ctx, cp.ID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	for i, msg := range messages {
		clone := *msg
		out[i] = &clone
	}
	return out
}
