package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// ErrNotFound is returned by Backend.Get and Delete for an unknown checkpoint ID.
var ErrNotFound = fmt.Errorf("checkpoint: not found")

// MemoryBackend keeps checkpoints and their snapshots in memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	byID  map[string]*Snapshot
	order []string // insertion order, global (used to derive per-session chronological lists)
}

// NewMemoryBackend creates an empty in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byID: make(map[string]*Snapshot)}
}

func (b *MemoryBackend) Save(ctx context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *snap
	clone.Messages = cloneMessages(snap.Messages)
	if _, exists := b.byID[snap.Checkpoint.ID]; !exists {
		b.order = append(b.order, snap.Checkpoint.ID)
	}
	b.byID[snap.Checkpoint.ID] = &clone
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, checkpointID string) (*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.byID[checkpointID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *snap
	clone.Messages = cloneMessages(snap.Messages)
	return &clone, nil
}

func (b *MemoryBackend) List(ctx context.Context, sessionID string) ([]models.Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Checkpoint
	for _, id := range b.order {
		snap := b.byID[id]
		if sessionID != "" && snap.Checkpoint.SessionID != sessionID {
			continue
		}
		out = append(out, snap.Checkpoint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, checkpointID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[checkpointID]; !ok {
		return ErrNotFound
	}
	delete(b.byID, checkpointID)
	for i, id := range b.order {
		if id == checkpointID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// FileBackend persists one JSON file per checkpoint under `checkpoints/<session_id>/<id>.json`
// mirroring sessionstore.FileStore's write-rename atomicity.
type FileBackend struct {
	mu   sync.Mutex
	root string
}

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "checkpoints"), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating checkpoints dir: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

func (b *FileBackend) sessionDir(sessionID string) string {
	return filepath.Join(b.root, "checkpoints", sessionID)
}

func (b *FileBackend) path(sessionID, checkpointID string) string {
	return filepath.Join(b.sessionDir(sessionID), checkpointID+".json")
}

func (b *FileBackend) Save(ctx context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dir := b.sessionDir(snap.Checkpoint.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, b.path(snap.Checkpoint.SessionID, snap.Checkpoint.ID))
}

func (b *FileBackend) Get(ctx context.Context, checkpointID string) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := b.findByID(checkpointID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *FileBackend) findByID(checkpointID string) (*Snapshot, error) {
	sessions, err := os.ReadDir(filepath.Join(b.root, "checkpoints"))
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.IsDir() {
			continue
		}
		p := filepath.Join(b.root, "checkpoints", s.Name(), checkpointID+".json")
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("checkpoint: corrupt record %s: %w", checkpointID, err)
		}
		return &snap, nil
	}
	return nil, ErrNotFound
}

func (b *FileBackend) List(ctx context.Context, sessionID string) ([]models.Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dirs []string
	if sessionID != "" {
		dirs = []string{sessionID}
	} else {
		entries, err := os.ReadDir(filepath.Join(b.root, "checkpoints"))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
	}

	var out []models.Checkpoint
	for _, d := range dirs {
		entries, err := os.ReadDir(b.sessionDir(d))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(b.sessionDir(d), e.Name()))
			if err != nil {
				continue
			}
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				continue
			}
			out = append(out, snap.Checkpoint)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *FileBackend) Delete(ctx context.Context, checkpointID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := b.findByID(checkpointID)
	if err != nil {
		return err
	}
	return os.Remove(b.path(snap.Checkpoint.SessionID, checkpointID))
}
