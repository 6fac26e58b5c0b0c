package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// FileStore persists one JSON record per session under a workspace directory
// (`conversations/<session_id>`), with an index file (`index/conversations.json`) of session
// summaries, rewritten on Create/Save/Delete/Replace but not on Append (so its message counts
// can lag). Every write goes through write-temp-then-rename so a crash mid-write never
// corrupts a previously-durable record.
type FileStore struct {
	mu   sync.Mutex
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating the conversations/ and index/
// subdirectories if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "conversations"), 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: creating conversations dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "index"), 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: creating index dir: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) recordPath(id string) string {
	return filepath.Join(f.root, "conversations", id+".json")
}

func (f *FileStore) indexPath() string {
	return filepath.Join(f.root, "index", "conversations.json")
}

// writeAtomic serializes v to a temp file in the same directory as path and renames it into
// place, guaranteeing readers never observe a partial write.
func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
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
	return os.Rename(tmpName, path)
}

func (f *FileStore) readRecord(id string) (*Record, error) {
	data, err := os.ReadFile(f.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: corrupt record %s: %w", id, err)
	}
	return &rec, nil
}

func (f *FileStore) Create(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt
	rec := &Record{
		Version:   RecordVersion,
		ID:        session.ID,
		AgentID:   session.AgentID,
		CreatedAt: session.CreatedAt.Format(time.RFC3339Nano),
		Title:     session.Title,
		Messages:  nil,
	}
	if err := writeAtomic(f.recordPath(session.ID), rec); err != nil {
		return err
	}
	return f.reindex()
}

func (f *FileStore) Load(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := f.readRecord(id)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	return &models.Session{ID: rec.ID, AgentID: rec.AgentID, Title: rec.Title, CreatedAt: createdAt}, nil
}

func (f *FileStore) Save(ctx context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := f.readRecord(session.ID)
	if err != nil {
		return err
	}
	rec.Title = session.Title
	if err := writeAtomic(f.recordPath(session.ID), rec); err != nil {
		return err
	}
	return f.reindex()
}

func (f *FileStore) List(ctx context.Context, opts ListOptions) ([]models.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(f.root, "conversations"))
	if err != nil {
		return nil, err
	}
	var out []models.SessionSummary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimJSONExt(e.Name())
		rec, err := f.readRecord(id)
		if err != nil {
			continue
		}
		if opts.AgentID != "" && rec.AgentID != opts.AgentID {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		out = append(out, models.SessionSummary{
			ID: rec.ID, AgentID: rec.AgentID, Title: rec.Title,
			CreatedAt: createdAt, MessageCount: len(rec.Messages),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []models.SessionSummary{}, nil
	}
	return out[start:end], nil
}

func (f *FileStore) Delete(ctx context.Context, id string, referents []string) (DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.readRecord(id); err != nil {
		return DeleteResult{}, err
	}
	if len(referents) > 0 {
		return DeleteResult{Deleted: false, Warning: "session still referenced by other agents"}, nil
	}
	if err := os.Remove(f.recordPath(id)); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: true}, f.reindex()
}

// Append adds msg to the session's record and rewrites the record atomically. Per-message
// atomicity is achieved by always writing the full updated record through writeAtomic rather
// than appending bytes in place, so a crash mid-write leaves the prior rename'd record intact.
func (f *FileStore) Append(ctx context.Context, sessionID string, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := f.readRecord(sessionID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	rec.Messages = append(rec.Messages, msg)
	return writeAtomic(f.recordPath(sessionID), rec)
}

func (f *FileStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := f.readRecord(sessionID)
	if err != nil {
		return nil, err
	}
	messages := rec.Messages
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	return messages[start:], nil
}

// Replace atomically overwrites sessionID's message log, the rollback/branch seam.
func (f *FileStore) Replace(ctx context.Context, sessionID string, messages []*models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := f.readRecord(sessionID)
	if err != nil {
		return err
	}
	rec.Messages = messages
	if err := writeAtomic(f.recordPath(sessionID), rec); err != nil {
		return err
	}
	return f.reindex()
}

func (f *FileStore) reindex() error {
	entries, err := os.ReadDir(filepath.Join(f.root, "conversations"))
	if err != nil {
		return err
	}
	var summaries []models.SessionSummary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimJSONExt(e.Name())
		rec, err := f.readRecord(id)
		if err != nil {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		summaries = append(summaries, models.SessionSummary{
			ID: rec.ID, AgentID: rec.AgentID, Title: rec.Title,
			CreatedAt: createdAt, MessageCount: len(rec.Messages),
		})
	}
	return writeAtomic(f.indexPath(), summaries)
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
