package sessionstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// MemoryStore is an in-memory Store, useful for tests and single-process local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return ErrSessionNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil {
		return ErrSessionNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.ID]
	if !ok {
		return ErrSessionNotFound
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.SessionSummary
	for _, s := range m.sessions {
		if opts.AgentID != "" && s.AgentID != opts.AgentID {
			continue
		}
		out = append(out, models.SessionSummary{
			ID:           s.ID,
			AgentID:      s.AgentID,
			Title:        s.Title,
			CreatedAt:    s.CreatedAt,
			MessageCount: len(m.messages[s.ID]),
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

func (m *MemoryStore) Delete(ctx context.Context, id string, referents []string) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return DeleteResult{}, ErrSessionNotFound
	}
	if len(referents) > 0 {
		return DeleteResult{Deleted: false, Warning: "session still referenced by other agents"}, nil
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return DeleteResult{Deleted: true}, nil
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.messages[sessionID] = append(m.messages[sessionID], clone)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[sessionID]
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

// Replace atomically overwrites sessionID's message log, the rollback/branch seam.
func (m *MemoryStore) Replace(ctx context.Context, sessionID string, messages []*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	clones := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		clones = append(clones, cloneMessage(msg))
	}
	m.messages[sessionID] = clones
	return nil
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = deepCloneMap(s.Metadata)
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if len(msg.Attachments) > 0 {
		clone.Attachments = append([]models.Attachment{}, msg.Attachments...)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	if len(msg.Parts) > 0 {
		clone.Parts = append([]models.ContentPart{}, msg.Parts...)
	}
	return &clone
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
