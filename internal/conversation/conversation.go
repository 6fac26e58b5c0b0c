// Package conversation implements the Conversation Manager: the façade that owns
// each agent's {Session, ContextWindow, CheckpointManager} triple, prepares messages, attaches
// context files, formats the gateway-bound view, and sets up sub-agent sharing relationships.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ai/corerun/internal/checkpoint"
	"github.com/fenwick-ai/corerun/internal/contextwindow"
	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/internal/sessionstore"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// AgentConversation is one agent's owned (or shared) conversational state.
type AgentConversation struct {
	Agent   *models.AgentRecord
	Session *models.Session
	Window  *contextwindow.Window

	// ownsWindow is false when ShareContextWindow borrowed the parent's *Window directly.
	ownsWindow bool
}

// SpawnOptions configures create_sub_agent / create_agent_conversation for a child agent.
type SpawnOptions struct {
	Persona            string
	ShareSession        bool
	ShareContextWindow  bool
	SharedCWMaxTokens   int
}

// Manager is the Conversation Manager. One Manager instance is shared by every agent in a
// run; per-agent state lives in its internal registry, not as separate Manager instances.
type Manager struct {
	store      sessionstore.Store
	checkpoint *checkpoint.Manager
	budget     contextwindow.BudgetConfig
	maxTokens  int
	estimate   contextwindow.Estimator
	sink       events.Sink
	metrics    *observability.Metrics

	mu       sync.RWMutex
	current  string
	convos   map[string]*AgentConversation
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithEventSink installs the sink `cw_clamp_notice`-bearing messages and checkpoint-adjacent
// events are emitted through (messages themselves still also go through the session store).
func WithEventSink(sink events.Sink) Option { return func(m *Manager) { m.sink = sink } }

// WithBudget overrides the default per-category token-budget fractions.
func WithBudget(cfg contextwindow.BudgetConfig) Option { return func(m *Manager) { m.budget = cfg } }

// WithEstimator overrides the token estimator used by new windows.
func WithEstimator(e contextwindow.Estimator) Option { return func(m *Manager) { m.estimate = e } }

// WithMetrics installs the Prometheus collectors context-window clamp events are counted
// against. A nil Metrics, the default, disables instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// New creates a Manager bound to store (for session persistence) and cm (for per-agent
// checkpointing). maxTokens is the default window ceiling for agents that don't share one.
func New(store sessionstore.Store, cm *checkpoint.Manager, maxTokens int, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		checkpoint: cm,
		maxTokens:  maxTokens,
		budget:     contextwindow.DefaultBudgetConfig(),
		convos:     make(map[string]*AgentConversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetCurrentAgent marks agentID as the active agent subsequent Prepare/AttachContextFile/
// FormatForGateway calls (the zero-argument convenience forms) apply to.
func (m *Manager) SetCurrentAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = agentID
}

// GetAgentConversation returns agentID's conversation state, or (nil, false) if none exists.
func (m *Manager) GetAgentConversation(agentID string) (*AgentConversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convos[agentID]
	return c, ok
}

// CreateAgentConversation creates a fresh top-level agent with its own Session and Window.
func (m *Manager) CreateAgentConversation(ctx context.Context, agentID, role string) (*AgentConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convos[agentID]; ok {
		return c, nil
	}

	session := &models.Session{AgentID: agentID}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("conversation: creating session: %w", err)
	}

	conv := &AgentConversation{
		Agent:      &models.AgentRecord{ID: agentID, Role: role},
		Session:    session,
		Window:     contextwindow.New(m.maxTokens, m.budget, m.estimate),
		ownsWindow: true,
	}
	m.convos[agentID] = conv
	return conv, nil
}

// Prepare appends a user-role DIALOG message (with an optional vision image_ref) to agentID's
// session, updating its context window usage and triggering auto-checkpoint accounting.
func (m *Manager) Prepare(ctx context.Context, agentID, userInput string, imageRef string) (*models.Message, error) {
	conv, ok := m.GetAgentConversation(agentID)
	if !ok {
		return nil, fmt.Errorf("conversation: no conversation for agent %q", agentID)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: conv.Session.ID,
		AgentID:   agentID,
		Role:      models.RoleUser,
		Category:  models.CategoryDialog,
		Content:   userInput,
		CreatedAt: time.Now(),
	}
	if imageRef != "" {
		msg.Parts = append(msg.Parts, models.ImageRefPart(imageRef))
	}
	return msg, m.append(ctx, conv, msg)
}

// AttachContextFile appends a pinned CONTEXT message carrying the file's content, reserving
// budget for it ahead of ordinary trimming.
func (m *Manager) AttachContextFile(ctx context.Context, agentID, path, content string) (*models.Message, error) {
	conv, ok := m.GetAgentConversation(agentID)
	if !ok {
		return nil, fmt.Errorf("conversation: no conversation for agent %q", agentID)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: conv.Session.ID,
		AgentID:   agentID,
		Role:      models.RoleSystem,
		Category:  models.CategoryContext,
		Content:   content,
		Metadata:  map[string]any{"path": path},
		CreatedAt: time.Now(),
	}
	if err := m.append(ctx, conv, msg); err != nil {
		return nil, err
	}
	conv.Window.Pin(msg.ID)
	return msg, nil
}

// Append writes an engine-originated message (assistant turns, tool results) into agentID's
// session, applying the same window/checkpoint/event bookkeeping Prepare and AttachContextFile
// use. The Engine is the only caller outside this package that needs it: Prepare and
// AttachContextFile cover every caller-originated append.
func (m *Manager) Append(ctx context.Context, agentID string, msg *models.Message) error {
	conv, ok := m.GetAgentConversation(agentID)
	if !ok {
		return fmt.Errorf("conversation: no conversation for agent %q", agentID)
	}
	msg.SessionID = conv.Session.ID
	msg.AgentID = agentID
	return m.append(ctx, conv, msg)
}

func (m *Manager) append(ctx context.Context, conv *AgentConversation, msg *models.Message) error {
	if err := m.store.Append(ctx, conv.Session.ID, msg); err != nil {
		return fmt.Errorf("conversation: appending message: %w", err)
	}
	conv.Window.OnAppend(msg)
	if m.checkpoint != nil {
		m.checkpoint.OnMessageAppended(conv.Session.ID)
	}
	if m.sink != nil {
		m.sink.Emit(events.Message(conv.Agent.ID, conv.Session.ID, msg.Role, msg.Content, msg.Metadata))
	}
	return nil
}

// FormatForGateway returns agentID's trimmed, gateway-ordered message view.
func (m *Manager) FormatForGateway(ctx context.Context, agentID string) ([]*models.Message, error) {
	conv, ok := m.GetAgentConversation(agentID)
	if !ok {
		return nil, fmt.Errorf("conversation: no conversation for agent %q", agentID)
	}
	history, err := m.store.History(ctx, conv.Session.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("conversation: loading history: %w", err)
	}
	kept, _, err := conv.Window.FormatForGateway(history)
	if err != nil {
		return nil, fmt.Errorf("conversation: formatting for gateway: %w", err)
	}
	return kept, nil
}

// CreateSubAgent establishes childID as a child of parentID per SpawnOptions's sharing
// semantics, seeding CONTEXT once when not sharing a session, and emitting a
// `cw_clamp_notice` message into the parent session if SharedCWMaxTokens clamps the child's
// window below what it would otherwise have — whether that window is shared with the parent
// or owned outright by the child.
func (m *Manager) CreateSubAgent(ctx context.Context, childID, parentID string, opts SpawnOptions) (*AgentConversation, error) {
	parent, ok := m.GetAgentConversation(parentID)
	if !ok {
		return nil, fmt.Errorf("conversation: no conversation for parent %q", parentID)
	}

	m.mu.Lock()
	if existing, ok := m.convos[childID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	child := &models.AgentRecord{
		ID:                 childID,
		ParentID:           parentID,
		Persona:            opts.Persona,
		ShareSession:       opts.ShareSession,
		ShareContextWindow: opts.ShareContextWindow,
		SharedCWMaxTokens:  opts.SharedCWMaxTokens,
	}
	parent.Agent.Children = append(parent.Agent.Children, childID)

	conv := &AgentConversation{Agent: child}

	if opts.ShareSession {
		conv.Session = parent.Session
	} else {
		session := &models.Session{AgentID: childID}
		if err := m.store.Create(ctx, session); err != nil {
			return nil, fmt.Errorf("conversation: creating child session: %w", err)
		}
		conv.Session = session
		if err := m.cloneParentContext(ctx, parent, conv); err != nil {
			return nil, err
		}
	}

	if opts.ShareContextWindow {
		conv.Window = parent.Window
		conv.ownsWindow = false
	} else {
		conv.Window = contextwindow.New(m.maxTokens, m.budget, m.estimate)
		conv.ownsWindow = true
	}

	// shared_cw_max_tokens clamps the child's window regardless of whether that window is
	// shared with the parent or owned outright, bounded by whichever is smaller.
	if opts.SharedCWMaxTokens > 0 {
		limit := opts.SharedCWMaxTokens
		if parent.Window.MaxTokens() < limit {
			limit = parent.Window.MaxTokens()
		}
		if limit < conv.Window.MaxTokens() {
			conv.Window = conv.Window.Clamped(limit)
			conv.ownsWindow = true
			if err := m.emitClampNotice(ctx, parent, childID, limit); err != nil {
				return nil, err
			}
		}
	}

	m.mu.Lock()
	m.convos[childID] = conv
	m.mu.Unlock()
	return conv, nil
}

func (m *Manager) cloneParentContext(ctx context.Context, parent *AgentConversation, child *AgentConversation) error {
	history, err := m.store.History(ctx, parent.Session.ID, 0)
	if err != nil {
		return fmt.Errorf("conversation: loading parent history: %w", err)
	}
	for _, msg := range history {
		if msg.Category != models.CategoryContext {
			continue
		}
		clone := *msg
		clone.ID = uuid.NewString()
		clone.SessionID = child.Session.ID
		clone.AgentID = child.Agent.ID
		if err := m.store.Append(ctx, child.Session.ID, &clone); err != nil {
			return fmt.Errorf("conversation: seeding child context: %w", err)
		}
	}
	return nil
}

func (m *Manager) emitClampNotice(ctx context.Context, parent *AgentConversation, childID string, limit int) error {
	notice := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   parent.Session.ID,
		AgentID:     parent.Agent.ID,
		RecipientID: childID,
		Role:        models.RoleSystem,
		Category:    models.CategoryStatus,
		MessageType: models.MessageTypeCWClampNotice,
		Content:     fmt.Sprintf("sub-agent %s context window clamped to %d tokens", childID, limit),
		CreatedAt:   time.Now(),
	}
	if err := m.store.Append(ctx, parent.Session.ID, notice); err != nil {
		return fmt.Errorf("conversation: appending clamp notice: %w", err)
	}
	m.metrics.IncContextClamp()
	if m.sink != nil {
		m.sink.Emit(events.Status(parent.Agent.ID, "cw_clamp_notice", notice.Content))
	}
	return nil
}
