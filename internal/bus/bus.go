// Package bus implements the Message Bus + Coordinator: in-process async routing
// of messages between agents and humans, role-based fan-out, and sub-agent lifecycle
// management. Bus operations never raise to the caller; unroutable envelopes become dead-letter
// events instead of errors.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-ai/corerun/internal/conversation"
	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// HumanRecipient is the reserved to_agent/to_role value identifying the human operator as the
// message's destination.
const HumanRecipient = "human"

// Envelope is one message carried across the bus.
type Envelope struct {
	FromAgent     string
	ToAgent       string
	ToRole        string
	Content       string
	Channel       string
	MessageType   string
	CorrelationID string
	Metadata      map[string]any
}

// agentEntry is the Coordinator's registry row for one managed agent.
type agentEntry struct {
	record *models.AgentRecord
	role   string
}

// Bus is the Message Bus + Coordinator. One Bus is shared by every agent in a run.
type Bus struct {
	conv    *conversation.Manager
	sink    events.Sink
	metrics *observability.Metrics

	mu         sync.Mutex
	agents     map[string]*agentEntry
	roleOrder  map[string][]string // role -> agent IDs in registration order, for round-robin
	roleCursor map[string]int
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithEventSink installs the sink `human_message` and `dead_letter` events are emitted through.
func WithEventSink(sink events.Sink) Option { return func(b *Bus) { b.sink = sink } }

// WithMetrics installs the Prometheus collectors dead-lettered envelopes are counted against. A
// nil Metrics, the default, disables instrumentation.
func WithMetrics(m *observability.Metrics) Option { return func(b *Bus) { b.metrics = m } }

// New creates a Bus bound to conv, the Conversation Manager it delegates spawn/session setup to.
func New(conv *conversation.Manager, opts ...Option) *Bus {
	b := &Bus{
		conv:       conv,
		agents:     make(map[string]*agentEntry),
		roleOrder:  make(map[string][]string),
		roleCursor: make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SpawnOptions configures Spawn's new agent.
type SpawnOptions struct {
	Persona            string
	ShareSession       bool
	ShareContextWindow bool
	SharedCWMaxTokens  int
	InitialPrompt      string
}

// Spawn creates a new agent record, wires its conversation state through the Conversation
// Manager (top-level if parentID is empty, a sub-agent with the requested sharing semantics
// otherwise), and optionally seeds an initial delegated prompt.
func (b *Bus) Spawn(ctx context.Context, id, role, parentID string, opts SpawnOptions) (*models.AgentRecord, error) {
	b.mu.Lock()
	if _, exists := b.agents[id]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: agent %q already exists", id)
	}
	b.mu.Unlock()

	var record *models.AgentRecord
	if parentID == "" {
		conv, err := b.conv.CreateAgentConversation(ctx, id, role)
		if err != nil {
			return nil, fmt.Errorf("bus: spawning top-level agent: %w", err)
		}
		record = conv.Agent
	} else {
		conv, err := b.conv.CreateSubAgent(ctx, id, parentID, conversation.SpawnOptions{
			Persona:            opts.Persona,
			ShareSession:       opts.ShareSession,
			ShareContextWindow: opts.ShareContextWindow,
			SharedCWMaxTokens:  opts.SharedCWMaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("bus: spawning sub-agent: %w", err)
		}
		record = conv.Agent
	}

	b.mu.Lock()
	b.agents[id] = &agentEntry{record: record, role: role}
	if role != "" {
		b.roleOrder[role] = append(b.roleOrder[role], id)
	}
	b.mu.Unlock()

	if opts.InitialPrompt != "" {
		if _, err := b.conv.Prepare(ctx, id, opts.InitialPrompt, ""); err != nil {
			return nil, fmt.Errorf("bus: seeding initial prompt: %w", err)
		}
	}
	return record, nil
}

// Pause marks id as paused: it stops receiving role-routed messages. Directed deliveries to it
// are still appended to its conversation at once, tagged with metadata paused=true.
func (b *Bus) Pause(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.agents[id]
	if !ok {
		return fmt.Errorf("bus: unknown agent %q", id)
	}
	entry.record.Paused = true
	return nil
}

// Resume clears id's paused flag.
func (b *Bus) Resume(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.agents[id]
	if !ok {
		return fmt.Errorf("bus: unknown agent %q", id)
	}
	entry.record.Paused = false
	return nil
}

// Destroy removes id from the registry and routing tables. Its session is left intact: the
// conversation history survives the agent that produced it.
func (b *Bus) Destroy(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.agents[id]
	if !ok {
		return
	}
	delete(b.agents, id)
	if entry.role != "" {
		ids := b.roleOrder[entry.role]
		for i, candidate := range ids {
			if candidate == id {
				b.roleOrder[entry.role] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
}

// Send routes env to its directed, role, or human recipient. Send never returns an error for a
// routing failure; instead it emits a dead_letter event and returns nil, matching the bus's
// never-raise-to-the-caller failure model.
func (b *Bus) Send(ctx context.Context, env Envelope) error {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}

	switch {
	case env.ToAgent == HumanRecipient || env.ToRole == HumanRecipient:
		b.sendToHuman(env)
		return nil
	case env.ToAgent != "":
		return b.deliverDirected(ctx, env)
	case env.ToRole != "":
		_, err := b.deliverToRole(ctx, env)
		return err
	default:
		b.deadLetter(env.FromAgent, "", "", "envelope named neither to_agent nor to_role")
		return nil
	}
}

func (b *Bus) deliverDirected(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	entry, ok := b.agents[env.ToAgent]
	b.mu.Unlock()

	if !ok {
		b.deadLetter(env.FromAgent, env.ToAgent, "", "unknown recipient agent")
		return nil
	}

	metadata := mergeMetadata(env.Metadata, map[string]any{
		"from_agent":     env.FromAgent,
		"channel":        env.Channel,
		"correlation_id": env.CorrelationID,
	})
	if entry.record.Paused {
		metadata["paused"] = true
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		AgentID:     env.ToAgent,
		RecipientID: env.ToAgent,
		Role:        models.RoleUser,
		Category:    models.CategoryDialog,
		MessageType: env.MessageType,
		Content:     env.Content,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}

	// Directed deliveries to a paused agent are still logged for provenance (metadata.paused
	// above) but are not otherwise special-cased — a resumed agent picks the message up on its
	// next FormatForGateway read, same as an active one.
	return b.conv.Append(ctx, env.ToAgent, msg)
}

// deliverToRole picks the next active, non-paused agent with role X using round-robin and
// returns its agent ID.
func (b *Bus) deliverToRole(ctx context.Context, env Envelope) (string, error) {
	b.mu.Lock()
	candidates := b.roleOrder[env.ToRole]
	if len(candidates) == 0 {
		b.mu.Unlock()
		b.deadLetter(env.FromAgent, "", env.ToRole, "no agents registered for role")
		return "", nil
	}

	start := b.roleCursor[env.ToRole]
	var target string
	for i := 0; i < len(candidates); i++ {
		idx := (start + i) % len(candidates)
		id := candidates[idx]
		if entry, ok := b.agents[id]; ok && !entry.record.Paused {
			target = id
			b.roleCursor[env.ToRole] = (idx + 1) % len(candidates)
			break
		}
	}
	b.mu.Unlock()

	if target == "" {
		b.deadLetter(env.FromAgent, "", env.ToRole, "all agents for role are paused")
		return "", nil
	}

	directed := env
	directed.ToAgent = target
	directed.ToRole = ""
	return target, b.deliverDirected(ctx, directed)
}

// RunRoleChain delivers content through an ordered sequence of roles, where handler produces
// the next stage's input from the previous stage's output: given an ordered list of
// roles, the output of agent N is delivered as the input of agent N+1.
func (b *Bus) RunRoleChain(ctx context.Context, fromAgent string, roles []string, initial string, handler func(ctx context.Context, agentID, input string) (string, error)) (string, error) {
	content := initial
	for _, role := range roles {
		target, err := b.deliverToRole(ctx, Envelope{FromAgent: fromAgent, ToRole: role, Content: content})
		if err != nil {
			return content, err
		}
		if target == "" {
			return content, fmt.Errorf("bus: no active agent available for role %q", role)
		}

		out, err := handler(ctx, target, content)
		if err != nil {
			return content, fmt.Errorf("bus: role chain stage %q (%s): %w", role, target, err)
		}
		content = out
		fromAgent = target
	}
	return content, nil
}

// SendToHuman emits a human_message event without touching any session.
func (b *Bus) SendToHuman(agentID, text, typ string) {
	if b.sink != nil {
		b.sink.Emit(events.HumanMessage(agentID, text, typ))
	}
}

func (b *Bus) sendToHuman(env Envelope) {
	typ := env.MessageType
	if typ == "" {
		typ = "notice"
	}
	b.SendToHuman(env.FromAgent, env.Content, typ)
}

// HumanReply posts a user-role message into agentID's session on behalf of the human operator
// posting a user-role message into the target agent's session on the human's behalf.
func (b *Bus) HumanReply(ctx context.Context, agentID, text string) error {
	msg := &models.Message{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Role:        models.RoleUser,
		Category:    models.CategoryDialog,
		MessageType: models.MessageTypeHumanReply,
		Content:     text,
		CreatedAt:   time.Now(),
	}
	return b.conv.Append(ctx, agentID, msg)
}

func (b *Bus) deadLetter(fromAgent, toAgent, role, reason string) {
	b.metrics.IncDeadLetter()
	if b.sink != nil {
		b.sink.Emit(events.DeadLetter(fromAgent, toAgent, role, reason))
	}
}

func mergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
