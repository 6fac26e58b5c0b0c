package models

import "time"

// EventType identifies the kind of Event flowing out of the core to any subscribed UI.
type EventType string

const (
	EventMessage        EventType = "message"
	EventStreamChunk    EventType = "stream_chunk"
	EventTokenUpdate    EventType = "token_update"
	EventStatus         EventType = "status"
	EventError          EventType = "error"
	EventHumanMessage   EventType = "human_message"
	EventToolInvocation EventType = "tool_invocation"
	EventCheckpoint     EventType = "checkpoint"
	EventDeadLetter     EventType = "dead_letter"
)

// Event is the unified, versioned event envelope the Event Emitter fans out. Exactly one of
// the typed payload fields is populated for a given Type. Sequence is monotonic per emitter so
// subscribers can detect gaps from a bounded, drop-oldest queue.
type Event struct {
	Version       int       `json:"version"`
	Type          EventType `json:"type"`
	Time          time.Time `json:"time"`
	Sequence      uint64    `json:"seq"`
	AgentID       string    `json:"agent_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	Message        *MessageEvent        `json:"message,omitempty"`
	StreamChunk    *StreamChunkEvent    `json:"stream_chunk,omitempty"`
	TokenUpdate    *TokenUpdateEvent    `json:"token_update,omitempty"`
	Status         *StatusEvent         `json:"status,omitempty"`
	Error          *ErrorEvent          `json:"error,omitempty"`
	HumanMessage   *HumanMessageEvent   `json:"human_message,omitempty"`
	ToolInvocation *ToolInvocationEvent `json:"tool_invocation,omitempty"`
	Checkpoint     *CheckpointEvent     `json:"checkpoint,omitempty"`
	DeadLetter     *DeadLetterEvent     `json:"dead_letter,omitempty"`
}

// MessageEvent mirrors a Message appended to a session, for UIs that render transcripts.
type MessageEvent struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StreamChunkEvent carries one incremental piece of model output on a given channel.
type StreamChunkEvent struct {
	Chunk   string `json:"chunk"`
	Channel string `json:"channel"` // "assistant" or "reasoning"
	IsFinal bool   `json:"is_final"`
}

// TokenUpdateEvent reports current context-window usage for UI display.
type TokenUpdateEvent struct {
	Used        int                    `json:"used"`
	Max         int                    `json:"max"`
	PerCategory map[Category]UsagePair `json:"per_category"`
}

// UsagePair is a used/max token pair for a single category.
type UsagePair struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// StatusEvent reports a phase transition (e.g. running, completed, cancelled).
type StatusEvent struct {
	Phase  string `json:"phase"`
	Detail string `json:"detail,omitempty"`
}

// ErrorEvent standardizes error reporting across the core's error kinds.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Err preserves the original error for errors.Is/errors.As; not serialized.
	Err error `json:"-"`
}

// HumanMessageEvent is emitted when an agent asks for human input via send_to_human.
type HumanMessageEvent struct {
	Text string `json:"text"`
	Type string `json:"type,omitempty"`
}

// ToolInvocationEvent summarizes one tool dispatch outcome.
type ToolInvocationEvent struct {
	Name         string `json:"name"`
	InputSummary string `json:"input_summary,omitempty"`
	OK           bool   `json:"ok"`
	DurationMS   int64  `json:"duration_ms"`
	TimedOut     bool   `json:"timed_out"`
}

// CheckpointEvent is emitted whenever a checkpoint is created, rolled back onto, or branched.
type CheckpointEvent struct {
	CheckpointID string         `json:"checkpoint_id"`
	SessionID    string         `json:"session_id"`
	Kind         CheckpointKind `json:"kind"`
}

// DeadLetterEvent is emitted when the bus cannot route an envelope to a live recipient. Bus
// operations never raise to the caller for an unknown recipient; this event is the only signal.
type DeadLetterEvent struct {
	ToAgent string `json:"to_agent,omitempty"`
	Role    string `json:"role,omitempty"`
	Reason  string `json:"reason"`
}

// RunStats aggregates accounting for a single Engine run, derived by folding the event stream.
type RunStats struct {
	RunID      string        `json:"run_id,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	WallTime   time.Duration `json:"wall_time,omitempty"`

	Iterations int `json:"iterations,omitempty"`

	ToolCalls    int           `json:"tool_calls,omitempty"`
	ToolWallTime time.Duration `json:"tool_wall_time,omitempty"`
	ToolTimeouts int           `json:"tool_timeouts,omitempty"`

	ModelWallTime time.Duration `json:"model_wall_time,omitempty"`
	InputTokens   int           `json:"input_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`

	TruncationEvents int `json:"truncation_events,omitempty"`
	DroppedTokens    int `json:"dropped_tokens,omitempty"`

	Cancelled bool `json:"cancelled,omitempty"`
	TimedOut  bool `json:"timed_out,omitempty"`
	Errors    int  `json:"errors,omitempty"`
}

// ResourceSnapshot is delivered to agent lifecycle hooks after every turn.
type ResourceSnapshot struct {
	TokensPrompt     int     `json:"tokens_prompt"`
	TokensCompletion int     `json:"tokens_completion"`
	WallClockSec     float64 `json:"wall_clock_sec"`
}
