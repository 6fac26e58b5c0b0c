// Package events implements the Event Emitter: typed events fanned out to any
// number of subscribed UIs. Each subscriber gets its own bounded queue: on a full queue a
// stream_chunk event drops the oldest entry rather than stalling the caller, and any other
// event waits at most 50ms for room and is then dropped.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// DefaultQueueSize bounds a subscriber's backlog before stream_chunk events start dropping the
// oldest queued entry to make room for the newest.
const DefaultQueueSize = 256

// Sink receives emitted events. Implementations must be safe for concurrent use; Emit must
// never block the caller for long (the Emitter itself only guarantees this for its own
// queue-backed subscribers, not for arbitrary third-party sinks passed to Attach).
type Sink interface {
	Emit(models.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(models.Event)

// Emit calls f.
func (f SinkFunc) Emit(e models.Event) { f(e) }

// Emitter is the core's single event bus: every component that produces one of the core's events
// (message, stream_chunk, token_update, status, tool_invocation, error, checkpoint,
// human_message) emits through one Emitter per run, and any number of UIs subscribe to it.
type Emitter struct {
	mu       sync.RWMutex
	subs     map[int]*subscriber
	nextID   int
	sequence uint64
}

type subscriber struct {
	queue    chan models.Event
	dropOnly models.EventType // queue drops its oldest entry on overflow only for this type
	mu       sync.Mutex
}

// New creates an empty Emitter.
func New() *Emitter {
	return &Emitter{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new listener and returns a channel of events plus an Unsubscribe
// func. The channel is buffered to queueSize (DefaultQueueSize if <= 0); once full, only
// stream_chunk events drop the oldest queued entry to keep the producer from blocking;
// every other event type makes the producer wait up to 50ms for room and is dropped if none
// frees up.
func (e *Emitter) Subscribe(queueSize int) (<-chan models.Event, func()) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	sub := &subscriber{queue: make(chan models.Event, queueSize), dropOnly: models.EventStreamChunk}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = sub
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
	return sub.queue, unsubscribe
}

// Emit stamps the event with a monotonic sequence number and timestamp (if unset) and fans it
// out to every subscriber. A subscriber whose queue is full can hold the caller for up to 50ms
// per non-stream_chunk event.
func (e *Emitter) Emit(evt models.Event) {
	evt.Sequence = atomic.AddUint64(&e.sequence, 1)
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	if evt.Version == 0 {
		evt.Version = 1
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, sub := range e.subs {
		sub.send(evt)
	}
}

func (s *subscriber) send(evt models.Event) {
	select {
	case s.queue <- evt:
		return
	default:
	}
	if evt.Type != s.dropOnly {
		// Non-stream_chunk events are not allowed to silently vanish; block briefly so a
		// slow-but-alive reader still receives them, bounded so a dead reader can't wedge
		// the emitter forever.
		select {
		case s.queue <- evt:
		case <-time.After(50 * time.Millisecond):
		}
		return
	}

	// stream_chunk: drop-oldest to make room for the newest.
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- evt:
	default:
	}
}

// Helper constructors for the common event shapes, so producers don't hand-assemble the
// envelope at every call site.

// Message builds a `message` event.
func Message(agentID, sessionID string, role models.Role, content string, metadata map[string]any) models.Event {
	return models.Event{
		Type:    models.EventMessage,
		AgentID: agentID,
		Message: &models.MessageEvent{Role: role, Content: content, SessionID: sessionID, Metadata: metadata},
	}
}

// StreamChunk builds a `stream_chunk` event.
func StreamChunk(agentID, chunk, channel string, isFinal bool) models.Event {
	return models.Event{
		Type:        models.EventStreamChunk,
		AgentID:     agentID,
		StreamChunk: &models.StreamChunkEvent{Chunk: chunk, Channel: channel, IsFinal: isFinal},
	}
}

// TokenUpdate builds a `token_update` event.
func TokenUpdate(agentID string, used, max int, perCategory map[models.Category]models.UsagePair) models.Event {
	return models.Event{
		Type:        models.EventTokenUpdate,
		AgentID:     agentID,
		TokenUpdate: &models.TokenUpdateEvent{Used: used, Max: max, PerCategory: perCategory},
	}
}

// Status builds a `status` event.
func Status(agentID, phase, detail string) models.Event {
	return models.Event{
		Type:    models.EventStatus,
		AgentID: agentID,
		Status:  &models.StatusEvent{Phase: phase, Detail: detail},
	}
}

// Error builds an `error` event.
func Error(agentID, correlationID, kind string, err error) models.Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return models.Event{
		Type:          models.EventError,
		AgentID:       agentID,
		CorrelationID: correlationID,
		Error:         &models.ErrorEvent{Kind: kind, Message: msg, Err: err},
	}
}

// HumanMessage builds a `human_message` event.
func HumanMessage(agentID, text, typ string) models.Event {
	return models.Event{
		Type:         models.EventHumanMessage,
		AgentID:      agentID,
		HumanMessage: &models.HumanMessageEvent{Text: text, Type: typ},
	}
}

// ToolInvocation builds a `tool_invocation` event.
func ToolInvocation(agentID, correlationID, name, inputSummary string, ok, timedOut bool, duration time.Duration) models.Event {
	return models.Event{
		Type:          models.EventToolInvocation,
		AgentID:       agentID,
		CorrelationID: correlationID,
		ToolInvocation: &models.ToolInvocationEvent{
			Name: name, InputSummary: inputSummary, OK: ok, TimedOut: timedOut,
			DurationMS: duration.Milliseconds(),
		},
	}
}

// DeadLetter builds a `dead_letter` event for an envelope the bus could not route.
func DeadLetter(fromAgent, toAgent, role, reason string) models.Event {
	return models.Event{
		Type:       models.EventDeadLetter,
		AgentID:    fromAgent,
		DeadLetter: &models.DeadLetterEvent{ToAgent: toAgent, Role: role, Reason: reason},
	}
}

// Checkpoint builds a `checkpoint` event.
func Checkpoint(agentID, checkpointID, sessionID string, kind models.CheckpointKind) models.Event {
	return models.Event{
		Type:       models.EventCheckpoint,
		AgentID:    agentID,
		Checkpoint: &models.CheckpointEvent{CheckpointID: checkpointID, SessionID: sessionID, Kind: kind},
	}
}
