package bus

import (
	"context"
	"testing"

	"github.com/fenwick-ai/corerun/internal/checkpoint"
	"github.com/fenwick-ai/corerun/internal/conversation"
	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/sessionstore"
)

func newTestBus(t *testing.T) (*Bus, *conversation.Manager, *events.Emitter) {
	t.Helper()
	store := sessionstore.NewMemoryStore()
	cm := checkpoint.New(store, checkpoint.NewMemoryBackend())
	t.Cleanup(cm.Close)
	emitter := events.New()
	conv := conversation.New(store, cm, 32000, conversation.WithEventSink(emitter))
	return New(conv, WithEventSink(emitter)), conv, emitter
}

func TestDirectedDeliveryWritesIntoRecipientSession(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)

	if _, err := b.Spawn(ctx, "alice", "planner", "", SpawnOptions{}); err != nil {
		t.Fatalf("spawn alice: %v", err)
	}
	if _, err := b.Spawn(ctx, "bob", "worker", "", SpawnOptions{}); err != nil {
		t.Fatalf("spawn bob: %v", err)
	}

	if err := b.Send(ctx, Envelope{FromAgent: "alice", ToAgent: "bob", Content: "please start"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := conv.FormatForGateway(ctx, "bob")
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "please start" {
		t.Fatalf("expected directed delivery into bob's session, got %+v", msgs)
	}
	if msgs[0].Metadata["from_agent"] != "alice" {
		t.Fatalf("expected provenance metadata, got %+v", msgs[0].Metadata)
	}
}

func TestDeliveryToUnknownAgentEmitsDeadLetter(t *testing.T) {
	ctx := context.Background()
	b, _, emitter := newTestBus(t)
	ch, unsub := emitter.Subscribe(16)
	defer unsub()

	if err := b.Send(ctx, Envelope{FromAgent: "alice", ToAgent: "ghost", Content: "hello?"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.DeadLetter == nil || evt.DeadLetter.ToAgent != "ghost" {
			t.Fatalf("expected a dead_letter event for unknown recipient, got %+v", evt)
		}
	default:
		t.Fatalf("expected a dead_letter event to be emitted")
	}
}

func TestRoleDeliveryRoundRobins(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)
	b.Spawn(ctx, "w1", "worker", "", SpawnOptions{})
	b.Spawn(ctx, "w2", "worker", "", SpawnOptions{})

	for i := 0; i < 2; i++ {
		if err := b.Send(ctx, Envelope{FromAgent: "coordinator", ToRole: "worker", Content: "task"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	w1Msgs, _ := conv.FormatForGateway(ctx, "w1")
	w2Msgs, _ := conv.FormatForGateway(ctx, "w2")
	if len(w1Msgs) != 1 || len(w2Msgs) != 1 {
		t.Fatalf("expected round-robin to split the two sends across w1 and w2, got w1=%d w2=%d", len(w1Msgs), len(w2Msgs))
	}
}

func TestPausedAgentSkippedByRoleDelivery(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)
	b.Spawn(ctx, "w1", "worker", "", SpawnOptions{})
	b.Spawn(ctx, "w2", "worker", "", SpawnOptions{})

	if err := b.Pause("w1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := b.Send(ctx, Envelope{FromAgent: "coordinator", ToRole: "worker", Content: "task"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	w1Msgs, _ := conv.FormatForGateway(ctx, "w1")
	w2Msgs, _ := conv.FormatForGateway(ctx, "w2")
	if len(w1Msgs) != 0 || len(w2Msgs) != 2 {
		t.Fatalf("expected the paused agent to receive nothing, got w1=%d w2=%d", len(w1Msgs), len(w2Msgs))
	}
}

func TestSpawnSubAgentSharesSessionWhenRequested(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)
	b.Spawn(ctx, "parent", "planner", "", SpawnOptions{})
	conv.Prepare(ctx, "parent", "kickoff", "")

	if _, err := b.Spawn(ctx, "child", "worker", "parent", SpawnOptions{ShareSession: true, InitialPrompt: "go"}); err != nil {
		t.Fatalf("spawn child: %v", err)
	}

	parentMsgs, _ := conv.FormatForGateway(ctx, "parent")
	if len(parentMsgs) != 2 {
		t.Fatalf("expected the child's initial prompt to land in the shared parent session, got %d messages", len(parentMsgs))
	}
}

func TestHumanReplyPostsUserMessage(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)
	b.Spawn(ctx, "alice", "planner", "", SpawnOptions{})

	if err := b.HumanReply(ctx, "alice", "go ahead"); err != nil {
		t.Fatalf("human reply: %v", err)
	}

	msgs, _ := conv.FormatForGateway(ctx, "alice")
	if len(msgs) != 1 || msgs[0].MessageType != "human_reply" {
		t.Fatalf("expected a human_reply message, got %+v", msgs)
	}
}

func TestSendToHumanEmitsEventWithoutTouchingSessions(t *testing.T) {
	ctx := context.Background()
	b, _, emitter := newTestBus(t)
	ch, unsub := emitter.Subscribe(16)
	defer unsub()

	b.Spawn(ctx, "alice", "planner", "", SpawnOptions{})
	if err := b.Send(ctx, Envelope{FromAgent: "alice", ToAgent: HumanRecipient, Content: "need input", MessageType: "question"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.HumanMessage == nil || evt.HumanMessage.Text != "need input" {
			t.Fatalf("expected a human_message event, got %+v", evt)
		}
	default:
		t.Fatalf("expected a human_message event to be emitted")
	}
}

func TestDestroyRemovesAgentFromRoleRouting(t *testing.T) {
	ctx := context.Background()
	b, conv, _ := newTestBus(t)
	b.Spawn(ctx, "w1", "worker", "", SpawnOptions{})
	b.Spawn(ctx, "w2", "worker", "", SpawnOptions{})
	b.Destroy("w1")

	for i := 0; i < 2; i++ {
		b.Send(ctx, Envelope{FromAgent: "coordinator", ToRole: "worker", Content: "task"})
	}

	w2Msgs, _ := conv.FormatForGateway(ctx, "w2")
	if len(w2Msgs) != 2 {
		t.Fatalf("expected every role delivery to land on the remaining agent, got %d", len(w2Msgs))
	}
}
