package events

import (
	"testing"
	"time"

	"github.com/fenwick-ai/corerun/pkg/models"
)

func TestSubscribeReceivesEmittedEvent(t *testing.T) {
	e := New()
	ch, unsub := e.Subscribe(4)
	defer unsub()

	e.Emit(Status("agent-1", "running", ""))

	select {
	case evt := <-ch:
		if evt.Type != models.EventStatus || evt.AgentID != "agent-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Sequence == 0 {
			t.Fatal("expected a monotonic sequence number to be assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := New()
	ch, unsub := e.Subscribe(4)
	unsub()

	e.Emit(Status("agent-1", "running", ""))

	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("expected no delivery after unsubscribe, got %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamChunkDropsOldestOnOverflow(t *testing.T) {
	e := New()
	ch, unsub := e.Subscribe(2)
	defer unsub()

	for i := 0; i < 5; i++ {
		e.Emit(StreamChunk("a", string(rune('0'+i)), "assistant", false))
	}
	e.Emit(StreamChunk("a", "final", "assistant", true))

	var last models.Event
	count := 0
drain:
	for {
		select {
		case evt := <-ch:
			last = evt
			count++
		default:
			break drain
		}
	}
	if count == 0 {
		t.Fatal("expected at least one delivered chunk")
	}
	if !last.StreamChunk.IsFinal {
		t.Fatalf("expected the final chunk to survive the drop-oldest queue, got %+v", last)
	}
}

func TestNonStreamChunkEventsDoNotSilentlyDrop(t *testing.T) {
	e := New()
	ch, unsub := e.Subscribe(1)
	defer unsub()

	e.Emit(Status("a", "one", ""))
	go e.Emit(Status("a", "two", ""))

	first := <-ch
	if first.Status.Phase != "one" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	select {
	case second := <-ch:
		if second.Status.Phase != "two" {
			t.Fatalf("unexpected second event: %+v", second)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the second status event to eventually be delivered, not dropped")
	}
}
