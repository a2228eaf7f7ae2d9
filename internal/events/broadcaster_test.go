package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventStatus, Entity: "Asset:hero", Status: "needs_sync", Count: 3})

	select {
	case received := <-ch:
		if received.Type != EventStatus || received.Count != 3 {
			t.Errorf("received %+v", received)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventProgress, Path: "//demo/hero.ma"})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != 64 {
				t.Errorf("expected 64 buffered events, got %d", count)
			}
			return
		}
	}
}

func TestNilBroadcasterPublish(t *testing.T) {
	var b *Broadcaster
	b.Publish(Event{Type: EventItem})
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(Event{Type: EventCompleted, Path: "//demo/hero.ma", Status: "synced", Timestamp: 1234567890})
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["type"] != EventCompleted || back["status"] != "synced" {
		t.Errorf("decoded %v", back)
	}
	if _, ok := back["percent"]; ok {
		t.Error("zero percent should be omitted")
	}
}
