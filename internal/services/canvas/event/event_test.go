package event

import (
	"encoding/json"
	"testing"

	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
)

func TestNewEncodesPayload(t *testing.T) {
	evt, err := New(7, TypeCanvasEdited, CanvasEdited{
		Editor:   "alice@example.com",
		EditorID: 3,
		Cells:    2,
		Charged:  1500,
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if evt.Height != 7 || evt.Type != TypeCanvasEdited {
		t.Errorf("event = %+v", evt)
	}

	var decoded CanvasEdited
	if err := json.Unmarshal(evt.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Editor != "alice@example.com" || decoded.Charged != 1500 {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	first := hub.Subscribe(4)
	second := hub.Subscribe(4)

	hub.Publish(storage.Event{Seq: 1, Type: TypeCanvasEdited})

	for name, ch := range map[string]<-chan storage.Event{"first": first, "second": second} {
		select {
		case evt := <-ch:
			if evt.Seq != 1 {
				t.Errorf("%s subscriber got seq %d, want 1", name, evt.Seq)
			}
		default:
			t.Errorf("%s subscriber got nothing", name)
		}
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe(1)
	fast := hub.Subscribe(8)

	hub.Publish(
		storage.Event{Seq: 1, Type: TypeCanvasEdited},
		storage.Event{Seq: 2, Type: TypeCanvasEdited},
	)

	if hub.Len() != 1 {
		t.Fatalf("hub len = %d, want 1 after dropping slow subscriber", hub.Len())
	}

	// The slow channel must be closed after draining its buffer.
	<-slow
	if _, open := <-slow; open {
		t.Error("slow subscriber channel still open")
	}

	if evt := <-fast; evt.Seq != 1 {
		t.Errorf("fast subscriber first seq = %d, want 1", evt.Seq)
	}
	if evt := <-fast; evt.Seq != 2 {
		t.Errorf("fast subscriber second seq = %d, want 2", evt.Seq)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1)
	hub.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("unsubscribed channel still open")
	}
	if hub.Len() != 0 {
		t.Errorf("hub len = %d, want 0", hub.Len())
	}

	// Publishing after unsubscribe must not panic.
	hub.Publish(storage.Event{Seq: 1})
}

func TestHubCloseRejectsNewSubscribers(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1)
	hub.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after hub close")
	}
	late := hub.Subscribe(1)
	if _, open := <-late; open {
		t.Error("late subscription channel should arrive closed")
	}
}
