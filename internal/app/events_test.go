package app

import (
	"testing"
	"time"

	"github.com/dkeye/Scribe/internal/core"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(core.Event{Type: core.EventConnected, SessionID: "s1"})

	for name, ch := range map[string]<-chan core.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != core.EventConnected || ev.SessionID != "s1" {
				t.Fatalf("subscriber %s got wrong event: %+v", name, ev)
			}
			if ev.Timestamp.IsZero() {
				t.Fatalf("subscriber %s got event without timestamp", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the event", name)
		}
	}
}

func TestBusCanceledSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, cancel := bus.Subscribe(0)
	cancel()
	cancel() // cancel is idempotent

	done := make(chan struct{})
	go func() {
		bus.Publish(core.Event{Type: core.EventAudio, SessionID: "s1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a canceled subscriber")
	}
}
