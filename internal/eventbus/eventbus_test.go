package eventbus

import (
	"testing"

	"github.com/kilianp07/hemolink/core/events"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Emit(events.Event{Kind: events.KindRequestCreated})
	e := <-ch
	if e.Kind != events.KindRequestCreated {
		t.Fatalf("expected request.created got %v", e.Kind)
	}
	bus.Unsubscribe(ch)
}

func TestBusNonBlocking(t *testing.T) {
	bus := New()
	_ = bus.Subscribe() // never drained
	for i := 0; i < 100; i++ {
		bus.Publish(events.Event{Kind: events.KindPledgeCreated})
	}
	// reaching here without deadlock is the assertion
}

func TestBusClose(t *testing.T) {
	bus := New()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
