package notifier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/infra/logger"
	"github.com/kilianp07/hemolink/internal/eventbus"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestGateway_BroadcastAndTargeted(t *testing.T) {
	bus := eventbus.New()
	pub := NewRecordingPublisher()
	g, err := NewGateway(bus, pub, "blood", logger.NopLogger{})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	g.Start()

	bus.Publish(events.Event{
		Kind:             events.KindPledgeCreated,
		TargetHospitalID: "hosp-1",
		Payload:          events.PledgeCreated{RequestID: "req-1"},
	})
	bus.Publish(events.Event{
		Kind:    events.KindDonorCodeCleared,
		Payload: events.DonorCodeCleared{DonorID: "donor-1"},
	})

	waitFor(t, func() bool {
		return len(pub.Messages("blood/events/donor.codeCleared")) == 1
	})

	broadcast := pub.Messages("blood/events/pledge.created")
	targeted := pub.Messages("blood/hospitals/hosp-1/pledge.created")
	if len(broadcast) != 1 || len(targeted) != 1 {
		t.Fatalf("expected broadcast and targeted copies, got %v", pub.Topics())
	}

	var decoded events.Event
	if err := json.Unmarshal(targeted[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != events.KindPledgeCreated || decoded.TargetHospitalID != "hosp-1" {
		t.Fatalf("payload mangled: %+v", decoded)
	}

	// The untargeted event only gets the broadcast copy.
	if n := len(pub.Messages("blood/hospitals/donor-1/donor.codeCleared")); n != 0 {
		t.Fatalf("untargeted event must not publish a private copy, got %d", n)
	}

	bus.Close()
	g.Stop()
}

func TestGateway_StopDrains(t *testing.T) {
	bus := eventbus.New()
	pub := NewRecordingPublisher()
	g, err := NewGateway(bus, pub, "", logger.NopLogger{})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	g.Start()

	bus.Publish(events.Event{Kind: events.KindRequestCreated, Payload: events.RequestCreated{}})
	waitFor(t, func() bool {
		return len(pub.Messages("blood/events/request.created")) == 1
	})

	g.Stop()
	// Publishing after Stop must not panic or deliver.
	bus.Publish(events.Event{Kind: events.KindRequestCreated, Payload: events.RequestCreated{}})
	if n := len(pub.Messages("blood/events/request.created")); n != 1 {
		t.Fatalf("message delivered after stop: %d", n)
	}
	bus.Close()
}
