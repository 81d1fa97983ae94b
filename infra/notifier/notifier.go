// Package notifier bridges the in-process event bus to MQTT. Every event is
// published on a broadcast topic; events carrying a target hospital get an
// additional copy on that hospital's private topic so dashboards only need
// one subscription.
package notifier

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kilianp07/hemolink/core/events"
	"github.com/kilianp07/hemolink/core/logger"
	"github.com/kilianp07/hemolink/internal/eventbus"
)

// Publisher is the transport the gateway publishes through.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, []byte) error { return nil }
func (NopPublisher) Close() error                 { return nil }

// RecordingPublisher captures published messages for tests.
type RecordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

// NewRecordingPublisher creates an empty RecordingPublisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{messages: make(map[string][][]byte)}
}

func (r *RecordingPublisher) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	r.messages[topic] = append(r.messages[topic], payload)
	r.mu.Unlock()
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Messages returns the payloads published on topic.
func (r *RecordingPublisher) Messages(topic string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.messages[topic]))
	copy(out, r.messages[topic])
	return out
}

// Topics returns every topic that received at least one message.
func (r *RecordingPublisher) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for t := range r.messages {
		out = append(out, t)
	}
	return out
}

// Gateway forwards bus events to the publisher until the bus closes.
type Gateway struct {
	bus       *eventbus.Bus
	publisher Publisher
	prefix    string
	log       logger.Logger

	sub  <-chan events.Event
	done chan struct{}
}

// NewGateway creates a Gateway publishing under topicPrefix (default "blood").
func NewGateway(bus *eventbus.Bus, publisher Publisher, topicPrefix string, log logger.Logger) (*Gateway, error) {
	if bus == nil || publisher == nil || log == nil {
		return nil, fmt.Errorf("notifier: nil parameter provided to NewGateway")
	}
	if topicPrefix == "" {
		topicPrefix = "blood"
	}
	return &Gateway{
		bus:       bus,
		publisher: publisher,
		prefix:    topicPrefix,
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Start subscribes to the bus and forwards events until the bus closes or
// Stop is called.
func (g *Gateway) Start() {
	g.sub = g.bus.Subscribe()
	go func() {
		defer close(g.done)
		for e := range g.sub {
			g.forward(e)
		}
	}()
}

// Stop unsubscribes from the bus and waits for the forwarding loop to drain.
// Safe to call on a gateway that was never started.
func (g *Gateway) Stop() {
	if g.sub != nil {
		g.bus.Unsubscribe(g.sub)
		<-g.done
	}
	if err := g.publisher.Close(); err != nil {
		g.log.Warnf("close publisher: %v", err)
	}
}

func (g *Gateway) forward(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		g.log.Errorf("marshal event %s: %v", e.Kind, err)
		return
	}
	broadcast := fmt.Sprintf("%s/events/%s", g.prefix, e.Kind)
	if err := g.publisher.Publish(broadcast, payload); err != nil {
		g.log.Errorf("publish %s: %v", broadcast, err)
	}
	if e.TargetHospitalID != "" {
		targeted := fmt.Sprintf("%s/hospitals/%s/%s", g.prefix, e.TargetHospitalID, e.Kind)
		if err := g.publisher.Publish(targeted, payload); err != nil {
			g.log.Errorf("publish %s: %v", targeted, err)
		}
	}
}
