package irrigation

import (
	"context"
	"time"
)

// Lifecycle event names.
const (
	EventWillStart = "willStart"
	EventDidStart  = "didStart"
	EventWillStop  = "willStop"
	EventDidStop   = "didStop"
)

// EventsChannel carries every lifecycle event. CircuitChannel(id) carries
// only the events of one circuit.
const (
	EventsChannel        = "irrigation.events"
	CircuitChannelPrefix = "irrigation.circuits."
)

// CircuitChannel returns the WebSocket channel for one circuit's events.
func CircuitChannel(circuitID string) string {
	return CircuitChannelPrefix + circuitID
}

// Event is a circuit lifecycle notification.
type Event struct {
	Name       string    `json:"event"`
	Circuit    string    `json:"circuit"`
	Controller string    `json:"controller"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier observes circuit transitions. Notifications are best-effort:
// implementations log their own failures and never block a transition
// for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }

// MultiNotifier fans an event out to every notifier in order.
type MultiNotifier []Notifier

// Notify forwards event to each non-nil notifier.
func (m MultiNotifier) Notify(ctx context.Context, event Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

// Publisher publishes JSON payloads on the message bus.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTNotifier publishes events to topic(event.Name).
type MQTTNotifier struct {
	publisher Publisher
	topic     func(event string) string
	logger    Logger
}

// NewMQTTNotifier creates an MQTTNotifier. logger may be nil.
func NewMQTTNotifier(publisher Publisher, topic func(event string) string, logger Logger) *MQTTNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTNotifier{publisher: publisher, topic: topic, logger: logger}
}

// Notify publishes the event.
func (n *MQTTNotifier) Notify(_ context.Context, event Event) {
	if err := n.publisher.PublishJSON(n.topic(event.Name), event); err != nil {
		n.logger.Warn("failed to publish circuit event",
			"event", event.Name,
			"circuit", event.Circuit,
			"error", err,
		)
	}
}

// Broadcaster pushes a payload to WebSocket subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubNotifier broadcasts events on EventsChannel and on the circuit's own
// channel.
type HubNotifier struct {
	hub Broadcaster
}

// NewHubNotifier creates a HubNotifier.
func NewHubNotifier(hub Broadcaster) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// Notify broadcasts the event.
func (n *HubNotifier) Notify(_ context.Context, event Event) {
	n.hub.Broadcast(EventsChannel, event)
	n.hub.Broadcast(CircuitChannel(event.Circuit), event)
}

// EventRecorder stores completed transitions as time-series points.
type EventRecorder interface {
	WriteCircuitEvent(event, circuitID, controllerID string, active bool, ts time.Time)
}

// RecorderNotifier records didStart and didStop events only.
type RecorderNotifier struct {
	recorder EventRecorder
}

// NewRecorderNotifier creates a RecorderNotifier.
func NewRecorderNotifier(recorder EventRecorder) *RecorderNotifier {
	return &RecorderNotifier{recorder: recorder}
}

// Notify records completed transitions.
func (n *RecorderNotifier) Notify(_ context.Context, event Event) {
	switch event.Name {
	case EventDidStart:
		n.recorder.WriteCircuitEvent(event.Name, event.Circuit, event.Controller, true, event.Timestamp)
	case EventDidStop:
		n.recorder.WriteCircuitEvent(event.Name, event.Circuit, event.Controller, false, event.Timestamp)
	}
}
