package irrigation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubRecorder struct {
	mu       sync.Mutex
	channels []string
	payloads []any
}

func (h *hubRecorder) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append(h.channels, channel)
	h.payloads = append(h.payloads, payload)
}

type eventPoint struct {
	event, circuit, controller string
	active                     bool
}

type recorderStub struct {
	points []eventPoint
}

func (r *recorderStub) WriteCircuitEvent(event, circuitID, controllerID string, active bool, _ time.Time) {
	r.points = append(r.points, eventPoint{event, circuitID, controllerID, active})
}

func testEvent(name string) Event {
	return Event{
		Name:       name,
		Circuit:    "c1",
		Controller: "ctrl",
		Timestamp:  time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC),
	}
}

func TestMQTTNotifier(t *testing.T) {
	pub := &capturePublisher{}
	n := NewMQTTNotifier(pub, func(name string) string { return "graylogic/irrigation/events/" + name }, nil)

	n.Notify(context.Background(), testEvent(EventDidStart))

	raw := pub.last("graylogic/irrigation/events/didStart")
	require.NotNil(t, raw)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "didStart", got["event"])
	assert.Equal(t, "c1", got["circuit"])
	assert.Equal(t, "ctrl", got["controller"])
	assert.Equal(t, "2026-10-19T06:00:00Z", got["timestamp"])

	// Publish failures are swallowed.
	pub.err = errors.New("offline")
	n.Notify(context.Background(), testEvent(EventDidStop))
}

func TestHubNotifier(t *testing.T) {
	hub := &hubRecorder{}
	NewHubNotifier(hub).Notify(context.Background(), testEvent(EventWillStop))

	require.Len(t, hub.channels, 2)
	assert.Equal(t, []string{EventsChannel, "irrigation.circuits.c1"}, hub.channels)
	assert.Equal(t, testEvent(EventWillStop), hub.payloads[0])
	assert.Equal(t, hub.payloads[0], hub.payloads[1])
}

func TestRecorderNotifier_RecordsCompletedTransitions(t *testing.T) {
	rec := &recorderStub{}
	n := NewRecorderNotifier(rec)
	for _, name := range []string{EventWillStart, EventDidStart, EventWillStop, EventDidStop} {
		n.Notify(context.Background(), testEvent(name))
	}

	assert.Equal(t, []eventPoint{
		{EventDidStart, "c1", "ctrl", true},
		{EventDidStop, "c1", "ctrl", false},
	}, rec.points)
}

func TestMultiNotifier(t *testing.T) {
	var order []string
	first := NotifierFunc(func(_ context.Context, e Event) { order = append(order, "first:"+e.Name) })
	second := NotifierFunc(func(_ context.Context, e Event) { order = append(order, "second:"+e.Name) })

	MultiNotifier{first, nil, second}.Notify(context.Background(), testEvent(EventWillStart))
	assert.Equal(t, []string{"first:willStart", "second:willStart"}, order)
}
