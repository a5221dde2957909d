package controller

import (
	"context"
	"fmt"
)

// Publisher is the subset of the MQTT client the commander needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTCommander sends circuit commands over the broker instead of HTTP.
// The controller address is ignored; the circuit id selects the topic.
type MQTTCommander struct {
	publisher Publisher
	topic     func(circuitID string) string
}

// NewMQTTCommander publishes commands to the topic returned by topic(circuitID).
func NewMQTTCommander(publisher Publisher, topic func(circuitID string) string) *MQTTCommander {
	return &MQTTCommander{publisher: publisher, topic: topic}
}

// SendCommand publishes {"_id","status"}. A publish failure means the
// broker did not accept the message and is reported as a TransportError.
func (m *MQTTCommander) SendCommand(ctx context.Context, address, circuitID string, active bool) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Address: address, Op: "publish command", Err: err}
	}
	topic := m.topic(circuitID)
	if err := m.publisher.PublishJSON(topic, Command{ID: circuitID, Status: active}); err != nil {
		return &TransportError{Address: topic, Op: "publish command", Err: fmt.Errorf("mqtt: %w", err)}
	}
	return nil
}
