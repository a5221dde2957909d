package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no topic prefix is configured.
const DefaultTopicPrefix = "graylogic"

// Topics builds the irrigation topic hierarchy under a site prefix.
//
// All irrigation topics share the scheme {prefix}/irrigation/{category}/...
//
//	topics := mqtt.NewTopics("graylogic")
//	topics.CircuitCommand("c1") // graylogic/irrigation/circuits/c1/set
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) base() string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/irrigation"
}

// Status returns the retained service status topic.
//
// Example: graylogic/irrigation/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// CircuitCommand returns the topic a controller listens on for actuation.
//
// Example: graylogic/irrigation/circuits/c1/set
func (t Topics) CircuitCommand(circuitID string) string {
	return fmt.Sprintf("%s/circuits/%s/set", t.base(), circuitID)
}

// Event returns the topic for a circuit lifecycle event.
//
// Example: graylogic/irrigation/events/didStart
func (t Topics) Event(name string) string {
	return fmt.Sprintf("%s/events/%s", t.base(), name)
}

// Request returns the topic for a bus request of the given kind.
//
// Example: graylogic/irrigation/request/circuits
func (t Topics) Request(kind string) string {
	return fmt.Sprintf("%s/request/%s", t.base(), kind)
}

// AllEvents matches every lifecycle event.
//
// Pattern: graylogic/irrigation/events/+
func (t Topics) AllEvents() string {
	return t.base() + "/events/+"
}

// AllRequests matches every bus request.
//
// Pattern: graylogic/irrigation/request/+
func (t Topics) AllRequests() string {
	return t.base() + "/request/+"
}

// RequestKind extracts the request kind from a concrete request topic.
// It reports false when topic is not a request topic under this prefix.
func (t Topics) RequestKind(topic string) (string, bool) {
	kind, ok := strings.CutPrefix(topic, t.base()+"/request/")
	if !ok || kind == "" || strings.Contains(kind, "/") {
		return "", false
	}
	return kind, true
}
