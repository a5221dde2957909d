package irrigation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
)

type busReply struct {
	Data  json.RawMessage `json:"data"`
	Error *busError       `json:"error"`
}

func newTestBus(t *testing.T, repo *inventory.SQLiteRepository, sw CircuitSwitch) (*Bus, *capturePublisher, mqtt.Topics) {
	t.Helper()
	topics := mqtt.NewTopics("graylogic")
	pub := &capturePublisher{}
	return NewBus(NewFacade(repo), sw, pub, topics.RequestKind), pub, topics
}

func decodeReply(t *testing.T, pub *capturePublisher, topic string) busReply {
	t.Helper()
	raw := pub.last(topic)
	require.NotNil(t, raw, "no reply on %s", topic)
	var r busReply
	require.NoError(t, json.Unmarshal(raw, &r))
	return r
}

func TestBus_Listings(t *testing.T) {
	bus, pub, topics := newTestBus(t, seedInventory(t), &scriptedSwitch{})

	require.NoError(t, bus.HandleMessage(topics.Request(RequestCircuits),
		[]byte(`{"populate":true,"reply_to":"ui/1"}`)))
	reply := decodeReply(t, pub, "ui/1")
	require.Nil(t, reply.Error)
	var circuits []CircuitView
	require.NoError(t, json.Unmarshal(reply.Data, &circuits))
	require.Len(t, circuits, 2)
	require.NotNil(t, circuits[0].ControllerRef)

	require.NoError(t, bus.HandleMessage(topics.Request(RequestControllers),
		[]byte(`{"_id":"ctrl","reply_to":"ui/2"}`)))
	reply = decodeReply(t, pub, "ui/2")
	var ctrl ControllerView
	require.NoError(t, json.Unmarshal(reply.Data, &ctrl))
	assert.Equal(t, "ctrl", ctrl.ID)
}

func TestBus_EmptyListIsNotAnError(t *testing.T) {
	bus, pub, topics := newTestBus(t, setupRepo(t), &scriptedSwitch{})

	require.NoError(t, bus.HandleMessage(topics.Request(RequestControllers), []byte(`{"reply_to":"ui/1"}`)))
	reply := decodeReply(t, pub, "ui/1")
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `[]`, string(reply.Data))
}

func TestBus_ErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		payload  string
		wantCode string
	}{
		{name: "unknown circuit", kind: RequestCircuits, payload: `{"_id":"c404"}`, wantCode: CodeNotFound},
		{name: "start without circuit", kind: RequestStart, payload: `{}`, wantCode: CodeMissingField},
		{name: "stop without circuit", kind: RequestStop, payload: `{}`, wantCode: CodeMissingField},
		{name: "bad duration", kind: RequestStart, payload: `{"circuit":"c1","duration":"soon"}`, wantCode: CodeInvalid},
		{name: "negative duration", kind: RequestStart, payload: `{"circuit":"c1","duration":"-5m"}`, wantCode: CodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, pub, topics := newTestBus(t, seedInventory(t), &scriptedSwitch{})

			var req map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &req))
			req["reply_to"] = "ui/err"
			payload, err := json.Marshal(req)
			require.NoError(t, err)

			err = bus.HandleMessage(topics.Request(tt.kind), payload)
			require.Error(t, err)

			reply := decodeReply(t, pub, "ui/err")
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.wantCode, reply.Error.Code)
			assert.NotEmpty(t, reply.Error.Message)
		})
	}
}

func TestBus_Actuation(t *testing.T) {
	sw := &scriptedSwitch{}
	bus, pub, topics := newTestBus(t, seedInventory(t), sw)

	require.NoError(t, bus.HandleMessage(topics.Request(RequestStart),
		[]byte(`{"circuit":"c1","duration":"15m","reply_to":"ui/start"}`)))
	require.NoError(t, bus.HandleMessage(topics.Request(RequestStop),
		[]byte(`{"circuit":"c1"}`)))

	assert.Equal(t, []string{"c1"}, sw.starts)
	assert.Equal(t, []string{"c1"}, sw.stops)

	reply := decodeReply(t, pub, "ui/start")
	var c inventory.Circuit
	require.NoError(t, json.Unmarshal(reply.Data, &c))
	assert.True(t, c.IsActive)
}

func TestBus_ActuationFailureWithoutReply(t *testing.T) {
	sw := &scriptedSwitch{errs: []error{&GuardViolationError{CircuitID: "c1", Reason: ErrAlreadyActive}}}
	bus, _, topics := newTestBus(t, seedInventory(t), sw)

	err := bus.HandleMessage(topics.Request(RequestStart), []byte(`{"circuit":"c1"}`))
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestBus_RejectsBadInput(t *testing.T) {
	bus, pub, topics := newTestBus(t, seedInventory(t), &scriptedSwitch{})

	assert.Error(t, bus.HandleMessage("other/topic", []byte(`{}`)))
	assert.Error(t, bus.HandleMessage(topics.Request(RequestCircuits), []byte(`{not json`)))
	assert.Empty(t, pub.messages)
}

func TestBus_PublishFailure(t *testing.T) {
	bus, pub, topics := newTestBus(t, seedInventory(t), &scriptedSwitch{})
	pub.err = errors.New("broker gone")
	bus.timeout = time.Second

	err := bus.HandleMessage(topics.Request(RequestCircuits), []byte(`{"reply_to":"ui/1"}`))
	assert.ErrorContains(t, err, "broker gone")
}
