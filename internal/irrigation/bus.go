package irrigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Bus request kinds, the last segment of a request topic.
const (
	RequestControllers = "controllers"
	RequestCircuits    = "circuits"
	RequestStart       = "start"
	RequestStop        = "stop"
)

const defaultBusTimeout = 30 * time.Second

// Reader is the read side the Bus answers from.
type Reader interface {
	GetController(ctx context.Context, id string, opts Options) (*ControllerView, error)
	ListControllers(ctx context.Context, opts Options) ([]ControllerView, error)
	GetCircuit(ctx context.Context, id string, opts Options) (*CircuitView, error)
	ListCircuits(ctx context.Context, opts Options) ([]CircuitView, error)
}

// busRequest is the payload of every request topic. Listing requests use
// _id and populate; start and stop use circuit and duration.
type busRequest struct {
	ID       string `json:"_id"`
	Populate bool   `json:"populate"`
	Circuit  string `json:"circuit"`
	Duration string `json:"duration"`
	ReplyTo  string `json:"reply_to"`
}

type busError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Bus answers listing and actuation requests arriving on the message bus.
type Bus struct {
	reader    Reader
	circuits  CircuitSwitch
	publisher Publisher
	kindOf    func(topic string) (string, bool)
	logger    Logger
	timeout   time.Duration
}

// NewBus creates a Bus. kindOf extracts the request kind from a topic.
func NewBus(reader Reader, circuits CircuitSwitch, publisher Publisher, kindOf func(topic string) (string, bool)) *Bus {
	return &Bus{
		reader:    reader,
		circuits:  circuits,
		publisher: publisher,
		kindOf:    kindOf,
		logger:    noopLogger{},
		timeout:   defaultBusTimeout,
	}
}

// SetLogger sets the logger.
func (b *Bus) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// HandleMessage serves one request. The result is published to the
// request's reply_to topic when one is given. The returned error is the
// request's own failure, or a failure to publish the reply.
func (b *Bus) HandleMessage(topic string, payload []byte) error {
	kind, ok := b.kindOf(topic)
	if !ok {
		return fmt.Errorf("irrigation: not a request topic: %s", topic)
	}

	var req busRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("irrigation: decoding %s request: %w", kind, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	data, err := b.serve(ctx, kind, req)

	var nr *NoRecordsError
	if errors.As(err, &nr) {
		data, err = []any{}, nil
	}

	if req.ReplyTo != "" {
		if pubErr := b.publisher.PublishJSON(req.ReplyTo, reply(data, err)); pubErr != nil {
			return fmt.Errorf("irrigation: publishing %s reply: %w", kind, pubErr)
		}
	}
	if err != nil {
		b.logger.Debug("bus request failed", "kind", kind, "code", ErrorCode(err), "error", err)
	}
	return err
}

func (b *Bus) serve(ctx context.Context, kind string, req busRequest) (any, error) {
	opts := Options{Populate: req.Populate}

	switch kind {
	case RequestControllers:
		if req.ID != "" {
			return b.reader.GetController(ctx, req.ID, opts)
		}
		return b.reader.ListControllers(ctx, opts)

	case RequestCircuits:
		if req.ID != "" {
			return b.reader.GetCircuit(ctx, req.ID, opts)
		}
		return b.reader.ListCircuits(ctx, opts)

	case RequestStart:
		if req.Circuit == "" {
			return nil, &MissingFieldError{Field: jobDataCircuit}
		}
		var start StartOptions
		if req.Duration != "" {
			d, err := time.ParseDuration(req.Duration)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("%w: duration %q", ErrInvalidRequest, req.Duration)
			}
			start.Duration = d
		}
		return b.circuits.Start(ctx, req.Circuit, start)

	case RequestStop:
		if req.Circuit == "" {
			return nil, &MissingFieldError{Field: jobDataCircuit}
		}
		return b.circuits.Stop(ctx, req.Circuit)

	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrInvalidRequest, kind)
	}
}

func reply(data any, err error) map[string]any {
	if err != nil {
		return map[string]any{"error": busError{Code: ErrorCode(err), Message: err.Error()}}
	}
	return map[string]any{"data": data}
}
