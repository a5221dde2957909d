package irrigation

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-irrigation/internal/controller"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
	"github.com/nerrad567/gray-logic-irrigation/internal/planner"
)

// Guard reasons and payload sentinels. GuardViolationError and
// MissingFieldError unwrap to these, so errors.Is works on either form.
var (
	ErrCircuitDisabled = errors.New("irrigation: circuit is disabled")
	ErrAlreadyActive   = errors.New("irrigation: circuit is already active")
	ErrAlreadyStopped  = errors.New("irrigation: circuit is already stopped")
	ErrMissingCircuit  = errors.New("irrigation: payload has no circuit")
	ErrInvalidRequest  = errors.New("irrigation: invalid request")
)

// Entity names used in NotFoundError and NoRecordsError.
const (
	EntityController = "controller"
	EntityCircuit    = "circuit"
	EntityReading    = "reading"
)

// NotFoundError reports a lookup by id that matched nothing.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("irrigation: %s %q not found", e.Entity, e.ID)
}

// NoRecordsError reports an empty collection.
type NoRecordsError struct {
	Entity string
}

func (e *NoRecordsError) Error() string {
	return fmt.Sprintf("irrigation: no %s records", e.Entity)
}

// StorageError wraps a failure of the inventory store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("irrigation: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GuardViolationError reports an illegal state transition.
type GuardViolationError struct {
	CircuitID string
	Reason    error
}

func (e *GuardViolationError) Error() string {
	return fmt.Sprintf("circuit %s: %v", e.CircuitID, e.Reason)
}

func (e *GuardViolationError) Unwrap() error { return e.Reason }

// MissingFieldError reports a required payload field that is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("irrigation: missing required field %q", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	if e.Field == "circuit" {
		return ErrMissingCircuit
	}
	return nil
}

// IsRetryable reports whether err is worth retrying: a controller that
// could not be reached or a failing store. Guard violations, missing
// entities, bad payloads and protocol errors are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StorageError
	return errors.As(err, &se) || controller.IsTransport(err)
}

// Error codes shared by the HTTP API and the MQTT bus.
const (
	CodeNotFound       = "not_found"
	CodeNoRecords      = "no_records"
	CodeGuardViolation = "guard_violation"
	CodeMissingField   = "missing_field"
	CodeInvalid        = "invalid_request"
	CodeConflict       = "conflict"
	CodeTransport      = "controller_unreachable"
	CodeProtocol       = "controller_protocol"
	CodeStorage        = "storage_error"
	CodeInternal       = "internal_error"
)

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	var (
		nf *NotFoundError
		nr *NoRecordsError
		gv *GuardViolationError
		mf *MissingFieldError
		se *StorageError
	)
	switch {
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &nr):
		return CodeNoRecords
	case errors.As(err, &gv):
		return CodeGuardViolation
	case errors.As(err, &mf):
		return CodeMissingField
	case errors.Is(err, inventory.ErrDeviceExists):
		return CodeConflict
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, inventory.ErrInvalidTimetable),
		errors.Is(err, inventory.ErrInvalidDevice),
		errors.Is(err, inventory.ErrInvalidCircuit),
		errors.Is(err, planner.ErrInvalidSchedule):
		return CodeInvalid
	case controller.IsTransport(err):
		return CodeTransport
	case controller.IsProtocol(err), errors.Is(err, controller.ErrInvalidAddress):
		return CodeProtocol
	case errors.As(err, &se):
		return CodeStorage
	default:
		return CodeInternal
	}
}

// storageError maps inventory lookup failures onto the taxonomy.
func storageError(op, entity, id string, err error) error {
	switch {
	case errors.Is(err, inventory.ErrDeviceNotFound),
		errors.Is(err, inventory.ErrCircuitNotFound),
		errors.Is(err, inventory.ErrReadingNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	default:
		return &StorageError{Op: op, Err: err}
	}
}
