package controller

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress is returned when a controller address cannot form a URL.
var ErrInvalidAddress = errors.New("controller: invalid address")

// TransportError reports a failure to reach a controller at all:
// connection refused, DNS failure, timeout or a broken response stream.
type TransportError struct {
	Address string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("controller %s: %s: transport: %v", e.Address, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a controller that answered, but not with a usable
// response: a non-2xx status or a malformed body.
type ProtocolError struct {
	Address    string
	StatusCode int
	Reason     string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("controller %s: protocol: %s", e.Address, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is, or wraps, a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
