// Package controller talks to irrigation controllers.
//
// A controller exposes one HTTP endpoint at its network address: GET
// returns the live topology (circuits with their status and nested sensor
// snapshots) and POST with {"_id","status"} switches a circuit's valve.
//
// The Client never retries. Failures are classified so callers can decide:
// TransportError when the controller could not be reached, ProtocolError
// when it answered with a non-2xx status or an unreadable body.
//
// MQTTCommander is an alternative actuation transport that publishes the
// same command to {prefix}/irrigation/circuits/{id}/set.
package controller
