// Package api implements the HTTP REST API and WebSocket server for the
// irrigation service.
//
// This package provides:
//   - REST endpoints for controllers, circuits, timetables and readings
//   - Circuit actuation (start/stop, optionally time-limited)
//   - On-demand reconcile trigger
//   - WebSocket hub relaying circuit lifecycle events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Handlers are thin: they decode the request, call into the irrigation
// package and map its error taxonomy onto HTTP status codes. Lifecycle
// events reach WebSocket clients through the Hub, which the irrigation
// state machine notifies directly.
//
// # Error mapping
//
//	not found                404
//	guard violation/conflict 409
//	missing field / invalid  400
//	controller failure       502
//	storage / internal       500
//
// Empty collections are returned as [] with 200.
package api
