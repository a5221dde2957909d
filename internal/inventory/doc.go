// Package inventory persists the irrigation inventory: controllers (devices),
// circuits, sensors and daily readings.
//
// # Identity
//
// Each entity has one authoritative key:
//   - Device: id assigned when the device is registered
//   - Circuit: id reported by its controller, so re-polling is idempotent
//   - Sensor: hardware serial number, stable across re-registration
//   - Reading: the UTC calendar day ("2006-01-02")
//
// # Lifecycle
//
// Nothing in this package deletes circuits or sensors. Reconciliation
// creates them on first sighting, actuation flips Circuit.IsActive, and
// schedule registration sets Circuit.Timetable. Reading entries are only
// appended, never rewritten.
//
// # Concurrency
//
// SQLiteRepository relies on SQLite for single-row atomicity. The one
// read-modify-write (adding a circuit to its controller's list) runs in a
// transaction.
package inventory
