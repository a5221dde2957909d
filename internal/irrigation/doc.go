// Package irrigation reconciles and actuates irrigation circuits.
//
// It holds the domain logic between the inventory store and the physical
// controllers:
//
//   - Reconciler: pulls each controller's topology and converges the
//     inventory towards it (circuits, sensors, daily readings)
//   - Facade: read-only queries over controllers and circuits
//   - StateMachine: guarded start/stop transitions that only persist
//     state once the controller accepted the command
//   - Scheduler: turns weekly timetables into planner jobs
//   - Bus: answers listing and actuation requests from the message bus
//
// Errors follow one taxonomy (NotFoundError, NoRecordsError,
// GuardViolationError, MissingFieldError, StorageError, plus the
// controller package's transport and protocol errors). ErrorCode maps any
// of them to a stable code and IsRetryable tells terminal failures apart
// from transient ones.
package irrigation
