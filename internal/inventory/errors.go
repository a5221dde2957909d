package inventory

import "errors"

// Domain errors for the inventory package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, inventory.ErrCircuitNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("inventory: device not found")

	// ErrDeviceExists is returned when registering a device ID twice.
	ErrDeviceExists = errors.New("inventory: device already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("inventory: invalid device")

	// ErrNotController is returned when a device has no irrigation capability.
	ErrNotController = errors.New("inventory: device is not an irrigation controller")

	// ErrCircuitNotFound is returned when a circuit ID does not exist.
	ErrCircuitNotFound = errors.New("inventory: circuit not found")

	// ErrInvalidCircuit is returned when circuit validation fails.
	ErrInvalidCircuit = errors.New("inventory: invalid circuit")

	// ErrSensorNotFound is returned when a sensor serial does not exist.
	ErrSensorNotFound = errors.New("inventory: sensor not found")

	// ErrReadingNotFound is returned when no reading exists for a day.
	ErrReadingNotFound = errors.New("inventory: reading not found")

	// ErrInvalidTimetable is returned when a timetable fails validation.
	ErrInvalidTimetable = errors.New("inventory: invalid timetable")
)
