package inventory

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Repository defines the persistence operations over the irrigation inventory.
// This abstraction allows for different implementations (SQLite, in-memory fakes)
// and keeps the reconciliation and actuation logic free of SQL.
type Repository interface {
	// CreateDevice registers a device.
	// Returns ErrDeviceExists if the ID is taken.
	CreateDevice(ctx context.Context, device *Device) error

	// GetDevice retrieves a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices retrieves every registered device.
	ListDevices(ctx context.Context) ([]Device, error)

	// ListIrrigationControllers retrieves devices with an irrigation capability.
	ListIrrigationControllers(ctx context.Context) ([]Device, error)

	// AddControllerCircuit appends circuitID to the controller's circuit list.
	// Appending an ID already present is a no-op.
	AddControllerCircuit(ctx context.Context, deviceID, circuitID string) error

	// GetCircuit retrieves a circuit by ID.
	// Returns ErrCircuitNotFound if the circuit does not exist.
	GetCircuit(ctx context.Context, id string) (*Circuit, error)

	// ListCircuits retrieves every circuit.
	ListCircuits(ctx context.Context) ([]Circuit, error)

	// ListCircuitsByController retrieves the circuits bound to a controller.
	ListCircuitsByController(ctx context.Context, controllerID string) ([]Circuit, error)

	// ListActiveCircuits retrieves circuits recorded as active.
	ListActiveCircuits(ctx context.Context) ([]Circuit, error)

	// SaveCircuit inserts or fully replaces a circuit.
	SaveCircuit(ctx context.Context, circuit *Circuit) error

	// MergeDiscoveredCircuit inserts a circuit reported by a controller, or
	// updates only the state and sensor set of a stored one. Serials already
	// in the set are kept in place.
	MergeDiscoveredCircuit(ctx context.Context, id, controllerID string, active bool, serials []string) (*Circuit, bool, error)

	// SetCircuitActive updates only the actuation state and returns the stored circuit.
	// Returns ErrCircuitNotFound if the circuit does not exist.
	SetCircuitActive(ctx context.Context, id string, active bool) (*Circuit, error)

	// SetCircuitTimetable replaces the circuit's timetable; nil clears it.
	// Returns ErrCircuitNotFound if the circuit does not exist.
	SetCircuitTimetable(ctx context.Context, id string, timetable Timetable) error

	// GetSensor retrieves a sensor by serial.
	// Returns ErrSensorNotFound if the sensor does not exist.
	GetSensor(ctx context.Context, serial string) (*Sensor, error)

	// GetSensors retrieves the sensors with the given serials in the given
	// order. Unknown serials are skipped.
	GetSensors(ctx context.Context, serials []string) ([]Sensor, error)

	// SaveSensor inserts or replaces a sensor.
	SaveSensor(ctx context.Context, sensor *Sensor) error

	// AppendReading adds an entry to the Reading of the entry's UTC day,
	// creating that Reading first if needed.
	AppendReading(ctx context.Context, entry ReadingEntry) error

	// GetReading retrieves the Reading for a day key ("2006-01-02").
	// Returns ErrReadingNotFound if nothing was recorded that day.
	GetReading(ctx context.Context, day string) (*Reading, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func checkAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
