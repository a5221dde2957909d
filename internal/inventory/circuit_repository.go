package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const circuitColumns = `id, controller_id, name, is_active, is_disabled, is_reservoir,
	sensors, timetable, created_at, updated_at`

// GetCircuit retrieves a circuit by ID.
func (r *SQLiteRepository) GetCircuit(ctx context.Context, id string) (*Circuit, error) {
	return r.getCircuit(ctx, r.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) getCircuit(ctx context.Context, q queryRower, id string) (*Circuit, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+circuitColumns+` FROM irrigation_circuits WHERE id = ?`, id)

	circuit, err := scanCircuit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCircuitNotFound
		}
		return nil, fmt.Errorf("querying circuit by id: %w", err)
	}
	return circuit, nil
}

// ListCircuits retrieves every circuit.
func (r *SQLiteRepository) ListCircuits(ctx context.Context) ([]Circuit, error) {
	return r.queryCircuits(ctx,
		`SELECT `+circuitColumns+` FROM irrigation_circuits ORDER BY controller_id, name, id`)
}

// ListCircuitsByController retrieves the circuits bound to a controller.
func (r *SQLiteRepository) ListCircuitsByController(ctx context.Context, controllerID string) ([]Circuit, error) {
	return r.queryCircuits(ctx, `
		SELECT `+circuitColumns+` FROM irrigation_circuits
		WHERE controller_id = ?
		ORDER BY name, id`, controllerID)
}

// ListActiveCircuits retrieves circuits recorded as active.
func (r *SQLiteRepository) ListActiveCircuits(ctx context.Context) ([]Circuit, error) {
	return r.queryCircuits(ctx, `
		SELECT `+circuitColumns+` FROM irrigation_circuits
		WHERE is_active = 1
		ORDER BY controller_id, id`)
}

// SaveCircuit inserts or fully replaces a circuit.
func (r *SQLiteRepository) SaveCircuit(ctx context.Context, circuit *Circuit) error {
	if err := ValidateCircuit(circuit); err != nil {
		return err
	}

	sensors := circuit.Sensors
	if sensors == nil {
		sensors = []string{}
	}
	sensorsJSON, err := json.Marshal(sensors)
	if err != nil {
		return fmt.Errorf("marshalling sensors: %w", err)
	}
	timetable, err := timetableColumn(circuit.Timetable)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if circuit.CreatedAt.IsZero() {
		circuit.CreatedAt = now
	}
	circuit.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO irrigation_circuits (`+circuitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			controller_id = excluded.controller_id,
			name = excluded.name,
			is_active = excluded.is_active,
			is_disabled = excluded.is_disabled,
			is_reservoir = excluded.is_reservoir,
			sensors = excluded.sensors,
			timetable = excluded.timetable,
			updated_at = excluded.updated_at`,
		circuit.ID,
		circuit.ControllerID,
		circuit.Name,
		boolToInt(circuit.IsActive),
		boolToInt(circuit.IsDisabled),
		boolToInt(circuit.IsReservoir),
		string(sensorsJSON),
		timetable,
		formatTime(circuit.CreatedAt),
		formatTime(circuit.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving circuit: %w", err)
	}
	return nil
}

// MergeDiscoveredCircuit records what a controller reported for a circuit.
// A new circuit is inserted bound to controllerID. An existing one gets only
// is_active replaced and the serials appended to its sensor set; its name,
// binding, flags and timetable are left as stored.
//
// Returns the stored circuit and whether it was created.
func (r *SQLiteRepository) MergeDiscoveredCircuit(ctx context.Context, id, controllerID string, active bool, serials []string) (*Circuit, bool, error) {
	if id == "" || controllerID == "" {
		return nil, false, fmt.Errorf("%w: id and controller are required", ErrInvalidCircuit)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	circuit, err := r.getCircuit(ctx, tx, id)
	created := errors.Is(err, ErrCircuitNotFound)
	if err != nil && !created {
		return nil, false, err
	}
	if created {
		circuit = &Circuit{ID: id, ControllerID: controllerID, Sensors: []string{}}
	}
	for _, serial := range serials {
		circuit.AddSensor(serial)
	}
	sensorsJSON, err := json.Marshal(circuit.Sensors)
	if err != nil {
		return nil, false, fmt.Errorf("marshalling sensors: %w", err)
	}
	now := formatTime(time.Now())

	if created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO irrigation_circuits (id, controller_id, is_active, sensors, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, controllerID, boolToInt(active), string(sensorsJSON), now, now,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE irrigation_circuits SET is_active = ?, sensors = ?, updated_at = ? WHERE id = ?`,
			boolToInt(active), string(sensorsJSON), now, id,
		)
	}
	if err != nil {
		return nil, false, fmt.Errorf("merging circuit: %w", err)
	}

	stored, err := r.getCircuit(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing circuit merge: %w", err)
	}
	return stored, created, nil
}

// SetCircuitActive updates only the actuation state and returns the stored circuit.
func (r *SQLiteRepository) SetCircuitActive(ctx context.Context, id string, active bool) (*Circuit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE irrigation_circuits SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), formatTime(time.Now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating circuit state: %w", err)
	}
	if err := checkAffected(result, ErrCircuitNotFound); err != nil {
		return nil, err
	}

	circuit, err := r.getCircuit(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing circuit state: %w", err)
	}
	return circuit, nil
}

// SetCircuitTimetable replaces the circuit's timetable; nil clears it.
func (r *SQLiteRepository) SetCircuitTimetable(ctx context.Context, id string, timetable Timetable) error {
	if err := ValidateTimetable(timetable); err != nil {
		return err
	}
	value, err := timetableColumn(timetable)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE irrigation_circuits SET timetable = ?, updated_at = ? WHERE id = ?`,
		value, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating circuit timetable: %w", err)
	}
	return checkAffected(result, ErrCircuitNotFound)
}

func timetableColumn(t Timetable) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling timetable: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func (r *SQLiteRepository) queryCircuits(ctx context.Context, query string, args ...any) ([]Circuit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying circuits: %w", err)
	}
	defer rows.Close()

	var circuits []Circuit
	for rows.Next() {
		circuit, err := scanCircuit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning circuit: %w", err)
		}
		circuits = append(circuits, *circuit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating circuits: %w", err)
	}
	return circuits, nil
}

func scanCircuit(row rowScanner) (*Circuit, error) {
	var (
		c                                 Circuit
		active, disabled, reservoir       int
		sensorsJSON, createdAt, updatedAt string
		timetableJSON                     sql.NullString
	)

	if err := row.Scan(
		&c.ID, &c.ControllerID, &c.Name, &active, &disabled, &reservoir,
		&sensorsJSON, &timetableJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.IsActive = active != 0
	c.IsDisabled = disabled != 0
	c.IsReservoir = reservoir != 0

	if err := json.Unmarshal([]byte(sensorsJSON), &c.Sensors); err != nil {
		return nil, fmt.Errorf("unmarshalling sensors: %w", err)
	}
	if timetableJSON.Valid && timetableJSON.String != "" {
		if err := json.Unmarshal([]byte(timetableJSON.String), &c.Timetable); err != nil {
			return nil, fmt.Errorf("unmarshalling timetable: %w", err)
		}
	}

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
