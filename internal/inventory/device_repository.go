package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

const deviceColumns = `id, name, mac, address, hostname, description, location,
	capabilities, created_at, updated_at`

// CreateDevice registers a device.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	capsJSON, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.Name,
		nullableString(device.MAC),
		device.Address,
		nullableString(device.Hostname),
		nullableString(device.Description),
		nullableString(device.Location),
		string(capsJSON),
		formatTime(device.CreatedAt),
		formatTime(device.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// ListDevices retrieves every registered device ordered by name.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name, id`)
}

// ListIrrigationControllers retrieves devices with an irrigation capability.
func (r *SQLiteRepository) ListIrrigationControllers(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE json_type(capabilities, '$.irrigation') = 'object'
		ORDER BY name, id`)
}

// AddControllerCircuit appends circuitID to the controller's circuit list.
func (r *SQLiteRepository) AddControllerCircuit(ctx context.Context, deviceID, circuitID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var capsJSON string
	err = tx.QueryRowContext(ctx, `SELECT capabilities FROM devices WHERE id = ?`, deviceID).Scan(&capsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("querying device capabilities: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
		return fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if caps.Irrigation == nil {
		return ErrNotController
	}
	if slices.Contains(caps.Irrigation.Circuits, circuitID) {
		return nil
	}
	caps.Irrigation.Circuits = append(caps.Irrigation.Circuits, circuitID)

	updated, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE devices SET capabilities = ?, updated_at = ? WHERE id = ?`,
		string(updated), formatTime(time.Now()), deviceID,
	); err != nil {
		return fmt.Errorf("updating device capabilities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing capabilities: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                                    Device
		mac, hostname, description, location sql.NullString
		capsJSON, createdAt, updatedAt       string
	)

	if err := row.Scan(
		&d.ID, &d.Name, &mac, &d.Address, &hostname, &description, &location,
		&capsJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.MAC = stringPtr(mac)
	d.Hostname = stringPtr(hostname)
	d.Description = stringPtr(description)
	d.Location = stringPtr(location)

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}
