package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sensorColumns = `serial, device_id, kinds, created_at, updated_at`

// GetSensor retrieves a sensor by serial.
func (r *SQLiteRepository) GetSensor(ctx context.Context, serial string) (*Sensor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE serial = ?`, serial)

	sensor, err := scanSensor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("querying sensor by serial: %w", err)
	}
	return sensor, nil
}

// GetSensors retrieves the sensors with the given serials, preserving order.
func (r *SQLiteRepository) GetSensors(ctx context.Context, serials []string) ([]Sensor, error) {
	if len(serials) == 0 {
		return []Sensor{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(serials)), ",")
	args := make([]any, len(serials))
	for i, s := range serials {
		args[i] = s
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE serial IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close()

	bySerial := make(map[string]Sensor, len(serials))
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		bySerial[sensor.Serial] = *sensor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}

	sensors := make([]Sensor, 0, len(bySerial))
	for _, serial := range serials {
		if s, ok := bySerial[serial]; ok {
			sensors = append(sensors, s)
		}
	}
	return sensors, nil
}

// SaveSensor inserts or replaces a sensor. Saving an unchanged sensor only
// refreshes updated_at.
func (r *SQLiteRepository) SaveSensor(ctx context.Context, sensor *Sensor) error {
	if sensor == nil || sensor.Serial == "" || sensor.DeviceID == "" {
		return fmt.Errorf("saving sensor: serial and device are required")
	}

	kinds := sensor.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	kindsJSON, err := json.Marshal(kinds)
	if err != nil {
		return fmt.Errorf("marshalling sensor kinds: %w", err)
	}

	now := time.Now().UTC()
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = now
	}
	sensor.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sensors (`+sensorColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			device_id = excluded.device_id,
			kinds = excluded.kinds,
			updated_at = excluded.updated_at`,
		sensor.Serial,
		sensor.DeviceID,
		string(kindsJSON),
		formatTime(sensor.CreatedAt),
		formatTime(sensor.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving sensor: %w", err)
	}
	return nil
}

func scanSensor(row rowScanner) (*Sensor, error) {
	var (
		s                               Sensor
		kindsJSON, createdAt, updatedAt string
	)

	if err := row.Scan(&s.Serial, &s.DeviceID, &kindsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(kindsJSON), &s.Kinds); err != nil {
		return nil, fmt.Errorf("unmarshalling sensor kinds: %w", err)
	}

	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}
