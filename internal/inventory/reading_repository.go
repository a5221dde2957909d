package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AppendReading adds an entry to the Reading of the entry's UTC day.
// The day row and the entry are written in one transaction, so a day never
// exists half-created and earlier entries are never touched.
func (r *SQLiteRepository) AppendReading(ctx context.Context, entry ReadingEntry) error {
	if entry.Sensor == "" {
		return fmt.Errorf("appending reading: sensor serial is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	day := DayKey(entry.Timestamp)

	values := entry.Values
	if values == nil {
		values = map[string]float64{}
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshalling reading values: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_readings (day, created_at) VALUES (?, ?)`,
		day, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("creating daily reading: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reading_entries (day, sensor_serial, recorded_at, observed)
		VALUES (?, ?, ?, ?)`,
		day, entry.Sensor, formatTime(entry.Timestamp), string(valuesJSON),
	); err != nil {
		return fmt.Errorf("appending reading entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reading: %w", err)
	}
	return nil
}

// GetReading retrieves the Reading for a day key with entries in append order.
func (r *SQLiteRepository) GetReading(ctx context.Context, day string) (*Reading, error) {
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM daily_readings WHERE day = ?`, day,
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("querying daily reading: %w", err)
	}

	reading := &Reading{Day: day, Entries: []ReadingEntry{}}
	if reading.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, sensor_serial, recorded_at, observed
		FROM reading_entries
		WHERE day = ?
		ORDER BY seq`, day)
	if err != nil {
		return nil, fmt.Errorf("querying reading entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                      ReadingEntry
			recordedAt, valuesJSON string
		)
		if err := rows.Scan(&e.Seq, &e.Sensor, &recordedAt, &valuesJSON); err != nil {
			return nil, fmt.Errorf("scanning reading entry: %w", err)
		}
		if e.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &e.Values); err != nil {
			return nil, fmt.Errorf("unmarshalling reading values: %w", err)
		}
		reading.Entries = append(reading.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading entries: %w", err)
	}

	return reading, nil
}
