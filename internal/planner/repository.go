package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists jobs.
type Repository interface {
	// Save inserts a job. The ID must be unique.
	Save(ctx context.Context, job *Job) error

	// Get retrieves a job by ID.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// List retrieves every job ordered by creation.
	List(ctx context.Context) ([]Job, error)

	// Delete removes a job.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error

	// RecordRun stores the outcome of a run. runErr nil clears last_error.
	RecordRun(ctx context.Context, id string, at time.Time, runErr error) error
}

// SQLiteRepository implements Repository over the planner_jobs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed job repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, name, data, cron, timezone, created_at, last_run_at, last_error`

// Save inserts a job.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	data := job.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling job data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO planner_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)`,
		job.ID, job.Name, string(dataJSON), job.Cron, job.Timezone,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM planner_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// List retrieves every job ordered by creation.
func (r *SQLiteRepository) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM planner_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM planner_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordRun stores the outcome of a run.
func (r *SQLiteRepository) RecordRun(ctx context.Context, id string, at time.Time, runErr error) error {
	var lastError sql.NullString
	if runErr != nil {
		lastError = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE planner_jobs SET last_run_at = ?, last_error = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("recording job run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                  Job
		dataJSON, createdAt  string
		lastRunAt, lastError sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Name, &dataJSON, &job.Cron, &job.Timezone,
		&createdAt, &lastRunAt, &lastError); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &job.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling job data: %w", err)
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastRunAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_run_at: %w", err)
		}
		job.LastRunAt = &t
	}
	if lastError.Valid {
		s := lastError.String
		job.LastError = &s
	}
	return &job, nil
}
