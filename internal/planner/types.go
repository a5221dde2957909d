package planner

import (
	"context"
	"maps"
	"time"
)

// Job is a recurring invocation of a named handler.
type Job struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Data     map[string]string `json:"data"`
	Cron     string            `json:"cron"`
	Timezone string            `json:"timezone"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
}

// Spec returns the cron spec with the job's time zone applied.
func (j *Job) Spec() string {
	if j.Timezone == "" {
		return j.Cron
	}
	return "CRON_TZ=" + j.Timezone + " " + j.Cron
}

// DeepCopy creates an independent copy of the Job.
func (j *Job) DeepCopy() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Data = maps.Clone(j.Data)
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	if j.LastError != nil {
		s := *j.LastError
		cp.LastError = &s
	}
	return &cp
}

// HandlerFunc executes one run of a job. The context carries the
// planner's job timeout.
type HandlerFunc func(ctx context.Context, job Job) error

// Logger is the logging interface used by the planner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
