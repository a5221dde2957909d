package irrigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
	"github.com/nerrad567/gray-logic-irrigation/internal/planner"
)

// Job names registered with the planner.
const (
	JobStartCircuit = "irrigation:start"
	JobStopCircuit  = "irrigation:stop"
)

// DefaultScheduleTimezone is the zone recurring jobs are evaluated in
// when none is configured.
const DefaultScheduleTimezone = "Europe/Moscow"

const (
	jobDataCircuit         = "circuit"
	defaultRetryMaxElapsed = time.Minute
	retryInitialInterval   = time.Second
)

// JobPlanner is the recurring job runner the Scheduler drives.
type JobPlanner interface {
	Define(name string, handler planner.HandlerFunc)
	Schedule(ctx context.Context, job planner.Job) (*planner.Job, error)
	Jobs(ctx context.Context) ([]planner.Job, error)
	Cancel(ctx context.Context, id string) error
}

// CircuitSwitch performs start and stop transitions.
type CircuitSwitch interface {
	Start(ctx context.Context, id string, opts StartOptions) (*inventory.Circuit, error)
	Stop(ctx context.Context, id string) (*inventory.Circuit, error)
}

// TimetableStore reads circuits and persists their timetables.
type TimetableStore interface {
	GetCircuit(ctx context.Context, id string) (*inventory.Circuit, error)
	SetCircuitTimetable(ctx context.Context, id string, timetable inventory.Timetable) error
}

// Scheduler turns circuit timetables into recurring planner jobs.
type Scheduler struct {
	planner  JobPlanner
	circuits CircuitSwitch
	store    TimetableStore
	timezone string
	logger   Logger

	retryInitial    time.Duration
	retryMaxElapsed time.Duration
}

// NewScheduler creates a Scheduler. An empty timezone selects
// DefaultScheduleTimezone.
func NewScheduler(p JobPlanner, circuits CircuitSwitch, store TimetableStore, timezone string) *Scheduler {
	if timezone == "" {
		timezone = DefaultScheduleTimezone
	}
	return &Scheduler{
		planner:         p,
		circuits:        circuits,
		store:           store,
		timezone:        timezone,
		logger:          noopLogger{},
		retryInitial:    retryInitialInterval,
		retryMaxElapsed: defaultRetryMaxElapsed,
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRetryMaxElapsed bounds how long a failing job keeps retrying.
// Zero disables retries.
func (s *Scheduler) SetRetryMaxElapsed(d time.Duration) {
	if d >= 0 {
		s.retryMaxElapsed = d
	}
}

// Timezone returns the zone recurring jobs are evaluated in.
func (s *Scheduler) Timezone() string {
	return s.timezone
}

// DefineJobs registers the start and stop handlers with the planner.
//
// A job whose payload has no circuit fails with *MissingFieldError
// without touching the state machine. Transport and storage failures
// are retried with exponential backoff; everything else is terminal.
func (s *Scheduler) DefineJobs() {
	s.planner.Define(JobStartCircuit, s.handler(JobStartCircuit, func(ctx context.Context, id string) error {
		_, err := s.circuits.Start(ctx, id, StartOptions{})
		return err
	}))
	s.planner.Define(JobStopCircuit, s.handler(JobStopCircuit, func(ctx context.Context, id string) error {
		_, err := s.circuits.Stop(ctx, id)
		return err
	}))
}

func (s *Scheduler) handler(name string, transition func(ctx context.Context, id string) error) planner.HandlerFunc {
	return func(ctx context.Context, job planner.Job) error {
		id := job.Data[jobDataCircuit]
		if id == "" {
			s.logger.Warn("job payload has no circuit", "job", name, "job_id", job.ID)
			return &MissingFieldError{Field: jobDataCircuit}
		}

		err := s.retry(ctx, func() error { return transition(ctx, id) })
		if err != nil {
			s.logger.Warn("scheduled transition failed",
				"job", name,
				"job_id", job.ID,
				"circuit", id,
				"error", err,
			)
		}
		return err
	}
}

// retry runs op until it succeeds, fails terminally or the retry budget
// is spent.
func (s *Scheduler) retry(ctx context.Context, op func() error) error {
	if s.retryMaxElapsed == 0 {
		return op()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if !IsRetryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(s.retryMaxElapsed))
	return err
}

// ApplySchedule registers a weekly start job and stop job for every
// interval of the timetable, then persists the timetable on the circuit.
//
// Registration is fail-fast: the first failure is returned and the
// timetable is not persisted. Jobs registered before the failure stay
// registered; ClearSchedule removes them.
//
// Returns:
//   - error: *NotFoundError, inventory.ErrInvalidTimetable, a planner
//     error or *StorageError
func (s *Scheduler) ApplySchedule(ctx context.Context, circuitID string, timetable inventory.Timetable) error {
	if err := inventory.ValidateTimetable(timetable); err != nil {
		return err
	}
	if _, err := s.store.GetCircuit(ctx, circuitID); err != nil {
		return storageError("get circuit", EntityCircuit, circuitID, err)
	}

	registered := 0
	for _, day := range timetable.Days() {
		for _, interval := range timetable[day] {
			if err := s.register(ctx, JobStartCircuit, circuitID, day, interval.Start()); err != nil {
				return err
			}
			if err := s.register(ctx, JobStopCircuit, circuitID, day, interval.End()); err != nil {
				return err
			}
			registered += 2
		}
	}

	if err := s.store.SetCircuitTimetable(ctx, circuitID, timetable); err != nil {
		return storageError("save timetable", EntityCircuit, circuitID, err)
	}

	s.logger.Info("circuit schedule applied",
		"circuit", circuitID,
		"jobs", registered,
		"timezone", s.timezone,
	)
	return nil
}

// ClearSchedule cancels every job of the circuit and clears its timetable.
func (s *Scheduler) ClearSchedule(ctx context.Context, circuitID string) error {
	if _, err := s.store.GetCircuit(ctx, circuitID); err != nil {
		return storageError("get circuit", EntityCircuit, circuitID, err)
	}

	jobs, err := s.planner.Jobs(ctx)
	if err != nil {
		return &StorageError{Op: "list jobs", Err: err}
	}

	cancelled := 0
	for _, job := range jobs {
		if !isCircuitJob(job, circuitID) {
			continue
		}
		if err := s.planner.Cancel(ctx, job.ID); err != nil && !errors.Is(err, planner.ErrJobNotFound) {
			return &StorageError{Op: "cancel job", Err: err}
		}
		cancelled++
	}

	if err := s.store.SetCircuitTimetable(ctx, circuitID, nil); err != nil {
		return storageError("clear timetable", EntityCircuit, circuitID, err)
	}

	s.logger.Info("circuit schedule cleared", "circuit", circuitID, "jobs", cancelled)
	return nil
}

// ReplaceSchedule clears the circuit's schedule, then applies timetable.
func (s *Scheduler) ReplaceSchedule(ctx context.Context, circuitID string, timetable inventory.Timetable) error {
	if err := inventory.ValidateTimetable(timetable); err != nil {
		return err
	}
	if err := s.ClearSchedule(ctx, circuitID); err != nil {
		return err
	}
	return s.ApplySchedule(ctx, circuitID, timetable)
}

func (s *Scheduler) register(ctx context.Context, name, circuitID string, day time.Weekday, clock string) error {
	expr, err := weeklyCron(day, clock)
	if err != nil {
		return err
	}

	_, err = s.planner.Schedule(ctx, planner.Job{
		Name:     name,
		Data:     map[string]string{jobDataCircuit: circuitID},
		Cron:     expr,
		Timezone: s.timezone,
	})
	if err != nil {
		return fmt.Errorf("registering %s job for circuit %s on %s at %s: %w",
			name, circuitID, day, clock, err)
	}
	return nil
}

// weeklyCron builds "<minute> <hour> * * <weekday>".
func weeklyCron(day time.Weekday, clock string) (string, error) {
	hour, minute, err := inventory.ParseClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %d", minute, hour, int(day)), nil
}

func isCircuitJob(job planner.Job, circuitID string) bool {
	if job.Name != JobStartCircuit && job.Name != JobStopCircuit {
		return false
	}
	return job.Data[jobDataCircuit] == circuitID
}
