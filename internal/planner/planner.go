package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run when none is configured.
const DefaultJobTimeout = 2 * time.Minute

// Planner schedules persisted jobs on a cron runner.
//
// Thread Safety: all methods are safe for concurrent use.
type Planner struct {
	repo   Repository
	cron   *cron.Cron
	logger Logger
	now    func() time.Time

	jobTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	entries  map[string]cron.EntryID
	running  bool
	stopped  bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithJobTimeout bounds each job run.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for created_at and last_run_at.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Planner over repo. Call Start to begin running jobs.
func New(repo Repository, opts ...Option) *Planner {
	p := &Planner{
		repo:       repo,
		cron:       cron.New(),
		logger:     noopLogger{},
		now:        time.Now,
		jobTimeout: DefaultJobTimeout,
		handlers:   make(map[string]HandlerFunc),
		entries:    make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Define registers the handler for jobs named name, replacing any
// previous handler.
func (p *Planner) Define(name string, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = handler
}

// Schedule validates, persists and registers a recurring job. The ID and
// CreatedAt fields are assigned here.
//
// Returns:
//   - *Job: the stored job
//   - error: ErrUnknownHandler, ErrInvalidSchedule, ErrStopped or a
//     storage error
func (p *Planner) Schedule(ctx context.Context, job Job) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrStopped
	}
	if _, ok := p.handlers[job.Name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, job.Name)
	}

	schedule, err := cron.ParseStandard(job.Spec())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, job.Spec(), err)
	}

	stored := job.DeepCopy()
	stored.ID = uuid.NewString()
	stored.CreatedAt = p.now().UTC()
	stored.LastRunAt = nil
	stored.LastError = nil

	if err := p.repo.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("saving job: %w", err)
	}
	p.register(stored, schedule)

	p.logger.Debug("job scheduled",
		"job_id", stored.ID,
		"name", stored.Name,
		"cron", stored.Cron,
		"timezone", stored.Timezone,
	)
	return stored.DeepCopy(), nil
}

// Jobs lists every persisted job.
func (p *Planner) Jobs(ctx context.Context) ([]Job, error) {
	return p.repo.List(ctx)
}

// Cancel unregisters and deletes a job.
// Returns ErrJobNotFound if the job does not exist.
func (p *Planner) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.repo.Delete(ctx, id); err != nil {
		return err
	}
	if entry, ok := p.entries[id]; ok {
		p.cron.Remove(entry)
		delete(p.entries, id)
	}
	return nil
}

// RunNow executes a job once, immediately, outside its schedule.
func (p *Planner) RunNow(ctx context.Context, id string) error {
	job, err := p.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return p.run(ctx, *job)
}

// Start reloads persisted jobs and starts the cron runner. Jobs whose
// handler is undefined or whose schedule no longer parses are logged and
// left unregistered.
func (p *Planner) Start(ctx context.Context) error {
	jobs, err := p.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}

	loaded := 0
	for i := range jobs {
		job := &jobs[i]
		if _, ok := p.entries[job.ID]; ok {
			continue
		}
		if _, ok := p.handlers[job.Name]; !ok {
			p.logger.Warn("skipping job without handler", "job_id", job.ID, "name", job.Name)
			continue
		}
		schedule, err := cron.ParseStandard(job.Spec())
		if err != nil {
			p.logger.Warn("skipping job with invalid schedule",
				"job_id", job.ID,
				"cron", job.Spec(),
				"error", err,
			)
			continue
		}
		p.register(job, schedule)
		loaded++
	}

	if !p.running {
		p.cron.Start()
		p.running = true
	}

	p.logger.Info("planner started", "jobs", len(p.entries), "reloaded", loaded)
	return nil
}

// Stop halts the runner and waits for running jobs to finish. The
// planner cannot be restarted.
func (p *Planner) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.running = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	p.logger.Info("planner stopped")
}

// EntryCount returns the number of jobs registered with the runner.
func (p *Planner) EntryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// register adds the job to the runner. Caller holds p.mu.
func (p *Planner) register(job *Job, schedule cron.Schedule) {
	snapshot := *job.DeepCopy()
	p.entries[job.ID] = p.cron.Schedule(schedule, cron.FuncJob(func() {
		if err := p.run(context.Background(), snapshot); err != nil {
			p.logger.Warn("job failed",
				"job_id", snapshot.ID,
				"name", snapshot.Name,
				"error", err,
			)
		}
	}))
}

// run executes the job's handler and records the outcome.
func (p *Planner) run(ctx context.Context, job Job) error {
	p.mu.Lock()
	handler, ok := p.handlers[job.Name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, job.Name)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	started := p.now()
	runErr := handler(runCtx, job)

	// Outcome is recorded even if the run's context expired.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()
	if err := p.repo.RecordRun(recordCtx, job.ID, started, runErr); err != nil &&
		!errors.Is(err, ErrJobNotFound) {
		p.logger.Warn("failed to record job run", "job_id", job.ID, "error", err)
	}

	p.logger.Debug("job ran",
		"job_id", job.ID,
		"name", job.Name,
		"duration", p.now().Sub(started),
		"error", runErr,
	)
	return runErr
}
