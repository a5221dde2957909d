package irrigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/controller"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
)

// defaultAutoStopTimeout bounds the Stop issued when a watering duration expires.
const defaultAutoStopTimeout = 30 * time.Second

// StartOptions tunes a Start transition.
type StartOptions struct {
	// Duration, when positive, stops the circuit automatically after it
	// has been running this long.
	Duration time.Duration
}

// CircuitReader loads circuits with their controller populated.
type CircuitReader interface {
	GetCircuit(ctx context.Context, id string, opts Options) (*CircuitView, error)
}

// StateStore persists actuation state.
type StateStore interface {
	SetCircuitActive(ctx context.Context, id string, active bool) (*inventory.Circuit, error)
	ListActiveCircuits(ctx context.Context) ([]inventory.Circuit, error)
}

// stopTask is a pending automatic stop for one circuit.
type stopTask struct {
	timer *time.Timer
}

// StateMachine enforces legal start/stop transitions per circuit.
//
// A transition runs guard check, remote command and persistence under a
// per-circuit lock, so concurrent callers on the same circuit are
// serialised. The persisted state is only changed after the controller
// accepted the command.
type StateMachine struct {
	circuits  CircuitReader
	store     StateStore
	commander controller.Commander
	notifier  Notifier
	logger    Logger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	tasksMu sync.Mutex
	tasks   map[string]*stopTask
	closed  bool

	autoStopTimeout time.Duration
}

// NewStateMachine creates a StateMachine. notifier may be nil.
func NewStateMachine(circuits CircuitReader, store StateStore, commander controller.Commander, notifier Notifier) *StateMachine {
	if notifier == nil {
		notifier = MultiNotifier(nil)
	}
	return &StateMachine{
		circuits:        circuits,
		store:           store,
		commander:       commander,
		notifier:        notifier,
		logger:          noopLogger{},
		now:             time.Now,
		locks:           make(map[string]*sync.Mutex),
		tasks:           make(map[string]*stopTask),
		autoStopTimeout: defaultAutoStopTimeout,
	}
}

// SetLogger sets the logger.
func (m *StateMachine) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start opens a circuit's valve.
//
// Guards, in order: a disabled circuit is rejected with ErrCircuitDisabled,
// an active one with ErrAlreadyActive. Neither issues a remote command.
//
// Returns:
//   - *inventory.Circuit: the persisted circuit, isActive=true
//   - error: *GuardViolationError, *NotFoundError, a controller error
//     (state untouched) or *StorageError (valve already open)
func (m *StateMachine) Start(ctx context.Context, id string, opts StartOptions) (*inventory.Circuit, error) {
	unlock := m.lock(id)
	defer unlock()

	view, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.IsDisabled {
		return nil, &GuardViolationError{CircuitID: id, Reason: ErrCircuitDisabled}
	}
	if view.IsActive {
		return nil, &GuardViolationError{CircuitID: id, Reason: ErrAlreadyActive}
	}

	m.notify(ctx, EventWillStart, view)

	if err := m.commander.SendCommand(ctx, view.ControllerRef.Address, id, true); err != nil {
		return nil, fmt.Errorf("starting circuit %s: %w", id, err)
	}

	saved, err := m.store.SetCircuitActive(ctx, id, true)
	if err != nil {
		m.logger.Error("circuit started but state not persisted",
			"circuit", id,
			"controller", view.ControllerID,
			"error", err,
		)
		return nil, &StorageError{Op: "save circuit state", Err: err}
	}

	if opts.Duration > 0 {
		m.scheduleAutoStop(id, opts.Duration)
	}

	m.notify(ctx, EventDidStart, view)
	m.logger.Info("circuit started", "circuit", id, "controller", view.ControllerID, "duration", opts.Duration)
	return saved, nil
}

// Stop closes a circuit's valve. Stopping is allowed for disabled circuits.
// A pending automatic stop for the circuit is cancelled.
//
// Returns:
//   - *inventory.Circuit: the persisted circuit, isActive=false
//   - error: *GuardViolationError (ErrAlreadyStopped), *NotFoundError,
//     a controller error (state untouched) or *StorageError
func (m *StateMachine) Stop(ctx context.Context, id string) (*inventory.Circuit, error) {
	unlock := m.lock(id)
	defer unlock()

	view, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !view.IsActive {
		m.cancelAutoStop(id)
		return nil, &GuardViolationError{CircuitID: id, Reason: ErrAlreadyStopped}
	}

	m.notify(ctx, EventWillStop, view)

	if err := m.commander.SendCommand(ctx, view.ControllerRef.Address, id, false); err != nil {
		return nil, fmt.Errorf("stopping circuit %s: %w", id, err)
	}

	saved, err := m.store.SetCircuitActive(ctx, id, false)
	if err != nil {
		m.logger.Error("circuit stopped but state not persisted",
			"circuit", id,
			"controller", view.ControllerID,
			"error", err,
		)
		return nil, &StorageError{Op: "save circuit state", Err: err}
	}
	m.cancelAutoStop(id)

	m.notify(ctx, EventDidStop, view)
	m.logger.Info("circuit stopped", "circuit", id, "controller", view.ControllerID)
	return saved, nil
}

// StopAll stops every circuit persisted as active and returns how many
// were stopped. Per-circuit failures are logged; only a failure to list
// active circuits is returned.
func (m *StateMachine) StopAll(ctx context.Context) (int, error) {
	active, err := m.store.ListActiveCircuits(ctx)
	if err != nil {
		return 0, &StorageError{Op: "list active circuits", Err: err}
	}

	stopped := 0
	for _, c := range active {
		if _, err := m.Stop(ctx, c.ID); err != nil {
			m.logger.Warn("failed to stop active circuit",
				"circuit", c.ID,
				"controller", c.ControllerID,
				"error", err,
			)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// HasAutoStop reports whether an automatic stop is pending for the circuit.
func (m *StateMachine) HasAutoStop(id string) bool {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	_, ok := m.tasks[id]
	return ok
}

// Close cancels every pending automatic stop. Circuits stay in their
// current physical state.
func (m *StateMachine) Close() {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()

	for id, task := range m.tasks {
		task.timer.Stop()
		delete(m.tasks, id)
	}
	m.closed = true
}

// load returns the circuit with its controller, which actuation needs.
func (m *StateMachine) load(ctx context.Context, id string) (*CircuitView, error) {
	view, err := m.circuits.GetCircuit(ctx, id, Options{Populate: true})
	if err != nil {
		return nil, err
	}
	if view.ControllerRef == nil {
		return nil, &NotFoundError{Entity: EntityController, ID: view.ControllerID}
	}
	return view, nil
}

func (m *StateMachine) notify(ctx context.Context, name string, view *CircuitView) {
	m.notifier.Notify(ctx, Event{
		Name:       name,
		Circuit:    view.ID,
		Controller: view.ControllerID,
		Timestamp:  m.now().UTC(),
	})
}

// lock acquires the circuit's mutex and returns its release.
func (m *StateMachine) lock(id string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// scheduleAutoStop replaces any pending automatic stop for the circuit.
func (m *StateMachine) scheduleAutoStop(id string, after time.Duration) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()

	if m.closed {
		return
	}
	if old, ok := m.tasks[id]; ok {
		old.timer.Stop()
	}

	task := &stopTask{}
	task.timer = time.AfterFunc(after, func() { m.expire(id, task) })
	m.tasks[id] = task
}

func (m *StateMachine) cancelAutoStop(id string) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()

	if task, ok := m.tasks[id]; ok {
		task.timer.Stop()
		delete(m.tasks, id)
	}
}

// expire runs when a watering duration elapses. A task that was cancelled
// or replaced in the meantime does nothing.
func (m *StateMachine) expire(id string, task *stopTask) {
	m.tasksMu.Lock()
	current, ok := m.tasks[id]
	if !ok || current != task {
		m.tasksMu.Unlock()
		return
	}
	delete(m.tasks, id)
	m.tasksMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.autoStopTimeout)
	defer cancel()

	if _, err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		m.logger.Warn("automatic stop failed", "circuit", id, "error", err)
	}
}
