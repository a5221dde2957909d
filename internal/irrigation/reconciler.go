package irrigation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-irrigation/internal/controller"
	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
)

// DefaultConcurrency bounds each reconcile fan-out when none is configured.
const DefaultConcurrency = 4

// TopologyFetcher reads a controller's live topology.
type TopologyFetcher interface {
	FetchTopology(ctx context.Context, address string) (controller.Topology, error)
}

// ReadingSink receives a copy of every sensor snapshot appended to the
// daily Reading. Writes are fire-and-forget.
type ReadingSink interface {
	WriteSensorReading(controllerID, circuitID, serial string, values map[string]float64, ts time.Time)
}

// PassStats summarises one reconcile pass.
type PassStats struct {
	Controllers      int
	ControllerErrors int
	CircuitsCreated  int
	CircuitErrors    int
	SensorsCreated   int
	SensorErrors     int
	EntriesAppended  int
	Duration         time.Duration
}

// passCounters are updated concurrently during a pass.
type passCounters struct {
	controllerErrors atomic.Int64
	circuitsCreated  atomic.Int64
	circuitErrors    atomic.Int64
	sensorsCreated   atomic.Int64
	sensorErrors     atomic.Int64
	entriesAppended  atomic.Int64
}

// Reconciler converges the inventory towards what controllers report.
//
// Each controller, circuit and sensor is an independent unit of work: a
// failure is logged and only that unit is abandoned. Passes never delete
// anything and are safe to repeat.
//
// Thread Safety: passes are serialised; Reconcile may be called from any
// goroutine.
type Reconciler struct {
	repo        inventory.Repository
	fetcher     TopologyFetcher
	sink        ReadingSink
	concurrency int
	now         func() time.Time
	logger      Logger

	passMu  sync.Mutex
	trigger chan struct{}
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithConcurrency bounds each fan-out (controllers, circuits, sensors).
func WithConcurrency(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithReadingSink mirrors every appended snapshot to sink.
func WithReadingSink(sink ReadingSink) ReconcilerOption {
	return func(r *Reconciler) { r.sink = sink }
}

// WithClock replaces the wall clock used to timestamp reading entries.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo inventory.Repository, fetcher TopologyFetcher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		repo:        repo,
		fetcher:     fetcher,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      noopLogger{},
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass over every irrigation controller.
//
// Only a failure to list controllers is returned; everything below that
// is logged and skipped.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	_, err := r.ReconcileWithStats(ctx)
	return err
}

// ReconcileWithStats is Reconcile returning the pass summary.
func (r *Reconciler) ReconcileWithStats(ctx context.Context) (PassStats, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	started := time.Now()
	controllers, err := r.repo.ListIrrigationControllers(ctx)
	if err != nil {
		return PassStats{}, &StorageError{Op: "list controllers", Err: err}
	}

	var counters passCounters
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i := range controllers {
		device := &controllers[i]
		g.Go(func() error {
			if !r.reconcileController(ctx, device, &counters) {
				counters.controllerErrors.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait() // units never return errors

	stats := PassStats{
		Controllers:      len(controllers),
		ControllerErrors: int(counters.controllerErrors.Load()),
		CircuitsCreated:  int(counters.circuitsCreated.Load()),
		CircuitErrors:    int(counters.circuitErrors.Load()),
		SensorsCreated:   int(counters.sensorsCreated.Load()),
		SensorErrors:     int(counters.sensorErrors.Load()),
		EntriesAppended:  int(counters.entriesAppended.Load()),
		Duration:         time.Since(started),
	}

	r.logger.Info("reconcile pass complete",
		"controllers", stats.Controllers,
		"controller_errors", stats.ControllerErrors,
		"circuits_created", stats.CircuitsCreated,
		"circuit_errors", stats.CircuitErrors,
		"sensors_created", stats.SensorsCreated,
		"sensor_errors", stats.SensorErrors,
		"entries", stats.EntriesAppended,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}

// Trigger requests a pass from Run without waiting for it. It reports
// false when a request is already pending.
func (r *Reconciler) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run performs a pass every interval and on every Trigger until ctx is
// done. A zero interval disables the timer; triggers still work.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-r.trigger:
		}
		if err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconcile pass failed", "error", err)
		}
	}
}

// reconcileController fetches one controller's topology and reconciles
// its circuits. It reports false when the controller was skipped.
func (r *Reconciler) reconcileController(ctx context.Context, device *inventory.Device, counters *passCounters) bool {
	topology, err := r.fetcher.FetchTopology(ctx, device.Address)
	if err != nil {
		r.logger.Warn("skipping controller",
			"controller", device.ID,
			"address", device.Address,
			"error", err,
		)
		return false
	}

	keyed := make([]controller.CircuitReport, 0, len(topology.Circuits))
	for i, report := range topology.Circuits {
		if report.ID == "" {
			r.logger.Warn("skipping circuit without _id",
				"controller", device.ID,
				"index", i,
			)
			counters.circuitErrors.Add(1)
			continue
		}
		keyed = append(keyed, report)
	}

	reports := uniqueCircuits(keyed)
	if len(reports) != len(keyed) {
		r.logger.Warn("controller reported duplicate circuits",
			"controller", device.ID,
			"reported", len(keyed),
			"unique", len(reports),
		)
	}

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, report := range reports {
		g.Go(func() error {
			if !r.reconcileCircuit(ctx, device, report, counters) {
				counters.circuitErrors.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return true
}

// reconcileCircuit records one reported circuit. Its sensors are attempted
// first, then the circuit's state and the persisted serials are merged into
// the stored record. The controller's circuit list is extended only after
// the merge succeeded.
func (r *Reconciler) reconcileCircuit(ctx context.Context, device *inventory.Device, report controller.CircuitReport, counters *passCounters) bool {
	sensors := make([]controller.SensorReport, 0, len(report.Sensors))
	for i, sensor := range report.Sensors {
		if sensor.Serial == "" {
			r.logger.Warn("skipping sensor without serial",
				"controller", device.ID,
				"circuit", report.ID,
				"index", i,
			)
			counters.sensorErrors.Add(1)
			continue
		}
		sensors = append(sensors, sensor)
	}
	sensors = uniqueSensors(sensors)
	persisted := make([]bool, len(sensors))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, sensor := range sensors {
		g.Go(func() error {
			persisted[i] = r.reconcileSensor(ctx, device, report.ID, sensor, counters)
			return nil
		})
	}
	_ = g.Wait()

	// Report order keeps the sensor set deterministic.
	serials := make([]string, 0, len(sensors))
	for i, sensor := range sensors {
		if persisted[i] {
			serials = append(serials, sensor.Serial)
		}
	}

	circuit, created, err := r.repo.MergeDiscoveredCircuit(ctx, report.ID, device.ID, report.Status, serials)
	if err != nil {
		r.logger.Warn("abandoning circuit",
			"controller", device.ID,
			"circuit", report.ID,
			"error", err,
		)
		return false
	}
	if created {
		counters.circuitsCreated.Add(1)
	}

	if circuit.ControllerID != device.ID {
		r.logger.Warn("circuit reported by a controller it is not bound to",
			"controller", device.ID,
			"circuit", circuit.ID,
			"bound_to", circuit.ControllerID,
		)
		return true
	}

	if !slices.Contains(device.CircuitIDs(), circuit.ID) {
		if err := r.repo.AddControllerCircuit(ctx, device.ID, circuit.ID); err != nil {
			r.logger.Warn("circuit saved but not added to controller",
				"controller", device.ID,
				"circuit", circuit.ID,
				"error", err,
			)
			return false
		}
	}
	return true
}

// reconcileSensor upserts one sensor and appends its snapshot to today's
// Reading. It reports whether the sensor is persisted, which is what
// decides membership in the circuit's sensor set.
func (r *Reconciler) reconcileSensor(ctx context.Context, device *inventory.Device, circuitID string, report controller.SensorReport, counters *passCounters) bool {
	sensor, err := r.repo.GetSensor(ctx, report.Serial)
	created := false
	switch {
	case errors.Is(err, inventory.ErrSensorNotFound):
		sensor = &inventory.Sensor{
			Serial:   report.Serial,
			DeviceID: device.ID,
		}
		created = true
	case err != nil:
		r.logger.Warn("abandoning sensor",
			"controller", device.ID,
			"circuit", circuitID,
			"serial", report.Serial,
			"error", err,
		)
		counters.sensorErrors.Add(1)
		return false
	}
	sensor.Kinds = mergeKinds(sensor.Kinds, report.Values)

	if err := r.repo.SaveSensor(ctx, sensor); err != nil {
		r.logger.Warn("abandoning sensor",
			"controller", device.ID,
			"circuit", circuitID,
			"serial", report.Serial,
			"error", err,
		)
		counters.sensorErrors.Add(1)
		return false
	}
	if created {
		counters.sensorsCreated.Add(1)
	}

	ts := r.now()
	entry := inventory.ReadingEntry{
		Sensor:    report.Serial,
		Timestamp: ts,
		Values:    report.Values,
	}
	if err := r.repo.AppendReading(ctx, entry); err != nil {
		r.logger.Warn("reading not recorded",
			"controller", device.ID,
			"circuit", circuitID,
			"serial", report.Serial,
			"error", err,
		)
		counters.sensorErrors.Add(1)
		return true
	}
	counters.entriesAppended.Add(1)

	if r.sink != nil {
		r.sink.WriteSensorReading(device.ID, circuitID, report.Serial, report.Values, ts)
	}
	return true
}

// mergeKinds returns the sorted union of known kinds and the reported value keys.
func mergeKinds(known []string, values map[string]float64) []string {
	kinds := slices.Clone(known)
	for kind := range values {
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	if kinds == nil {
		kinds = []string{}
	}
	return kinds
}

func uniqueCircuits(reports []controller.CircuitReport) []controller.CircuitReport {
	seen := make(map[string]struct{}, len(reports))
	out := make([]controller.CircuitReport, 0, len(reports))
	for _, c := range reports {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func uniqueSensors(reports []controller.SensorReport) []controller.SensorReport {
	seen := make(map[string]struct{}, len(reports))
	out := make([]controller.SensorReport, 0, len(reports))
	for _, s := range reports {
		if _, dup := seen[s.Serial]; dup {
			continue
		}
		seen[s.Serial] = struct{}{}
		out = append(out, s)
	}
	return out
}
