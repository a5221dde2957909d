package irrigation

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
)

// Options tunes a Facade read.
type Options struct {
	// Populate resolves relational fields: a controller's circuits with
	// their sensors, or a circuit's controller address and sensor documents.
	Populate bool
}

// ControllerRef is the part of a controller a populated circuit carries.
type ControllerRef struct {
	ID      string `json:"_id"`
	Address string `json:"address"`
}

// ControllerView is a controller as returned by the Facade.
type ControllerView struct {
	inventory.Device

	// CircuitDocs holds the controller's circuits, in circuit-list order,
	// when populated.
	CircuitDocs []CircuitView `json:"circuitDocs,omitempty"`
}

// CircuitView is a circuit as returned by the Facade.
type CircuitView struct {
	inventory.Circuit

	// ControllerRef is set when populated and the owning controller exists.
	ControllerRef *ControllerRef `json:"controllerRef,omitempty"`

	// SensorDocs holds the sensor documents, in sensor-set order, when populated.
	SensorDocs []inventory.Sensor `json:"sensorDocs,omitempty"`
}

// Facade is the read API over the inventory. It has no side effects.
type Facade struct {
	repo inventory.Repository
}

// NewFacade creates a Facade over repo.
func NewFacade(repo inventory.Repository) *Facade {
	return &Facade{repo: repo}
}

// GetController returns one irrigation controller.
//
// Returns:
//   - *NotFoundError if no irrigation controller has this id
//   - *StorageError on store failures
func (f *Facade) GetController(ctx context.Context, id string, opts Options) (*ControllerView, error) {
	device, err := f.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, storageError("get controller", EntityController, id, err)
	}
	if !device.IsIrrigationController() {
		return nil, &NotFoundError{Entity: EntityController, ID: id}
	}

	view := &ControllerView{Device: *device}
	if opts.Populate {
		if view.CircuitDocs, err = f.controllerCircuits(ctx, device); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// ListControllers returns every irrigation controller.
// An empty inventory yields *NoRecordsError.
func (f *Facade) ListControllers(ctx context.Context, opts Options) ([]ControllerView, error) {
	devices, err := f.repo.ListIrrigationControllers(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list controllers", Err: err}
	}
	if len(devices) == 0 {
		return nil, &NoRecordsError{Entity: EntityController}
	}

	views := make([]ControllerView, 0, len(devices))
	for i := range devices {
		view := ControllerView{Device: devices[i]}
		if opts.Populate {
			if view.CircuitDocs, err = f.controllerCircuits(ctx, &devices[i]); err != nil {
				return nil, err
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// GetCircuit returns one circuit.
//
// Returns:
//   - *NotFoundError if the circuit does not exist
//   - *StorageError on store failures
func (f *Facade) GetCircuit(ctx context.Context, id string, opts Options) (*CircuitView, error) {
	circuit, err := f.repo.GetCircuit(ctx, id)
	if err != nil {
		return nil, storageError("get circuit", EntityCircuit, id, err)
	}

	view := &CircuitView{Circuit: *circuit}
	if opts.Populate {
		if err := f.populateCircuit(ctx, view, nil); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// ListCircuits returns every circuit. An empty inventory yields *NoRecordsError.
func (f *Facade) ListCircuits(ctx context.Context, opts Options) ([]CircuitView, error) {
	circuits, err := f.repo.ListCircuits(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list circuits", Err: err}
	}
	if len(circuits) == 0 {
		return nil, &NoRecordsError{Entity: EntityCircuit}
	}

	// Controllers are shared by many circuits; resolve each once.
	refs := make(map[string]*ControllerRef)

	views := make([]CircuitView, 0, len(circuits))
	for i := range circuits {
		view := CircuitView{Circuit: circuits[i]}
		if opts.Populate {
			if err := f.populateCircuit(ctx, &view, refs); err != nil {
				return nil, err
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// GetReading returns the Reading recorded on day ("2006-01-02").
func (f *Facade) GetReading(ctx context.Context, day string) (*inventory.Reading, error) {
	reading, err := f.repo.GetReading(ctx, day)
	if err != nil {
		return nil, storageError("get reading", EntityReading, day, err)
	}
	return reading, nil
}

// controllerCircuits resolves a controller's circuit list. Ids whose
// circuit no longer exists are skipped.
func (f *Facade) controllerCircuits(ctx context.Context, device *inventory.Device) ([]CircuitView, error) {
	ids := device.CircuitIDs()
	views := make([]CircuitView, 0, len(ids))
	ref := &ControllerRef{ID: device.ID, Address: device.Address}

	for _, id := range ids {
		circuit, err := f.repo.GetCircuit(ctx, id)
		if errors.Is(err, inventory.ErrCircuitNotFound) {
			continue
		}
		if err != nil {
			return nil, &StorageError{Op: "populate controller circuits", Err: err}
		}

		view := CircuitView{Circuit: *circuit, ControllerRef: ref}
		if view.SensorDocs, err = f.sensorDocs(ctx, circuit); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// populateCircuit fills the controller reference and sensor documents.
// refs caches controller lookups across calls and may be nil.
func (f *Facade) populateCircuit(ctx context.Context, view *CircuitView, refs map[string]*ControllerRef) error {
	ref, cached := refs[view.ControllerID]
	if !cached {
		device, err := f.repo.GetDevice(ctx, view.ControllerID)
		switch {
		case errors.Is(err, inventory.ErrDeviceNotFound):
			ref = nil
		case err != nil:
			return &StorageError{Op: "populate circuit controller", Err: err}
		default:
			ref = &ControllerRef{ID: device.ID, Address: device.Address}
		}
		if refs != nil {
			refs[view.ControllerID] = ref
		}
	}
	view.ControllerRef = ref

	sensors, err := f.sensorDocs(ctx, &view.Circuit)
	if err != nil {
		return err
	}
	view.SensorDocs = sensors
	return nil
}

func (f *Facade) sensorDocs(ctx context.Context, circuit *inventory.Circuit) ([]inventory.Sensor, error) {
	sensors, err := f.repo.GetSensors(ctx, circuit.Sensors)
	if err != nil {
		return nil, &StorageError{Op: "populate circuit sensors", Err: err}
	}
	return sensors, nil
}
