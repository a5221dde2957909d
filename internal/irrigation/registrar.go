package irrigation

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
)

// DeviceCreator registers devices.
type DeviceCreator interface {
	CreateDevice(ctx context.Context, device *inventory.Device) error
}

// Registrar adds irrigation controllers to the inventory.
type Registrar struct {
	repo DeviceCreator
}

// NewRegistrar creates a Registrar.
func NewRegistrar(repo DeviceCreator) *Registrar {
	return &Registrar{repo: repo}
}

// RegisterController stores device as an irrigation controller. A device
// without an irrigation capability gets an empty one; circuits are
// discovered by the next reconcile pass.
func (r *Registrar) RegisterController(ctx context.Context, device *inventory.Device) (*inventory.Device, error) {
	d := device.DeepCopy()
	if d == nil {
		return nil, inventory.ErrInvalidDevice
	}
	if d.Capabilities.Irrigation == nil {
		d.Capabilities.Irrigation = &inventory.IrrigationCapability{Circuits: []string{}}
	}

	if err := r.repo.CreateDevice(ctx, d); err != nil {
		if errors.Is(err, inventory.ErrDeviceExists) ||
			errors.Is(err, inventory.ErrInvalidDevice) {
			return nil, err
		}
		return nil, &StorageError{Op: "register controller", Err: err}
	}
	return d, nil
}
