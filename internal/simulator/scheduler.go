// Package simulator advances the plant one tick at a time and runs the tick
// loop alongside the callback queue fed by the telemetry poller.
package simulator

import (
	"fmt"
	"log/slog"

	"solar-sim/internal/device"
	"solar-sim/internal/registers"
	"solar-sim/internal/topology"
)

// DeviceUpdateError reports a device that failed during a tick. The device
// keeps its previous telemetry.
type DeviceUpdateError struct {
	Device  string
	Address uint8
	Err     error
}

func (e *DeviceUpdateError) Error() string {
	return fmt.Sprintf("device %s (unit %d) update failed: %v", e.Device, e.Address, e.Err)
}

func (e *DeviceUpdateError) Unwrap() error { return e.Err }

// Scheduler owns the register store of a plant and updates every device in
// dependency order.
type Scheduler struct {
	plant  *topology.Plant
	store  *registers.Store
	files  []*registers.File
	logger *slog.Logger
}

// NewScheduler allocates one register file per device, seeds the command
// banks from the configured device state and publishes the initial
// telemetry.
func NewScheduler(plant *topology.Plant, bankSize int, logger *slog.Logger) (*Scheduler, error) {
	if bankSize <= 0 {
		bankSize = registers.DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		plant:  plant,
		store:  registers.NewStore(bankSize),
		logger: logger,
	}
	for _, d := range plant.Devices {
		meta := d.Meta()
		if layout, ok := device.LayoutOf(meta.Group); ok && layout.Span() > bankSize {
			return nil, fmt.Errorf("bank size %d too small for %s, need %d", bankSize, meta.Name, layout.Span())
		}
		f, err := s.store.Add(meta.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate registers for %s: %w", meta.Name, err)
		}
		if err := f.Apply(d.CommandImage()); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", meta.Name, err)
		}
		if err := f.Apply(d.ExportState()); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", meta.Name, err)
		}
	}
	for _, d := range plant.Order {
		f, _ := s.store.File(d.Meta().Address)
		s.files = append(s.files, f)
	}
	return s, nil
}

func (s *Scheduler) Store() *registers.Store {
	return s.store
}

func (s *Scheduler) Plant() *topology.Plant {
	return s.plant
}

// Tick runs import, compute and export for every device in order. A failing
// device is logged and skipped; the rest of the plant still updates. The
// returned errors are all *DeviceUpdateError.
func (s *Scheduler) Tick() []error {
	var errs []error
	for i, d := range s.plant.Order {
		if err := update(d, s.files[i]); err != nil {
			meta := d.Meta()
			uerr := &DeviceUpdateError{Device: meta.Name, Address: meta.Address, Err: err}
			s.logger.Warn("device update failed",
				"device", meta.Name,
				"address", meta.Address,
				"err", err)
			errs = append(errs, uerr)
		}
	}
	return errs
}

func update(d device.Device, f *registers.File) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if o, ok := d.(device.OneShot); ok {
		d.ImportCommands(f.Take(o.OneShotCoils()...))
	} else {
		d.ImportCommands(f.Snapshot())
	}
	if err := d.Compute(); err != nil {
		return err
	}
	return f.Apply(d.ExportState())
}

// Readings decodes the live registers of the named device.
func (s *Scheduler) Readings(name string) (device.Values, error) {
	d, ok := s.plant.Device(name)
	if !ok {
		return nil, fmt.Errorf("unknown device %q", name)
	}
	meta := d.Meta()
	layout, ok := device.LayoutOf(meta.Group)
	if !ok {
		return nil, fmt.Errorf("no register layout for %s", meta.Group)
	}
	f, ok := s.store.File(meta.Address)
	if !ok {
		return nil, fmt.Errorf("no registers for unit %d", meta.Address)
	}
	return layout.Decode(f)
}

// DeviceReadings is the decoded register view of one device.
type DeviceReadings struct {
	Name    string        `json:"name"`
	Group   device.Group  `json:"group"`
	Address uint8         `json:"address"`
	UID     string        `json:"uid"`
	Values  device.Values `json:"values"`
}

// AllReadings decodes every device in address order. Devices that cannot be
// decoded are left out.
func (s *Scheduler) AllReadings() []DeviceReadings {
	out := make([]DeviceReadings, 0, len(s.plant.Devices))
	for _, d := range s.plant.Devices {
		meta := d.Meta()
		values, err := s.Readings(meta.Name)
		if err != nil {
			s.logger.Debug("skipping device readings", "device", meta.Name, "err", err)
			continue
		}
		out = append(out, DeviceReadings{
			Name:    meta.Name,
			Group:   meta.Group,
			Address: meta.Address,
			UID:     meta.UID().String(),
			Values:  values,
		})
	}
	return out
}
