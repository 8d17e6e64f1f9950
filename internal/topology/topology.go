// Package topology resolves a plant description into a connected device graph
// and the order in which the devices must be updated.
package topology

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"solar-sim/internal/device"
)

// MaxDevices is the highest Modbus unit id a device can be given.
const MaxDevices = 247

// ControllerName is the name of the synthesized simulation controller.
const ControllerName = "simControl"

// ConfigurationError reports a topology that cannot be built.
type ConfigurationError struct {
	Group  device.Group
	Device string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("invalid topology: %s", e.Reason)
	}
	return fmt.Sprintf("invalid topology: %s %q: %s", e.Group, e.Device, e.Reason)
}

func configErr(g device.Group, name, format string, args ...any) error {
	return &ConfigurationError{Group: g, Device: name, Reason: fmt.Sprintf(format, args...)}
}

// Plant is a built device graph. It is immutable after Build returns.
type Plant struct {
	// Devices in address order.
	Devices []device.Device
	// Order is a dependency-respecting update order: every device comes after
	// all devices it reads from.
	Order      []device.Device
	Controller *device.SimulationController

	byName map[string]device.Device
}

// Device returns the device with the given name.
func (p *Plant) Device(name string) (device.Device, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// Group returns the devices of group g in address order.
func (p *Plant) Group(g device.Group) []device.Device {
	var out []device.Device
	for _, d := range p.Devices {
		if d.Meta().Group == g {
			out = append(out, d)
		}
	}
	return out
}

// Options tune the synthesized simulation controller.
type Options struct {
	SimWeather bool
	// Rand drives the controller randomness. Nil uses a fixed seed.
	Rand *rand.Rand
}

// Build instantiates every described device, assigns addresses from 1 in
// group order, resolves connections by name and appends the simulation
// controller wired to the inverters, check meters, main breakers and met
// stations.
func Build(desc Description, opts Options) (*Plant, error) {
	p := &Plant{byName: make(map[string]device.Device)}
	byGroup := make(map[device.Group]map[string]device.Device)

	address := 0
	for _, g := range device.Groups {
		byGroup[g] = make(map[string]device.Device)
		for _, e := range desc.Entries(g) {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				return nil, configErr(g, "", "entry %d has no name", len(byGroup[g])+1)
			}
			if name == ControllerName {
				return nil, configErr(g, name, "name is reserved for the simulation controller")
			}
			if _, dup := p.byName[name]; dup {
				return nil, configErr(g, name, "duplicate device name")
			}
			address++
			if address > MaxDevices {
				return nil, configErr(g, name, "more than %d devices", MaxDevices)
			}
			d, err := device.New(g, name, uint8(address), e.Config)
			if err != nil {
				return nil, &ConfigurationError{Group: g, Device: name, Reason: err.Error()}
			}
			byGroup[g][name] = d
			p.byName[name] = d
			p.Devices = append(p.Devices, d)
		}
	}

	for _, g := range device.Groups {
		for _, e := range desc.Entries(g) {
			d := byGroup[g][strings.TrimSpace(e.Name)]
			if err := resolve(d, e.Connections, byGroup); err != nil {
				return nil, err
			}
		}
	}

	address++
	if address > MaxDevices {
		return nil, configErr(device.GroupSimControl, ControllerName, "more than %d devices", MaxDevices)
	}
	base := device.Base{
		Name:        ControllerName,
		Address:     uint8(address),
		Group:       device.GroupSimControl,
		Connections: make(map[device.Group][]device.Device),
		Config:      desc.Controller,
	}
	for _, g := range []device.Group{device.GroupInverters, device.GroupCheckMeters, device.GroupMainBreakers, device.GroupMetStations} {
		base.Connections[g] = p.Group(g)
	}
	ctrl, err := device.NewSimulationController(base, opts.SimWeather, opts.Rand)
	if err != nil {
		return nil, configErr(device.GroupSimControl, ControllerName, "%v", err)
	}
	p.Controller = ctrl
	p.byName[ControllerName] = ctrl
	p.Devices = append(p.Devices, ctrl)

	order, err := sortDevices(p.Devices)
	if err != nil {
		return nil, err
	}
	p.Order = order
	return p, nil
}

// resolve replaces the named connections of d with device references. Group
// keys are matched ignoring case.
func resolve(d device.Device, conns map[string][]string, byGroup map[device.Group]map[string]device.Device) error {
	meta := d.Meta()

	keys := make([]string, 0, len(conns))
	for k := range conns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		g, ok := device.ParseGroup(key)
		if !ok || g == device.GroupSimControl {
			return configErr(meta.Group, meta.Name, "unknown connection group %q", key)
		}
		for _, name := range conns[key] {
			target, ok := byGroup[g][strings.TrimSpace(name)]
			if !ok {
				return configErr(meta.Group, meta.Name, "connection %q not found in %s", name, g)
			}
			if target == d {
				return configErr(meta.Group, meta.Name, "device is connected to itself")
			}
			meta.Connections[g] = append(meta.Connections[g], target)
		}
	}
	return nil
}

// sortDevices orders devices so that each one follows its connections.
// Among devices that are ready at the same time, the lower address goes
// first, which keeps the canonical group order for well-formed plants.
func sortDevices(devs []device.Device) ([]device.Device, error) {
	indegree := make(map[device.Device]int, len(devs))
	dependents := make(map[device.Device][]device.Device, len(devs))

	for _, d := range devs {
		seen := make(map[device.Device]bool)
		for _, conns := range d.Meta().Connections {
			for _, c := range conns {
				if seen[c] {
					continue
				}
				seen[c] = true
				indegree[d]++
				dependents[c] = append(dependents[c], d)
			}
		}
	}

	var ready []device.Device
	for _, d := range devs {
		if indegree[d] == 0 {
			ready = append(ready, d)
		}
	}

	order := make([]device.Device, 0, len(devs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return ready[i].Meta().Address < ready[j].Meta().Address
		})
		d := ready[0]
		ready = ready[1:]
		order = append(order, d)
		for _, next := range dependents[d] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(devs) {
		var stuck []string
		for _, d := range devs {
			if indegree[d] > 0 {
				stuck = append(stuck, d.Meta().Name)
			}
		}
		return nil, &ConfigurationError{Reason: fmt.Sprintf("connection cycle through %s", strings.Join(stuck, ", "))}
	}
	return order, nil
}
