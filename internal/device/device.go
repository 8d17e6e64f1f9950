// Package device models the electrical behaviour of the plant equipment.
//
// Every device type implements Device. The scheduler drives each one through
// ImportCommands, Compute and ExportState once per tick; the register file is
// the only channel through which commands arrive and state leaves.
package device

import (
	"fmt"
	"math"
	"strings"

	"solar-sim/internal/registers"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Group names a device population. The values are the keys used by the
// topology description.
type Group string

const (
	GroupInverters       Group = "inverters"
	GroupFeederBreakers  Group = "feederBreakers"
	GroupTransformers    Group = "transformers"
	GroupMainBreakers    Group = "mainBreakers"
	GroupCheckMeters     Group = "checkMeters"
	GroupMetStations     Group = "metStations"
	GroupSoilingStations Group = "soilingStations"
	GroupSimControl      Group = "simControl"
)

// Groups lists the groups a topology description may contain, in canonical order.
var Groups = []Group{
	GroupInverters,
	GroupFeederBreakers,
	GroupTransformers,
	GroupMainBreakers,
	GroupCheckMeters,
	GroupMetStations,
	GroupSoilingStations,
}

// ParseGroup matches s against the known groups ignoring case.
func ParseGroup(s string) (Group, bool) {
	for _, g := range Groups {
		if strings.EqualFold(string(g), s) {
			return g, true
		}
	}
	if strings.EqualFold(string(GroupSimControl), s) {
		return GroupSimControl, true
	}
	return "", false
}

// Device is the capability set shared by all plant equipment.
type Device interface {
	Meta() *Base
	// CommandImage returns the commanded state used to seed the command banks.
	CommandImage() registers.Image
	ImportCommands(registers.Snapshot)
	// Compute recomputes derived state from commanded state and connections.
	// On error the previous derived state is kept.
	Compute() error
	ExportState() registers.Image
}

// OneShot is implemented by devices whose coils are momentary commands. The
// listed coils are cleared when the device imports them.
type OneShot interface {
	OneShotCoils() []uint16
}

// Base carries the identity every device shares.
type Base struct {
	Name        string
	Address     uint8
	Group       Group
	Connections map[Group][]Device
	Config      map[string]any
}

func (b *Base) Meta() *Base {
	return b
}

func (b *Base) String() string {
	return fmt.Sprintf("%s(%d)", b.Name, b.Address)
}

// UID is a stable identifier derived from the group and name, so it survives
// address changes between topologies.
func (b *Base) UID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(b.Group)+"/"+b.Name))
}

// Connected returns the devices wired to b from group g.
func (b *Base) Connected(g Group) []Device {
	if b.Connections == nil {
		return nil
	}
	return b.Connections[g]
}

// New creates the device type that backs group g.
func New(g Group, name string, address uint8, config map[string]any) (Device, error) {
	base := Base{
		Name:        name,
		Address:     address,
		Group:       g,
		Connections: make(map[Group][]Device),
		Config:      config,
	}
	switch g {
	case GroupInverters:
		return NewInverter(base)
	case GroupFeederBreakers, GroupMainBreakers:
		return NewBreaker(base)
	case GroupTransformers:
		return NewTransformer(base)
	case GroupCheckMeters:
		return NewMeter(base)
	case GroupMetStations:
		return NewMetStation(base)
	case GroupSoilingStations:
		return NewSoilingStation(base)
	default:
		return nil, fmt.Errorf("no device type for group %q", g)
	}
}

// decodeParams overlays the device config blob onto params.
func decodeParams(b Base, params any) error {
	if len(b.Config) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           params,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(b.Config); err != nil {
		return fmt.Errorf("failed to decode %s parameters: %w", b.Name, err)
	}
	return nil
}

// Electrical is implemented by devices that expose an aggregate power reading.
type Electrical interface {
	RealPower() float64
	ReactivePower() float64
	Voltages() [3]float64
}

type totals struct {
	realPower     float64
	reactivePower float64
	voltageSum    [3]float64
	count         int
}

func sum(devs []Device) totals {
	var t totals
	for _, d := range devs {
		e, ok := d.(Electrical)
		if !ok {
			continue
		}
		t.realPower += e.RealPower()
		t.reactivePower += e.ReactivePower()
		v := e.Voltages()
		for i := range v {
			t.voltageSum[i] += v[i]
		}
		t.count++
	}
	return t
}

func (t totals) averageVoltage() [3]float64 {
	var out [3]float64
	if t.count == 0 {
		return out
	}
	for i := range out {
		out[i] = t.voltageSum[i] / float64(t.count)
	}
	return out
}

// PowerFactor is sign(q)·p/√(p²+q²), and exactly 1 when q is zero.
func PowerFactor(realPower, reactivePower float64) float64 {
	if reactivePower == 0 {
		return 1
	}
	return math.Copysign(1, reactivePower) * realPower / math.Hypot(realPower, reactivePower)
}

func finite(name string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: non-finite derived value %v", name, v)
		}
	}
	return nil
}

func bit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
