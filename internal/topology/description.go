package topology

import "solar-sim/internal/device"

// Entry is one device in a topology description. Keys other than name and
// connections are carried through as the device's parameters.
type Entry struct {
	Name        string              `mapstructure:"name" json:"name"`
	Connections map[string][]string `mapstructure:"connections" json:"connections,omitempty"`
	Config      map[string]any      `mapstructure:",remain" json:"config,omitempty"`
}

// Description lists the plant devices per group. Within a group, entries keep
// their order; addresses follow it.
type Description struct {
	Inverters       []Entry `mapstructure:"inverters"`
	FeederBreakers  []Entry `mapstructure:"feederBreakers"`
	Transformers    []Entry `mapstructure:"transformers"`
	MainBreakers    []Entry `mapstructure:"mainBreakers"`
	CheckMeters     []Entry `mapstructure:"checkMeters"`
	MetStations     []Entry `mapstructure:"metStations"`
	SoilingStations []Entry `mapstructure:"soilingStations"`

	// Controller holds the simulation controller parameters.
	Controller map[string]any `mapstructure:"simControl"`
}

// Entries returns the entries listed for group g.
func (d *Description) Entries(g device.Group) []Entry {
	switch g {
	case device.GroupInverters:
		return d.Inverters
	case device.GroupFeederBreakers:
		return d.FeederBreakers
	case device.GroupTransformers:
		return d.Transformers
	case device.GroupMainBreakers:
		return d.MainBreakers
	case device.GroupCheckMeters:
		return d.CheckMeters
	case device.GroupMetStations:
		return d.MetStations
	case device.GroupSoilingStations:
		return d.SoilingStations
	}
	return nil
}

// Empty reports whether no devices are listed.
func (d *Description) Empty() bool {
	for _, g := range device.Groups {
		if len(d.Entries(g)) > 0 {
			return false
		}
	}
	return true
}

func connect(g device.Group, names ...string) map[string][]string {
	return map[string][]string{string(g): names}
}

// DefaultDescription is the reference plant: four inverters on two feeders,
// one transformer, one main breaker and one check meter. Breakers start
// closed.
func DefaultDescription() Description {
	closed := map[string]any{"close_command": false}
	return Description{
		Inverters: []Entry{
			{Name: "inverter1"},
			{Name: "inverter2"},
			{Name: "inverter3"},
			{Name: "inverter4"},
		},
		FeederBreakers: []Entry{
			{Name: "feeder1Breaker", Connections: connect(device.GroupInverters, "inverter1", "inverter2"), Config: closed},
			{Name: "feeder2Breaker", Connections: connect(device.GroupInverters, "inverter3", "inverter4"), Config: closed},
		},
		Transformers: []Entry{
			{Name: "transformer1", Connections: connect(device.GroupFeederBreakers, "feeder1Breaker", "feeder2Breaker"), Config: map[string]any{"ratio": 3.8}},
		},
		MainBreakers: []Entry{
			{
				Name: "mainBreaker1",
				Connections: map[string][]string{
					string(device.GroupFeederBreakers): {"feeder1Breaker", "feeder2Breaker"},
					string(device.GroupTransformers):   {"transformer1"},
				},
				Config: closed,
			},
		},
		CheckMeters: []Entry{
			{Name: "checkMeter1"},
		},
	}
}
