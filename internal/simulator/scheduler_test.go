package simulator

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"solar-sim/internal/device"
	"solar-sim/internal/registers"
	"solar-sim/internal/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registerDelta = 0.01 + 1e-9

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scenarioPlant is one inverter behind a feeder breaker, a transformer, a main
// breaker and a check meter.
func scenarioPlant(feederClose, mainClose int) topology.Description {
	return topology.Description{
		Inverters: []topology.Entry{{
			Name: "inverter1",
			Config: map[string]any{
				"irradiance":          950,
				"real_power_setpoint": 2000,
				"max_real_power":      2000,
				"enabled":             true,
			},
		}},
		FeederBreakers: []topology.Entry{{
			Name:        "feeder1",
			Connections: map[string][]string{"inverters": {"inverter1"}},
			Config:      map[string]any{"close_command": feederClose},
		}},
		Transformers: []topology.Entry{{
			Name:        "transformer1",
			Connections: map[string][]string{"feederBreakers": {"feeder1"}},
			Config:      map[string]any{"ratio": 3.8},
		}},
		MainBreakers: []topology.Entry{{
			Name: "main1",
			Connections: map[string][]string{
				"feederBreakers": {"feeder1"},
				"transformers":   {"transformer1"},
			},
			Config: map[string]any{"close_command": mainClose},
		}},
		CheckMeters: []topology.Entry{{Name: "meter1"}},
	}
}

func newScheduler(t *testing.T, desc topology.Description) *Scheduler {
	t.Helper()
	plant, err := topology.Build(desc, topology.Options{})
	require.NoError(t, err)
	s, err := NewScheduler(plant, registers.DefaultSize, quietLogger())
	require.NoError(t, err)
	return s
}

func readings(t *testing.T, s *Scheduler, name string) device.Values {
	t.Helper()
	v, err := s.Readings(name)
	require.NoError(t, err)
	return v
}

func TestScenarioClosedBreakers(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 0))

	for tick := 1; tick <= 5; tick++ {
		require.Empty(t, s.Tick())

		inv := readings(t, s, "inverter1")
		assert.Equal(t, 2000.0, inv["real_power"], "tick %d", tick)

		fb := readings(t, s, "feeder1")
		assert.Equal(t, 2000.0, fb["real_power"])
		assert.Equal(t, 1.0, fb["breaker_closed"])
		assert.InDelta(t, 34, fb["voltage_l1"], registerDelta)

		tr := readings(t, s, "transformer1")
		assert.InDelta(t, tr["primary_voltage_l1"]*3.8, tr["secondary_voltage_l1"], 3.8*registerDelta)
		assert.InDelta(t, 34*3.8, tr["secondary_voltage_l2"], registerDelta)
		assert.Equal(t, 2000.0, tr["secondary_real_power"])

		mb := readings(t, s, "main1")
		assert.Equal(t, 2000.0, mb["real_power"])
		assert.InDelta(t, 34*3.8, mb["voltage_l3"], registerDelta)
		assert.Equal(t, 1.0, mb["power_factor"])
	}

	tr, _ := s.Plant().Device("transformer1")
	assert.InDelta(t, 34*3.8, tr.(*device.Transformer).Voltages()[0], 1e-9)
}

func TestScenarioOpenMainBreaker(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 1))

	for tick := 0; tick < 3; tick++ {
		require.Empty(t, s.Tick())

		assert.Equal(t, 2000.0, readings(t, s, "inverter1")["real_power"])
		mb := readings(t, s, "main1")
		assert.Zero(t, mb["breaker_closed"])
		for _, field := range []string{"real_power", "reactive_power", "voltage_l1", "voltage_l2", "voltage_l3", "frequency"} {
			assert.Zero(t, mb[field], field)
		}
	}
}

func TestScenarioOpenFeederBreaker(t *testing.T) {
	s := newScheduler(t, scenarioPlant(1, 0))
	inv, _ := s.Plant().Device("inverter1")

	for tick := 1; tick <= 3; tick++ {
		require.Empty(t, s.Tick())

		assert.Equal(t, 2000.0, inv.(*device.Inverter).RealPower(), "tick %d", tick)
		assert.Equal(t, 2000.0, readings(t, s, "inverter1")["real_power"], "tick %d", tick)
		fb := readings(t, s, "feeder1")
		assert.Zero(t, fb["breaker_closed"])
		assert.Zero(t, fb["real_power"])
		assert.Zero(t, fb["voltage_l1"])
		assert.Zero(t, fb["frequency"])
		assert.Zero(t, readings(t, s, "main1")["real_power"])
	}
}

func TestFeederCommandReachesInverterEnable(t *testing.T) {
	for _, tc := range []struct {
		name         string
		closeCommand int
	}{
		{"closed", 0},
		{"open", 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newScheduler(t, scenarioPlant(tc.closeCommand, 0))
			d, _ := s.Plant().Device("inverter1")
			inv := d.(*device.Inverter)

			for tick := 1; tick <= 3; tick++ {
				require.Empty(t, s.Tick())
				// the feeder leaves its raw command on the inverter after each tick
				assert.Equal(t, tc.closeCommand == 1, inv.Enabled, "tick %d", tick)
				// the enable coil is re-imported first, so output never drops
				assert.Equal(t, 2000.0, inv.RealPower(), "tick %d", tick)
			}
		})
	}
}

func TestCommandsReachNextTick(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 0))
	require.Empty(t, s.Tick())

	inv, _ := s.Plant().Device("inverter1")
	f, ok := s.Store().File(inv.Meta().Address)
	require.True(t, ok)
	require.NoError(t, f.WriteRegisters(registers.HoldingRegisters, 1, []uint16{1500}))

	require.Empty(t, s.Tick())
	assert.Equal(t, 1500.0, readings(t, s, "inverter1")["real_power"])
	assert.Equal(t, 1500.0, readings(t, s, "feeder1")["real_power"])
	assert.Equal(t, 1500.0, readings(t, s, "main1")["real_power"])

	// open the main breaker over the wire
	mb, _ := s.Plant().Device("main1")
	mf, _ := s.Store().File(mb.Meta().Address)
	require.NoError(t, mf.WriteBits(registers.Coils, 1, []bool{true}))
	require.Empty(t, s.Tick())
	assert.Zero(t, readings(t, s, "main1")["real_power"])
}

func TestDependencyOrder(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 0))
	require.Empty(t, s.Tick())

	inv, _ := s.Plant().Device("inverter1")
	f, _ := s.Store().File(inv.Meta().Address)
	require.NoError(t, f.WriteRegisters(registers.HoldingRegisters, 1, []uint16{700}))
	require.Empty(t, s.Tick())

	// everything downstream of the inverter sees this tick's value
	assert.Equal(t, 700.0, readings(t, s, "feeder1")["real_power"])
	assert.Equal(t, 700.0, readings(t, s, "transformer1")["primary_real_power"])
	assert.Equal(t, 700.0, readings(t, s, "main1")["real_power"])

	// the meter is updated by the controller, which runs after it, so its
	// registers show the previous tick
	assert.Equal(t, 2000.0, readings(t, s, "meter1")["real_power"])
	require.Empty(t, s.Tick())
	assert.Equal(t, 700.0, readings(t, s, "meter1")["real_power"])
}

// clientDuringCompute runs write in the middle of the wrapped controller's
// update, between its import and its export.
type clientDuringCompute struct {
	*device.SimulationController
	write func()
}

func (c *clientDuringCompute) Compute() error {
	if c.write != nil {
		c.write()
		c.write = nil
	}
	return c.SimulationController.Compute()
}

func TestCommandWrittenDuringTickReachesNextTick(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 0))
	plant := s.Plant()
	ctrl := plant.Controller
	f, ok := s.Store().File(ctrl.Address)
	require.True(t, ok)

	wrapped := &clientDuringCompute{SimulationController: ctrl, write: func() {
		require.NoError(t, f.WriteRegisters(registers.HoldingRegisters, 9, []uint16{uint16(device.WeatherPartlyCloudy)}))
		require.NoError(t, f.WriteBits(registers.Coils, 1, []bool{true}))
	}}
	for i, d := range plant.Order {
		if d == device.Device(ctrl) {
			plant.Order[i] = wrapped
		}
	}

	require.Empty(t, s.Tick())
	values := readings(t, s, topology.ControllerName)
	assert.Equal(t, float64(device.WeatherPartlyCloudy), values["hr.weather_state"])
	assert.Equal(t, 1.0, values["coil.voltage_step_command"])
	assert.NotEqual(t, device.WeatherPartlyCloudy, ctrl.WeatherState)

	require.Empty(t, s.Tick())
	values = readings(t, s, topology.ControllerName)
	assert.Equal(t, device.WeatherPartlyCloudy, ctrl.WeatherState)
	assert.Equal(t, float64(device.WeatherPartlyCloudy), values["weather_state"])
	assert.Zero(t, values["coil.voltage_step_command"], "step command consumed once")
}

func TestInitialRegistersHoldConfiguration(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 1))

	inv := readings(t, s, "inverter1")
	assert.Equal(t, 2000.0, inv["hr.real_power_setpoint"])
	assert.Equal(t, 1.0, inv["coil.enable"])
	assert.Equal(t, 2000.0, inv["max_real_power"])

	assert.Equal(t, 1.0, readings(t, s, "main1")["coil.close_command"])
	assert.InDelta(t, 3.8, readings(t, s, "transformer1")["hr.ratio"], registerDelta)

	ctrl := readings(t, s, topology.ControllerName)
	assert.Equal(t, 134.0, ctrl["hr.voltage_low_limit"])
	assert.Equal(t, 900.0, ctrl["irradiance"])
}

func TestBankSizeTooSmall(t *testing.T) {
	plant, err := topology.Build(scenarioPlant(0, 0), topology.Options{})
	require.NoError(t, err)
	_, err = NewScheduler(plant, 5, quietLogger())
	assert.ErrorContains(t, err, "too small")
}

type faultyDevice struct {
	device.Base
	panics  bool
	exports uint16
}

func (f *faultyDevice) CommandImage() registers.Image     { return registers.Image{} }
func (f *faultyDevice) ImportCommands(registers.Snapshot) {}

func (f *faultyDevice) ExportState() registers.Image {
	f.exports++
	return registers.Image{InputRegisters: []uint16{f.exports}}
}

func (f *faultyDevice) Compute() error {
	if f.panics {
		panic("shorted")
	}
	return errors.New("sensor offline")
}

func TestFailingDeviceIsIsolated(t *testing.T) {
	plant, err := topology.Build(scenarioPlant(0, 0), topology.Options{})
	require.NoError(t, err)

	next := uint8(len(plant.Devices))
	broken := &faultyDevice{Base: device.Base{Name: "broken", Address: next + 1, Group: "test"}}
	panicky := &faultyDevice{Base: device.Base{Name: "panicky", Address: next + 2, Group: "test"}, panics: true}
	plant.Devices = append(plant.Devices, broken, panicky)
	plant.Order = append([]device.Device{panicky, broken}, plant.Order...)

	s, err := NewScheduler(plant, registers.DefaultSize, quietLogger())
	require.NoError(t, err)

	errs := s.Tick()
	require.Len(t, errs, 2)
	for _, err := range errs {
		var uerr *DeviceUpdateError
		require.ErrorAs(t, err, &uerr)
	}
	assert.ErrorContains(t, errs[0], "panicky")
	assert.ErrorContains(t, errs[0], "shorted")
	assert.ErrorContains(t, errs[1], "sensor offline")

	// only the startup export happened
	assert.Equal(t, uint16(1), broken.exports)
	f, _ := s.Store().File(broken.Address)
	regs, err := f.ReadRegisters(registers.InputRegisters, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), regs[0])

	assert.Equal(t, 2000.0, readings(t, s, "main1")["real_power"])
}

func TestReadingsUnknownDevice(t *testing.T) {
	s := newScheduler(t, scenarioPlant(0, 0))
	_, err := s.Readings("nope")
	assert.Error(t, err)
}

func TestAllReadings(t *testing.T) {
	s := newScheduler(t, topology.DefaultDescription())
	require.Empty(t, s.Tick())

	all := s.AllReadings()
	require.Len(t, all, 10)
	assert.Equal(t, "inverter1", all[0].Name)
	assert.Equal(t, device.GroupInverters, all[0].Group)
	assert.Equal(t, uint8(1), all[0].Address)
	assert.NotEmpty(t, all[0].UID)
	assert.Contains(t, all[0].Values, "real_power")
	assert.Equal(t, topology.ControllerName, all[9].Name)
}
