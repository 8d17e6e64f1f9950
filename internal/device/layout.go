package device

import (
	"fmt"

	"solar-sim/internal/registers"
)

// Field names one cell of a register layout.
type Field struct {
	Name    string
	Address uint16
	// Scale divides the raw value; 1 for unscaled cells.
	Scale float64
}

// Layout is the register map a device type publishes.
type Layout struct {
	DiscreteInputs   []Field
	Coils            []Field
	HoldingRegisters []Field
	InputRegisters   []Field
}

func fields(scale []float64, names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		s := 1.0
		if i < len(scale) && scale[i] != 0 {
			s = scale[i]
		}
		out[i] = Field{Name: n, Address: uint16(registers.FirstAddress + i), Scale: s}
	}
	return out
}

const x100 = registers.Scale

var (
	inverterLayout = Layout{
		Coils:            fields(nil, "enable"),
		HoldingRegisters: fields(nil, "real_power_setpoint", "reactive_power_setpoint"),
		InputRegisters: fields([]float64{1, 1, x100, x100, x100, 1, 1},
			"real_power", "reactive_power", "voltage_l1", "voltage_l2", "voltage_l3",
			"max_real_power", "max_reactive_power"),
	}
	breakerLayout = Layout{
		DiscreteInputs: fields(nil, "breaker_closed"),
		Coils:          fields(nil, "close_command"),
		InputRegisters: fields([]float64{x100, x100, x100, 1, 1, x100, x100},
			"voltage_l1", "voltage_l2", "voltage_l3", "real_power", "reactive_power",
			"power_factor", "frequency"),
	}
	transformerLayout = Layout{
		HoldingRegisters: fields([]float64{x100}, "ratio"),
		InputRegisters: fields([]float64{1, 1, x100, x100, x100, 1, 1, x100, x100, x100},
			"primary_real_power", "primary_reactive_power",
			"primary_voltage_l1", "primary_voltage_l2", "primary_voltage_l3",
			"secondary_real_power", "secondary_reactive_power",
			"secondary_voltage_l1", "secondary_voltage_l2", "secondary_voltage_l3"),
	}
	meterLayout = Layout{
		InputRegisters: fields([]float64{x100, x100, x100, x100, x100, x100, x100, 1, 1, x100},
			"voltage_l1", "voltage_l2", "voltage_l3",
			"current_l1", "current_l2", "current_l3",
			"frequency", "real_power", "reactive_power", "power_factor"),
	}
	metStationLayout = Layout{
		InputRegisters: fields(nil, "irradiance", "air_temperature"),
	}
	soilingStationLayout = Layout{
		InputRegisters: fields(nil, "soiling_ratio"),
	}
	simControlLayout = Layout{
		Coils: fields(nil, "voltage_step_command"),
		HoldingRegisters: fields(nil,
			"irradiance_deviation", "temp_deviation", "voltage_step_difference",
			"ac_loss_ratio", "freq_droop", "voltage_deviation",
			"voltage_high_limit", "voltage_low_limit", "weather_state"),
		InputRegisters: fields(nil, "irradiance", "weather_state"),
	}
)

// LayoutOf returns the register layout of the device type backing group g.
func LayoutOf(g Group) (Layout, bool) {
	switch g {
	case GroupInverters:
		return inverterLayout, true
	case GroupFeederBreakers, GroupMainBreakers:
		return breakerLayout, true
	case GroupTransformers:
		return transformerLayout, true
	case GroupCheckMeters:
		return meterLayout, true
	case GroupMetStations:
		return metStationLayout, true
	case GroupSoilingStations:
		return soilingStationLayout, true
	case GroupSimControl:
		return simControlLayout, true
	default:
		return Layout{}, false
	}
}

// Span is the number of cells per bank the layout needs, address 0 included.
func (l Layout) Span() int {
	n := 0
	for _, fs := range [][]Field{l.DiscreteInputs, l.Coils, l.HoldingRegisters, l.InputRegisters} {
		for _, f := range fs {
			if int(f.Address)+1 > n {
				n = int(f.Address) + 1
			}
		}
	}
	return n
}

// BankReader is satisfied by a local register file and by a remote Modbus client.
type BankReader interface {
	ReadBits(bank registers.Bank, addr uint16, quantity uint16) ([]bool, error)
	ReadRegisters(bank registers.Bank, addr uint16, quantity uint16) ([]uint16, error)
}

// Values maps field names to decoded values. Bits decode to 0 or 1.
type Values map[string]float64

// Decode reads every bank of the layout from r and scales each field.
// Holding-register fields are prefixed with "hr." and coil fields with
// "coil." so commands never shadow telemetry of the same name.
func (l Layout) Decode(r BankReader) (Values, error) {
	out := make(Values)

	bitBanks := []struct {
		bank   registers.Bank
		prefix string
		fields []Field
	}{
		{registers.DiscreteInputs, "", l.DiscreteInputs},
		{registers.Coils, "coil.", l.Coils},
	}
	for _, b := range bitBanks {
		if len(b.fields) == 0 {
			continue
		}
		bits, err := r.ReadBits(b.bank, registers.FirstAddress, uint16(len(b.fields)))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", b.bank, err)
		}
		for i, f := range b.fields {
			out[b.prefix+f.Name] = float64(bit(bits[i]))
		}
	}

	wordBanks := []struct {
		bank   registers.Bank
		prefix string
		fields []Field
	}{
		{registers.HoldingRegisters, "hr.", l.HoldingRegisters},
		{registers.InputRegisters, "", l.InputRegisters},
	}
	for _, b := range wordBanks {
		if len(b.fields) == 0 {
			continue
		}
		regs, err := r.ReadRegisters(b.bank, registers.FirstAddress, uint16(len(b.fields)))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", b.bank, err)
		}
		for i, f := range b.fields {
			out[b.prefix+f.Name] = registers.Signed(regs[i]) / f.Scale
		}
	}

	return out, nil
}
