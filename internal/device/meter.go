package device

import (
	"math"

	"solar-sim/internal/registers"
)

type meterParams struct {
	Frequency float64 `mapstructure:"frequency"`
}

// Meter is a revenue check meter at the point of interconnection. Its
// readings are written by the simulation controller's grid model.
type Meter struct {
	Base

	realPower     float64
	reactivePower float64
	voltage       [3]float64
	frequency     float64
	current       [3]float64
}

func NewMeter(base Base) (*Meter, error) {
	p := meterParams{Frequency: 60}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &Meter{Base: base, frequency: p.Frequency}, nil
}

// SetGrid overwrites the meter readings.
func (m *Meter) SetGrid(realPower, reactivePower, voltage, frequency float64) {
	m.realPower = realPower
	m.reactivePower = reactivePower
	m.voltage = [3]float64{voltage, voltage, voltage}
	m.frequency = frequency
}

func (m *Meter) RealPower() float64     { return m.realPower }
func (m *Meter) ReactivePower() float64 { return m.reactivePower }
func (m *Meter) Voltages() [3]float64   { return m.voltage }
func (m *Meter) Currents() [3]float64   { return m.current }
func (m *Meter) Frequency() float64     { return m.frequency }

func (m *Meter) PowerFactor() float64 {
	return PowerFactor(m.realPower, m.reactivePower)
}

func (m *Meter) CommandImage() registers.Image { return registers.Image{} }

func (m *Meter) ImportCommands(registers.Snapshot) {}

// Compute derives the phase currents from apparent power and line voltage.
func (m *Meter) Compute() error {
	apparent := math.Hypot(m.realPower, m.reactivePower)
	var current [3]float64
	for i, v := range m.voltage {
		if v > 0 {
			current[i] = apparent / (math.Sqrt(3) * v)
		}
	}
	if err := finite(m.Name, current[0], current[1], current[2]); err != nil {
		return err
	}
	m.current = current
	return nil
}

func (m *Meter) ExportState() registers.Image {
	return registers.Image{
		InputRegisters: []uint16{
			registers.Scaled(m.voltage[0]),
			registers.Scaled(m.voltage[1]),
			registers.Scaled(m.voltage[2]),
			registers.Scaled(m.current[0]),
			registers.Scaled(m.current[1]),
			registers.Scaled(m.current[2]),
			registers.Scaled(m.frequency),
			registers.Int(m.realPower),
			registers.Int(m.reactivePower),
			registers.Scaled(m.PowerFactor()),
		},
	}
}
