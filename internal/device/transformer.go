package device

import (
	"math"

	"solar-sim/internal/registers"
)

type transformerParams struct {
	Ratio float64 `mapstructure:"ratio"`
}

// Transformer steps the averaged breaker voltage up by Ratio. Power passes
// through unchanged.
type Transformer struct {
	Base

	Ratio float64

	realPower      float64
	reactivePower  float64
	primaryVoltage [3]float64
}

func NewTransformer(base Base) (*Transformer, error) {
	p := transformerParams{Ratio: 3.8}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &Transformer{Base: base, Ratio: p.Ratio}, nil
}

func (t *Transformer) RealPower() float64     { return t.realPower }
func (t *Transformer) ReactivePower() float64 { return t.reactivePower }

func (t *Transformer) PrimaryVoltages() [3]float64 {
	return t.primaryVoltage
}

// Voltages returns the secondary-side voltages.
func (t *Transformer) Voltages() [3]float64 {
	var out [3]float64
	for i, v := range t.primaryVoltage {
		out[i] = v * t.Ratio
	}
	return out
}

func (t *Transformer) CommandImage() registers.Image {
	return registers.Image{HoldingRegisters: []uint16{registers.Int(math.Round(t.Ratio * registers.Scale))}}
}

func (t *Transformer) ImportCommands(s registers.Snapshot) {
	t.Ratio = registers.Unscaled(s.Register(registers.FirstAddress))
}

func (t *Transformer) Compute() error {
	breakers := t.Connected(GroupFeederBreakers)
	if len(breakers) == 0 {
		return nil
	}
	sums := sum(breakers)
	v := sums.averageVoltage()
	if err := finite(t.Name, sums.realPower, sums.reactivePower, v[0], v[1], v[2]); err != nil {
		return err
	}
	t.realPower, t.reactivePower, t.primaryVoltage = sums.realPower, sums.reactivePower, v
	return nil
}

func (t *Transformer) ExportState() registers.Image {
	pv := t.primaryVoltage
	sv := t.Voltages()
	return registers.Image{
		InputRegisters: []uint16{
			registers.Int(t.realPower),
			registers.Int(t.reactivePower),
			registers.Scaled(pv[0]),
			registers.Scaled(pv[1]),
			registers.Scaled(pv[2]),
			registers.Int(t.realPower),
			registers.Int(t.reactivePower),
			registers.Scaled(sv[0]),
			registers.Scaled(sv[1]),
			registers.Scaled(sv[2]),
		},
	}
}
