package device

import (
	"math"

	"solar-sim/internal/registers"
)

// ratedIrradiance is the irradiance (W/m²) at which an inverter reaches its
// maximum real power.
const ratedIrradiance = 950

type inverterParams struct {
	Irradiance            float64 `mapstructure:"irradiance"`
	RealPowerSetpoint     float64 `mapstructure:"real_power_setpoint"`
	ReactivePowerSetpoint float64 `mapstructure:"reactive_power_setpoint"`
	Enabled               bool    `mapstructure:"enabled"`
	MaxRealPower          float64 `mapstructure:"max_real_power"`
	MaxReactivePower      float64 `mapstructure:"max_reactive_power"`
	Voltage               float64 `mapstructure:"voltage"`
}

type Inverter struct {
	Base

	Irradiance            float64
	RealPowerSetpoint     float64
	ReactivePowerSetpoint float64
	Enabled               bool
	MaxRealPower          float64
	MaxReactivePower      float64
	VoltageL1             float64
	VoltageL2             float64
	VoltageL3             float64

	realPower     float64
	reactivePower float64
}

func NewInverter(base Base) (*Inverter, error) {
	p := inverterParams{
		RealPowerSetpoint: 2000,
		Enabled:           true,
		MaxRealPower:      2000,
		MaxReactivePower:  1500,
		Voltage:           34,
	}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &Inverter{
		Base:                  base,
		Irradiance:            p.Irradiance,
		RealPowerSetpoint:     p.RealPowerSetpoint,
		ReactivePowerSetpoint: p.ReactivePowerSetpoint,
		Enabled:               p.Enabled,
		MaxRealPower:          p.MaxRealPower,
		MaxReactivePower:      p.MaxReactivePower,
		VoltageL1:             p.Voltage,
		VoltageL2:             p.Voltage,
		VoltageL3:             p.Voltage,
	}, nil
}

func (i *Inverter) RealPower() float64     { return i.realPower }
func (i *Inverter) ReactivePower() float64 { return i.reactivePower }
func (i *Inverter) Voltages() [3]float64 {
	return [3]float64{i.VoltageL1, i.VoltageL2, i.VoltageL3}
}

func (i *Inverter) CommandImage() registers.Image {
	return registers.Image{
		Coils:            []bool{i.Enabled},
		HoldingRegisters: []uint16{registers.Int(i.RealPowerSetpoint), registers.Int(i.ReactivePowerSetpoint)},
	}
}

func (i *Inverter) ImportCommands(s registers.Snapshot) {
	i.RealPowerSetpoint = registers.Signed(s.Register(registers.FirstAddress))
	i.ReactivePowerSetpoint = registers.Signed(s.Register(registers.FirstAddress + 1))
	i.Enabled = s.Coil(registers.FirstAddress)
}

func (i *Inverter) Compute() error {
	var p, q float64
	if i.Enabled {
		p = math.Min(i.RealPowerSetpoint, i.Irradiance/ratedIrradiance*i.MaxRealPower)
		q = math.Min(i.ReactivePowerSetpoint, i.MaxReactivePower)
	}
	if err := finite(i.Name, p, q); err != nil {
		return err
	}
	i.realPower, i.reactivePower = p, q
	return nil
}

func (i *Inverter) ExportState() registers.Image {
	return registers.Image{
		InputRegisters: []uint16{
			registers.Int(i.realPower),
			registers.Int(i.reactivePower),
			registers.Scaled(i.VoltageL1),
			registers.Scaled(i.VoltageL2),
			registers.Scaled(i.VoltageL3),
			registers.Int(i.MaxRealPower),
			registers.Int(i.MaxReactivePower),
		},
	}
}
