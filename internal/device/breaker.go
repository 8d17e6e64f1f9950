package device

import "solar-sim/internal/registers"

type breakerParams struct {
	CloseCommand bool    `mapstructure:"close_command"`
	Frequency    float64 `mapstructure:"frequency"`
}

// Breaker models both feeder and main breakers; the group selects which
// connections it aggregates.
//
// The close command has inverted polarity: the breaker reads as closed when
// the command is false, and the default command is true (open). This mirrors
// the behaviour the field equipment was modelled from and is kept as-is.
type Breaker struct {
	Base

	CloseCommand bool
	// NominalFrequency is reported while the breaker is closed.
	NominalFrequency float64

	realPower     float64
	reactivePower float64
	voltage       [3]float64
}

func NewBreaker(base Base) (*Breaker, error) {
	p := breakerParams{
		CloseCommand: true,
		Frequency:    60,
	}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &Breaker{
		Base:             base,
		CloseCommand:     p.CloseCommand,
		NominalFrequency: p.Frequency,
	}, nil
}

// Closed is derived from the close command, see the type comment for polarity.
func (b *Breaker) Closed() bool {
	return !b.CloseCommand
}

func (b *Breaker) RealPower() float64 {
	if !b.Closed() {
		return 0
	}
	return b.realPower
}

func (b *Breaker) ReactivePower() float64 {
	if !b.Closed() {
		return 0
	}
	return b.reactivePower
}

func (b *Breaker) Voltages() [3]float64 {
	if !b.Closed() {
		return [3]float64{}
	}
	return b.voltage
}

func (b *Breaker) Frequency() float64 {
	if !b.Closed() {
		return 0
	}
	return b.NominalFrequency
}

func (b *Breaker) PowerFactor() float64 {
	return PowerFactor(b.RealPower(), b.ReactivePower())
}

func (b *Breaker) CommandImage() registers.Image {
	return registers.Image{Coils: []bool{b.CloseCommand}}
}

func (b *Breaker) ImportCommands(s registers.Snapshot) {
	b.CloseCommand = s.Coil(registers.FirstAddress)
}

func (b *Breaker) Compute() error {
	switch b.Group {
	case GroupFeederBreakers:
		return b.computeFeeder()
	case GroupMainBreakers:
		return b.computeMain()
	}
	return nil
}

// computeFeeder sums power and averages voltage over the connected inverters,
// then copies the raw close command into each inverter's enable flag. The
// inverters re-import their enable coil before their next Compute, so the
// coil wins.
func (b *Breaker) computeFeeder() error {
	inverters := b.Connected(GroupInverters)
	if len(inverters) == 0 {
		return nil
	}
	t := sum(inverters)
	v := t.averageVoltage()
	if err := finite(b.Name, t.realPower, t.reactivePower, v[0], v[1], v[2]); err != nil {
		return err
	}
	b.realPower, b.reactivePower, b.voltage = t.realPower, t.reactivePower, v

	for _, d := range inverters {
		if inv, ok := d.(*Inverter); ok {
			inv.Enabled = b.CloseCommand
		}
	}
	return nil
}

// computeMain sums power over the feeder breakers but takes its voltage from
// the transformers.
func (b *Breaker) computeMain() error {
	feeders := b.Connected(GroupFeederBreakers)
	if len(feeders) == 0 {
		return nil
	}
	power := sum(feeders)
	v := sum(b.Connected(GroupTransformers)).averageVoltage()
	if err := finite(b.Name, power.realPower, power.reactivePower, v[0], v[1], v[2]); err != nil {
		return err
	}
	b.realPower, b.reactivePower, b.voltage = power.realPower, power.reactivePower, v
	return nil
}

func (b *Breaker) ExportState() registers.Image {
	v := b.Voltages()
	return registers.Image{
		DiscreteInputs: []bool{b.Closed()},
		InputRegisters: []uint16{
			registers.Scaled(v[0]),
			registers.Scaled(v[1]),
			registers.Scaled(v[2]),
			registers.Int(b.RealPower()),
			registers.Int(b.ReactivePower()),
			registers.Scaled(b.PowerFactor()),
			registers.Scaled(b.Frequency()),
		},
	}
}
