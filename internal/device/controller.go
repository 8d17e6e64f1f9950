package device

import (
	"math"
	"math/rand"

	"solar-sim/internal/registers"
)

// WeatherState selects the irradiance profile the controller runs.
type WeatherState int

const (
	WeatherDawn         WeatherState = 0
	WeatherClear        WeatherState = 1
	WeatherPartlyCloudy WeatherState = 2
	// 3 is not assigned.
	WeatherDusk  WeatherState = 4
	WeatherNight WeatherState = 5
)

func (w WeatherState) String() string {
	switch w {
	case WeatherDawn:
		return "dawn"
	case WeatherClear:
		return "clear"
	case WeatherPartlyCloudy:
		return "partly cloudy"
	case WeatherDusk:
		return "dusk"
	case WeatherNight:
		return "night"
	default:
		return "hold"
	}
}

const (
	// rampSteps is the number of sub-steps of a dawn or dusk ramp.
	rampSteps = 60
	// NightTicks is how long the night state lasts before dawn.
	NightTicks = 30
	// spikeOdds gives a 1 in 31 chance of a cloud-edge spike per step.
	spikeOdds = 30
	// inverterNoise bounds the per-inverter irradiance noise in W/m².
	inverterNoise = 25
)

type band struct{ min, max float64 }

var (
	nightBand = band{0, 200}
	clearBand = band{800, 950}
	cloudBand = band{300, 950}
	darkBand  = band{0, 0}
)

type controllerParams struct {
	Irradiance                float64 `mapstructure:"irradiance"`
	PoaMin                    float64 `mapstructure:"poa_min"`
	PoaMax                    float64 `mapstructure:"poa_max"`
	IrradianceDeviation       float64 `mapstructure:"irradiance_deviation"`
	TempDeviation             float64 `mapstructure:"temp_deviation"`
	VoltageStepDifference     float64 `mapstructure:"voltage_step_difference"`
	ACLossRatio               float64 `mapstructure:"ac_loss_ratio"`
	FreqDroop                 float64 `mapstructure:"freq_droop"`
	FrequencyDeviation        float64 `mapstructure:"frequency_deviation"`
	NominalFrequency          float64 `mapstructure:"nominal_frequency"`
	VoltageDeviation          float64 `mapstructure:"voltage_deviation"`
	VoltageHighLimit          float64 `mapstructure:"voltage_high_limit"`
	VoltageLowLimit           float64 `mapstructure:"voltage_low_limit"`
	WeatherState              int     `mapstructure:"weather_state"`
	NominalGridVoltage        float64 `mapstructure:"nominal_grid_voltage"`
	VoltageEffectPerVar       float64 `mapstructure:"voltage_effect_per_var"`
	VoltageMaxDeviation       float64 `mapstructure:"voltage_max_deviation"`
	ReactivePowerMaxDeviation float64 `mapstructure:"reactive_power_max_deviation"`
}

// SimulationController runs the weather profile and the synthetic grid that
// feed the inverters, met stations and check meters.
type SimulationController struct {
	Base

	WeatherEnabled bool
	WeatherState   WeatherState
	Irradiance     float64
	PoaMin         float64
	PoaMax         float64

	IrradianceDeviation   float64
	TempDeviation         float64
	VoltageStepDifference float64
	VoltageStepCommand    bool
	ACLossRatio           float64
	FreqDroop             float64
	FrequencyDeviation    float64
	VoltageDeviation      float64
	VoltageHighLimit      float64
	VoltageLowLimit       float64

	NominalGridVoltage        float64
	VoltageEffectPerVar       float64
	VoltageMaxDeviation       float64
	ReactivePowerMaxDeviation float64

	gridFrequency     float64
	lastReactivePower float64
	// imported holds the raw holding registers last seen by ImportCommands.
	imported          []uint16
	nightTicks        int
	rng               *rand.Rand
}

func NewSimulationController(base Base, weatherEnabled bool, rng *rand.Rand) (*SimulationController, error) {
	p := controllerParams{
		Irradiance:                900,
		PoaMin:                    0,
		PoaMax:                    1000,
		IrradianceDeviation:       20,
		ACLossRatio:               98,
		FrequencyDeviation:        0.1,
		NominalFrequency:          60,
		VoltageDeviation:          5,
		VoltageHighLimit:          142,
		VoltageLowLimit:           134,
		NominalGridVoltage:        138,
		VoltageEffectPerVar:       0.0005,
		VoltageMaxDeviation:       0.05,
		ReactivePowerMaxDeviation: 25,
	}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	c := &SimulationController{
		Base:                      base,
		WeatherEnabled:            weatherEnabled,
		WeatherState:              WeatherState(p.WeatherState),
		Irradiance:                p.Irradiance,
		PoaMin:                    p.PoaMin,
		PoaMax:                    p.PoaMax,
		IrradianceDeviation:       p.IrradianceDeviation,
		TempDeviation:             p.TempDeviation,
		VoltageStepDifference:     p.VoltageStepDifference,
		ACLossRatio:               p.ACLossRatio,
		FreqDroop:                 p.FreqDroop,
		FrequencyDeviation:        p.FrequencyDeviation,
		VoltageDeviation:          p.VoltageDeviation,
		VoltageHighLimit:          p.VoltageHighLimit,
		VoltageLowLimit:           p.VoltageLowLimit,
		NominalGridVoltage:        p.NominalGridVoltage,
		VoltageEffectPerVar:       p.VoltageEffectPerVar,
		VoltageMaxDeviation:       p.VoltageMaxDeviation,
		ReactivePowerMaxDeviation: p.ReactivePowerMaxDeviation,
		gridFrequency:             p.NominalFrequency,
		rng:                       rng,
	}
	c.imported = c.holding()
	return c, nil
}

// randInt returns a uniform integer in [lo, hi].
func (c *SimulationController) randInt(lo, hi int) int {
	return lo + c.rng.Intn(hi-lo+1)
}

// noise returns a uniform value in [-1, 1] on a 0.01 grid.
func (c *SimulationController) noise() float64 {
	return float64(c.randInt(-100, 100)) / 100
}

func (c *SimulationController) GridFrequency() float64 {
	return c.gridFrequency
}

// settings lists the holding-register parameters in register order.
func (c *SimulationController) settings() []*float64 {
	return []*float64{
		&c.IrradianceDeviation,
		&c.TempDeviation,
		&c.VoltageStepDifference,
		&c.ACLossRatio,
		&c.FreqDroop,
		&c.VoltageDeviation,
		&c.VoltageHighLimit,
		&c.VoltageLowLimit,
	}
}

func (c *SimulationController) holding() []uint16 {
	var out []uint16
	for _, v := range c.settings() {
		out = append(out, registers.Int(*v))
	}
	return append(out, registers.Int(float64(c.WeatherState)))
}

func (c *SimulationController) CommandImage() registers.Image {
	return registers.Image{
		Coils:            []bool{c.VoltageStepCommand},
		HoldingRegisters: c.holding(),
	}
}

func (c *SimulationController) OneShotCoils() []uint16 {
	return []uint16{registers.FirstAddress}
}

// ImportCommands applies only the holding registers a client changed since
// the last import. Untouched registers keep the configured value, fractions
// included, and a stale weather override never undoes a transition.
func (c *SimulationController) ImportCommands(s registers.Snapshot) {
	settings := c.settings()
	for i := range c.imported {
		raw := s.Register(registers.FirstAddress + i)
		if raw == c.imported[i] {
			continue
		}
		c.imported[i] = raw
		if i < len(settings) {
			*settings[i] = registers.Signed(raw)
			continue
		}
		c.WeatherState = WeatherState(registers.Signed(raw))
		c.nightTicks = 0
	}
	if s.Coil(registers.FirstAddress) {
		c.VoltageStepCommand = true
	}
}

func (c *SimulationController) Compute() error {
	c.updateGrid()
	if c.WeatherEnabled {
		c.stepWeather()
		for _, d := range c.Connected(GroupInverters) {
			if inv, ok := d.(*Inverter); ok {
				inv.Irradiance = math.Max(0, c.Irradiance+float64(c.randInt(-inverterNoise, inverterNoise)))
			}
		}
	}
	for _, d := range c.Connected(GroupMetStations) {
		if ms, ok := d.(*MetStation); ok {
			ms.Irradiance = c.Irradiance
			ms.AirTemperature = ms.BaseTemperature + c.noise()*c.TempDeviation
		}
	}
	return finite(c.Name, c.Irradiance, c.gridFrequency)
}

// updateGrid overwrites the check meters from the synthetic grid and the
// main breaker output. Without a meter or main breaker it does nothing.
func (c *SimulationController) updateGrid() {
	meters := c.Connected(GroupCheckMeters)
	breakers := c.Connected(GroupMainBreakers)
	if len(meters) == 0 || len(breakers) == 0 {
		return
	}
	main, ok := breakers[0].(*Breaker)
	if !ok {
		return
	}

	c.gridFrequency += c.FreqDroop + c.FrequencyDeviation*c.noise()

	var reactive float64
	for _, d := range c.Connected(GroupInverters) {
		if e, ok := d.(Electrical); ok {
			reactive += e.ReactivePower()
		}
	}
	delta := reactive - c.lastReactivePower
	c.lastReactivePower = reactive

	var step float64
	if c.VoltageStepCommand {
		step = c.VoltageStepDifference
		c.VoltageStepCommand = false
	}

	fromPlant := delta * (c.ACLossRatio / 100) * c.VoltageEffectPerVar
	voltage := c.NominalGridVoltage + fromPlant + c.noise()*c.VoltageMaxDeviation + step
	if voltage > c.VoltageHighLimit {
		voltage = c.VoltageHighLimit
	}
	if voltage < c.VoltageLowLimit {
		voltage = c.VoltageLowLimit
	}

	meterReactive := math.Abs(main.ReactivePower() + c.noise()*c.ReactivePowerMaxDeviation)

	for _, d := range meters {
		if m, ok := d.(*Meter); ok {
			m.SetGrid(main.RealPower(), meterReactive, voltage, c.gridFrequency)
		}
	}
}

func (c *SimulationController) stepWeather() {
	if c.WeatherState == WeatherDawn {
		c.ramp(nightBand, clearBand)
		c.WeatherState = WeatherClear
	}

	switch c.WeatherState {
	case WeatherClear:
		c.walk(clearBand, 1, 10)
	case WeatherPartlyCloudy:
		c.walk(cloudBand, 10, 40)
	case WeatherDusk:
		c.ramp(clearBand, darkBand)
		c.WeatherState = WeatherNight
		c.nightTicks = 0
	case WeatherNight:
		c.Irradiance = 0
		c.nightTicks++
		if c.nightTicks >= NightTicks {
			c.WeatherState = WeatherDawn
			c.nightTicks = 0
		}
	}

	c.Irradiance = clamp(c.Irradiance, c.PoaMin, c.PoaMax)
}

// ramp moves irradiance through rampSteps sub-steps while the allowed band
// slides linearly from one band to the other.
func (c *SimulationController) ramp(from, to band) {
	for i := 0; i < rampSteps; i++ {
		multiplier := 1.0
		if c.randInt(0, spikeOdds) == 0 {
			multiplier = 10
		}
		c.Irradiance += float64(c.randInt(-10, 75)) * c.IrradianceDeviation * multiplier / 100

		frac := float64(i) / float64(rampSteps-1)
		lo := from.min + (to.min-from.min)*frac
		hi := from.max + (to.max-from.max)*frac
		c.Irradiance = clamp(c.Irradiance, lo, hi)
	}
}

// walk applies one bounded random step inside b.
func (c *SimulationController) walk(b band, multiplier, spike float64) {
	if c.randInt(0, spikeOdds) == 0 {
		multiplier = spike
	}
	c.Irradiance += float64(c.randInt(-100, 100)) * c.IrradianceDeviation * multiplier / 100
	c.Irradiance = clamp(c.Irradiance, b.min, b.max)
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// ExportState writes telemetry only. The command banks belong to clients.
func (c *SimulationController) ExportState() registers.Image {
	return registers.Image{
		InputRegisters: []uint16{
			registers.Int(c.Irradiance),
			registers.Int(float64(c.WeatherState)),
		},
	}
}
