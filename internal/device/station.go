package device

import "solar-sim/internal/registers"

type metStationParams struct {
	AirTemperature float64 `mapstructure:"air_temperature"`
}

// MetStation reports plane-of-array irradiance and air temperature. Both are
// fed by the simulation controller when it is wired to the station.
type MetStation struct {
	Base

	Irradiance     float64
	AirTemperature float64
	// BaseTemperature is the configured temperature the controller perturbs.
	BaseTemperature float64
}

func NewMetStation(base Base) (*MetStation, error) {
	p := metStationParams{AirTemperature: 25}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &MetStation{
		Base:            base,
		AirTemperature:  p.AirTemperature,
		BaseTemperature: p.AirTemperature,
	}, nil
}

func (m *MetStation) CommandImage() registers.Image     { return registers.Image{} }
func (m *MetStation) ImportCommands(registers.Snapshot) {}
func (m *MetStation) Compute() error                    { return nil }

func (m *MetStation) ExportState() registers.Image {
	return registers.Image{
		InputRegisters: []uint16{registers.Int(m.Irradiance), registers.Int(m.AirTemperature)},
	}
}

type soilingStationParams struct {
	SoilingRatio float64 `mapstructure:"soiling_ratio"`
}

// SoilingStation reports the soiling ratio of the reference cells, in percent.
type SoilingStation struct {
	Base

	SoilingRatio float64
}

func NewSoilingStation(base Base) (*SoilingStation, error) {
	p := soilingStationParams{SoilingRatio: 100}
	if err := decodeParams(base, &p); err != nil {
		return nil, err
	}
	return &SoilingStation{Base: base, SoilingRatio: p.SoilingRatio}, nil
}

func (s *SoilingStation) CommandImage() registers.Image     { return registers.Image{} }
func (s *SoilingStation) ImportCommands(registers.Snapshot) {}
func (s *SoilingStation) Compute() error                    { return nil }

func (s *SoilingStation) ExportState() registers.Image {
	return registers.Image{InputRegisters: []uint16{registers.Int(s.SoilingRatio)}}
}
