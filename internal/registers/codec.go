package registers

import "math"

// Scale is the fixed-point factor applied to voltages, currents, frequency and power factor.
const Scale = 100

// Int truncates v toward zero and encodes it as a two's-complement 16-bit
// register, saturating at the int16 limits.
func Int(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	t := math.Trunc(v)
	if t > math.MaxInt16 {
		t = math.MaxInt16
	}
	if t < math.MinInt16 {
		t = math.MinInt16
	}
	return uint16(int16(t))
}

// Scaled encodes v×Scale.
func Scaled(v float64) uint16 {
	return Int(v * Scale)
}

// Signed decodes a two's-complement register.
func Signed(r uint16) float64 {
	return float64(int16(r))
}

// Unscaled decodes a register written with Scaled.
func Unscaled(r uint16) float64 {
	return Signed(r) / Scale
}
