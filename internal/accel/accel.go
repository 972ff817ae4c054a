// Package accel turns raw analog accelerometer codes into calibrated
// acceleration and a roll/pitch attitude estimate.
package accel

import (
	"math"

	"wingleveler/internal/sensor"
)

// Calibration is the affine transform from ADC code to g. It is immutable
// configuration; pass it by value.
type Calibration struct {
	ADCMax       float64
	VRef         float64
	ZeroGVoltage float64
	// Sensitivity in volts per g.
	Sensitivity float64
}

// DefaultCalibration matches a GY-61 (ADXL335) powered at 3.3 V.
func DefaultCalibration() Calibration {
	return Calibration{
		ADCMax:       65535,
		VRef:         3.3,
		ZeroGVoltage: 1.65,
		Sensitivity:  0.33,
	}
}

// ToG converts one axis code to acceleration in g.
func (c Calibration) ToG(code uint16) float64 {
	v := float64(code) / c.ADCMax * c.VRef
	return (v - c.ZeroGVoltage) / c.Sensitivity
}

// Encode is the inverse of ToG applied per axis. Values outside the code
// range are clamped.
func (c Calibration) Encode(g [3]float64) sensor.RawSample {
	var out [3]uint16
	for i, a := range g {
		v := a*c.Sensitivity + c.ZeroGVoltage
		code := math.Round(v / c.VRef * c.ADCMax)
		switch {
		case math.IsNaN(code) || code < 0:
			code = 0
		case code > c.ADCMax:
			code = c.ADCMax
		}
		out[i] = uint16(code)
	}
	return sensor.RawSample{X: out[0], Y: out[1], Z: out[2]}
}

// Orientation is the attitude derived from a single sample.
type Orientation struct {
	// Accel is the calibrated acceleration in g (x, y, z).
	Accel    [3]float64
	RollDeg  float64
	PitchDeg float64
	// Up is Accel scaled to unit length, or the zero vector when Accel is zero.
	Up [3]float64
}

// Estimate derives orientation from raw codes. It has no state and never fails.
func (c Calibration) Estimate(raw sensor.RawSample) Orientation {
	g := [3]float64{c.ToG(raw.X), c.ToG(raw.Y), c.ToG(raw.Z)}
	roll, pitch := RollPitch(g)
	return Orientation{
		Accel:    g,
		RollDeg:  roll,
		PitchDeg: pitch,
		Up:       Normalize(g),
	}
}

// Estimate is Calibration.Estimate as a free function.
func Estimate(c Calibration, raw sensor.RawSample) Orientation {
	return c.Estimate(raw)
}

// RollPitch returns roll and pitch in degrees. Roll takes y as numerator and
// pitch takes x; this follows the sensor mounting and swapping them inverts
// the control sense.
func RollPitch(g [3]float64) (rollDeg, pitchDeg float64) {
	x, y, z := g[0], g[1], g[2]
	rollDeg = math.Atan2(y, math.Sqrt(x*x+z*z)) * 180 / math.Pi
	pitchDeg = math.Atan2(x, math.Sqrt(y*y+z*z)) * 180 / math.Pi
	return rollDeg, pitchDeg
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Normalize returns v with unit length. A zero vector stays zero.
func Normalize(v [3]float64) [3]float64 {
	n := norm3(v)
	if n == 0 {
		return [3]float64{}
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}
