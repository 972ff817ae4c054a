// Package sensor provides raw tri-axial accelerometer samples.
//
// Every source reports codes in [0, ADCMax] relative to the same reference
// voltage, so the orientation estimator does not care where samples come from.
package sensor

import "fmt"

// RawSample is one reading per axis, full scale [0, 65535].
type RawSample struct {
	X, Y, Z uint16
}

func (s RawSample) String() string {
	return fmt.Sprintf("x=%d y=%d z=%d", s.X, s.Y, s.Z)
}

// Source produces a fresh sample each call. It gives no buffering guarantees.
type Source interface {
	ReadRaw() (RawSample, error)
	Close() error
}

// Encoder converts calibrated acceleration (g) back to raw codes. It is used
// by synthetic sources to produce realistic samples.
type Encoder interface {
	Encode(g [3]float64) RawSample
}
