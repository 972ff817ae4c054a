package control

import (
	"math"
	"time"
)

// Gains are the PID coefficients applied to roll error in degrees.
type Gains struct {
	Kp, Ki, Kd float64
}

// RollHold drives roll toward level with a PID loop. Unlike Quadratic it
// keeps state between ticks, so one instance serves exactly one loop.
//
// Not safe for concurrent use.
type RollHold struct {
	gains      Gains
	limitDeg   float64
	neutralDeg float64
	dtSec      float64

	integral float64
	lastErr  float64
	primed   bool
}

// NewRollHold returns a RollHold that assumes a fixed tick of dt.
func NewRollHold(g Gains, maxDeflectionDeg, neutralDeg float64, dt time.Duration) *RollHold {
	return &RollHold{
		gains:      g,
		limitDeg:   math.Abs(maxDeflectionDeg),
		neutralDeg: neutralDeg,
		dtSec:      dt.Seconds(),
	}
}

func (h *RollHold) Command(rollDeg, trimDeg float64) float64 {
	return h.neutralDeg + h.deflection(-(rollDeg + trimDeg))
}

// deflection maps a roll error to a signed aileron deflection within
// +/-limitDeg. The integral only accumulates while the output is
// unsaturated, so a sustained bank does not wind it up.
func (h *RollHold) deflection(errDeg float64) float64 {
	if h.dtSec <= 0 {
		return 0
	}
	var rate float64
	if h.primed {
		rate = (errDeg - h.lastErr) / h.dtSec
	}
	h.lastErr, h.primed = errDeg, true

	next := h.integral + errDeg*h.dtSec
	out := h.gains.Kp*errDeg + h.gains.Ki*next + h.gains.Kd*rate
	if out > h.limitDeg {
		return h.limitDeg
	}
	if out < -h.limitDeg {
		return -h.limitDeg
	}
	h.integral = next
	return out
}

// Reset clears accumulated integral and derivative history.
func (h *RollHold) Reset() {
	h.integral, h.lastErr, h.primed = 0, 0, false
}
