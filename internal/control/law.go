// Package control maps an estimated roll angle to a servo angle command.
package control

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Law computes a servo angle (degrees, before actuator clamping) from the
// estimated roll and the configured trim.
type Law interface {
	Command(rollDeg, trimDeg float64) float64
}

// Quadratic is a stateless gain curve: amplitude = |r| + r²/GainDivisor with
// r = roll + trim, limited to MaxDeflectionDeg.
type Quadratic struct {
	GainDivisor      float64
	MaxDeflectionDeg float64
	NeutralDeg       float64
}

func DefaultQuadratic() Quadratic {
	return Quadratic{GainDivisor: 10, MaxDeflectionDeg: 90, NeutralDeg: 90}
}

func (q Quadratic) Command(rollDeg, trimDeg float64) float64 {
	r := rollDeg + trimDeg
	amp := math.Abs(r) + r*r/q.GainDivisor
	if amp > q.MaxDeflectionDeg {
		amp = q.MaxDeflectionDeg
	}
	// Zero roll takes the additive branch.
	if r > 0 {
		return q.NeutralDeg - amp
	}
	return q.NeutralDeg + amp
}

const (
	ModeQuadratic = "quadratic"
	ModePID       = "pid"
)

// Config selects and parameterizes a Law.
type Config struct {
	Mode             string
	GainDivisor      float64
	MaxDeflectionDeg float64
	NeutralDeg       float64

	Kp, Ki, Kd float64
	// Interval is the control tick period, used as the PID time step.
	Interval time.Duration
}

// New builds the law named by cfg.Mode. An empty mode means quadratic.
func New(cfg Config) (Law, error) {
	if cfg.MaxDeflectionDeg <= 0 {
		return nil, fmt.Errorf("control: max deflection must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeQuadratic:
		if cfg.GainDivisor <= 0 {
			return nil, fmt.Errorf("control: gain divisor must be > 0")
		}
		return Quadratic{
			GainDivisor:      cfg.GainDivisor,
			MaxDeflectionDeg: cfg.MaxDeflectionDeg,
			NeutralDeg:       cfg.NeutralDeg,
		}, nil
	case ModePID:
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("control: pid needs a positive interval")
		}
		return NewRollHold(Gains{Kp: cfg.Kp, Ki: cfg.Ki, Kd: cfg.Kd}, cfg.MaxDeflectionDeg, cfg.NeutralDeg, cfg.Interval), nil
	default:
		return nil, fmt.Errorf("control: unknown mode %q", cfg.Mode)
	}
}
