// Package servo drives hobby servos (SG90 class) from angle commands.
//
// Each Channel owns its own filter pipeline and PWM peripheral. Nothing is
// shared between channels.
package servo

import (
	"errors"
	"fmt"
	"math"

	"wingleveler/internal/filter"
)

const (
	MinAngle     = 0.0
	MaxAngle     = 180.0
	NeutralAngle = 90.0
)

// ErrReleased is returned when a channel is driven after Release.
var ErrReleased = errors.New("servo: channel released")

// Peripheral is one PWM output. Duty is a 16-bit fraction of the period.
type Peripheral interface {
	SetDuty(duty uint16) error
	Release() error
}

type ChannelConfig struct {
	Name string
	// MinDuty and MaxDuty are the duty values for 0 and 180 degrees.
	MinDuty uint16
	MaxDuty uint16
	// Reverse mirrors the command (angle becomes 180-angle) for servos
	// mounted the other way round.
	Reverse bool
}

// Channel maps angles to duty through a private filter pipeline.
//
// Not safe for concurrent use.
type Channel struct {
	cfg    ChannelConfig
	pipe   *filter.Pipeline
	periph Peripheral

	currentDuty uint16
	haveDuty    bool
	filtered    float64
	released    bool
}

func NewChannel(cfg ChannelConfig, pipe *filter.Pipeline, periph Peripheral) (*Channel, error) {
	if cfg.MinDuty >= cfg.MaxDuty {
		return nil, fmt.Errorf("servo: %s: min_duty %d must be below max_duty %d", cfg.Name, cfg.MinDuty, cfg.MaxDuty)
	}
	if pipe == nil {
		return nil, fmt.Errorf("servo: %s: pipeline is nil", cfg.Name)
	}
	if periph == nil {
		return nil, fmt.Errorf("servo: %s: peripheral is nil", cfg.Name)
	}
	return &Channel{cfg: cfg, pipe: pipe, periph: periph}, nil
}

func (c *Channel) Name() string { return c.cfg.Name }

// SetAngle clamps angle to [0,180], runs it through the channel filter and
// writes the resulting duty.
func (c *Channel) SetAngle(angle float64) error {
	if c.released {
		return ErrReleased
	}
	if c.cfg.Reverse {
		angle = MaxAngle - angle
	}
	angle = clampAngle(angle)

	c.pipe.Add(angle)
	f := c.pipe.Value()
	c.filtered = f
	return c.write(c.Duty(f))
}

// ForceAngle writes angle directly, bypassing the filter. It is meant for
// fail-safe positioning where smoothing would delay the move.
func (c *Channel) ForceAngle(angle float64) error {
	if c.released {
		return ErrReleased
	}
	if c.cfg.Reverse {
		angle = MaxAngle - angle
	}
	return c.write(c.Duty(clampAngle(angle)))
}

// Duty maps an angle in [0,180] linearly onto [MinDuty, MaxDuty], truncating
// toward zero.
func (c *Channel) Duty(angle float64) uint16 {
	span := float64(c.cfg.MaxDuty) - float64(c.cfg.MinDuty)
	return uint16(float64(c.cfg.MinDuty) + span*(angle/MaxAngle))
}

// CurrentDuty is the last duty successfully written. ok is false before the
// first write.
func (c *Channel) CurrentDuty() (duty uint16, ok bool) { return c.currentDuty, c.haveDuty }

// Filtered is the most recent output of the channel filter.
func (c *Channel) Filtered() float64 { return c.filtered }

func (c *Channel) Pipeline() *filter.Pipeline { return c.pipe }

// Release stops driving the pin. Further SetAngle calls return ErrReleased.
func (c *Channel) Release() error {
	if c.released {
		return nil
	}
	c.released = true
	if err := c.periph.Release(); err != nil {
		return fmt.Errorf("servo: %s: release: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *Channel) write(duty uint16) error {
	if err := c.periph.SetDuty(duty); err != nil {
		return fmt.Errorf("servo: %s: set duty %d: %w", c.cfg.Name, duty, err)
	}
	c.currentDuty = duty
	c.haveDuty = true
	return nil
}

func clampAngle(v float64) float64 {
	if v < MinAngle || math.IsNaN(v) {
		return MinAngle
	}
	if v > MaxAngle {
		return MaxAngle
	}
	return v
}
