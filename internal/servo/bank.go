package servo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultFailSafeHold keeps the neutral pulse train running for a couple of
// dozen 20 ms frames so the servos reach neutral before the pins go idle.
const DefaultFailSafeHold = 500 * time.Millisecond

var sleep = time.Sleep

// Bank groups the channels of one airframe so they can be returned to
// neutral together when the control loop exits.
type Bank struct {
	log      *slog.Logger
	channels []*Channel
	rail     io.Closer
	hold     time.Duration
}

func NewBank(logger *slog.Logger, channels ...*Channel) *Bank {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bank{log: logger, channels: channels, hold: DefaultFailSafeHold}
}

// SetFailSafeHold sets how long neutral is driven before the channels are
// released. Zero releases immediately; negative values are treated as zero.
func (b *Bank) SetFailSafeHold(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.hold = d
}

// SetRail registers a servo power rail that is switched off after the
// channels are released.
func (b *Bank) SetRail(r io.Closer) { b.rail = r }

func (b *Bank) Channels() []*Channel { return b.channels }

// SetAll sends the same angle through every channel's filter.
func (b *Bank) SetAll(angle float64) error {
	var errs []error
	for _, ch := range b.channels {
		if err := ch.SetAngle(angle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Guard runs fn and then, whatever the outcome, forces every channel to the
// neutral angle, holds it there and releases it. A panic in fn is recovered
// and reported as an error after the fail-safe has run.
func (b *Bank) Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("servo: control loop panic: %v", r)
		}
		if err != nil {
			b.log.Error("control loop failed, forcing neutral", "err", err)
		}
		if ferr := b.failSafe(); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()
	return fn()
}

// failSafe writes neutral to every channel, keeps it driven for the hold
// time, then releases the channels and finally switches off the rail.
func (b *Bank) failSafe() error {
	var errs []error
	driven := false
	for _, ch := range b.channels {
		err := ch.ForceAngle(NeutralAngle)
		switch {
		case err == nil:
			driven = true
			duty, _ := ch.CurrentDuty()
			b.log.Info("servo neutral", "channel", ch.Name(), "duty", duty)
		case !errors.Is(err, ErrReleased):
			errs = append(errs, err)
		}
	}
	if driven && b.hold > 0 {
		sleep(b.hold)
	}
	for _, ch := range b.channels {
		if err := ch.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.rail != nil {
		if err := b.rail.Close(); err != nil {
			errs = append(errs, fmt.Errorf("servo: rail: %w", err))
		}
		b.rail = nil
	}
	return errors.Join(errs...)
}
