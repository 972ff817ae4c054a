//go:build linux

package servo

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Rail is a GPIO line switching the servo power supply (a MOSFET or the
// enable pin of a BEC). It is driven high while open.
type Rail struct {
	line *gpiocdev.Line
}

// OpenRail locates BCM GPIO pin by its line name ("GPIO<n>" on Pi kernels),
// whichever gpiochip exposes it, and drives it high.
func OpenRail(pin int) (*Rail, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("servo: invalid rail gpio %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, fmt.Errorf("servo: rail line %s: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("wingleveler-rail"))
	if err != nil {
		return nil, fmt.Errorf("servo: request rail %s on %s: %w", name, chip, err)
	}
	return &Rail{line: line}, nil
}

// Close switches the rail off and releases the line.
func (r *Rail) Close() error {
	if r == nil || r.line == nil {
		return nil
	}
	_ = r.line.SetValue(0)
	err := r.line.Close()
	r.line = nil
	return err
}
