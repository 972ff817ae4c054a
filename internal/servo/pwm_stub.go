//go:build !linux

package servo

import "fmt"

func openPWM(chip, channel, hz int) (Peripheral, error) {
	return nil, fmt.Errorf("pwm unsupported on this platform")
}
