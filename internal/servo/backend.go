package servo

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var openPWMFn = openPWM

const (
	BackendSysfs = "sysfs"
	BackendLog   = "log"

	defaultFrequencyHz = 50
)

// PeripheralConfig selects the output behind a channel.
type PeripheralConfig struct {
	// Backend is "sysfs" (Linux /sys/class/pwm) or "log" (bench runs).
	Backend string
	// Chip is the pwmchipN index; negative means the first chip that has
	// the requested channel.
	Chip        int
	Channel     int
	FrequencyHz int
}

// Open returns the peripheral described by cfg.
func Open(name string, cfg PeripheralConfig, logger *slog.Logger) (Peripheral, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = defaultFrequencyHz
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSysfs:
		p, err := openPWMFn(cfg.Chip, cfg.Channel, cfg.FrequencyHz)
		if err != nil {
			return nil, fmt.Errorf("servo: %s: %w", name, err)
		}
		logger.Info("servo pwm opened", "channel", name, "pwm", cfg.Channel, "hz", cfg.FrequencyHz)
		return p, nil
	case BackendLog:
		return &LogPeripheral{name: name, log: logger}, nil
	default:
		return nil, fmt.Errorf("servo: %s: unknown backend %q", name, cfg.Backend)
	}
}

// LogPeripheral records duty writes to a logger instead of hardware.
type LogPeripheral struct {
	name     string
	log      *slog.Logger
	last     uint16
	released bool
}

func (p *LogPeripheral) SetDuty(duty uint16) error {
	if p.released {
		return ErrReleased
	}
	if duty != p.last {
		p.log.Debug("servo duty", "channel", p.name, "duty", duty)
	}
	p.last = duty
	return nil
}

func (p *LogPeripheral) Release() error {
	p.released = true
	p.log.Debug("servo released", "channel", p.name)
	return nil
}

// Last is the most recent duty written.
func (p *LogPeripheral) Last() uint16 { return p.last }
