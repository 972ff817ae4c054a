// Package display shows flight data on a small character display.
//
// Coordinates passed to WriteTextAt are text cells (column, row), not pixels.
package display

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Display interface {
	Clear() error
	WriteTextAt(x, y int, text string) error
	Close() error
}

const (
	DriverPCD8544 = "pcd8544"
	DriverLog     = "log"
)

type Config struct {
	// Driver is "pcd8544" (Nokia 5110 over SPI) or "log".
	Driver string

	SPIDevice  string
	SPISpeedHz uint32
	// GPIOChip holds the DC and RST lines, e.g. "gpiochip0".
	GPIOChip string
	DCPin    int
	RSTPin   int
	Contrast uint8
	// Font is "basic" (7x13 bitmap) or "gomono" (TrueType).
	Font string
}

var openPCD8544Fn = openPCD8544

// Open returns the display named by cfg.Driver.
func Open(cfg Config, logger *slog.Logger) (Display, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverPCD8544:
		d, err := openPCD8544Fn(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("display opened", "driver", DriverPCD8544, "spi", cfg.SPIDevice, "font", cfg.Font)
		return d, nil
	case DriverLog:
		return NewLogDisplay(logger), nil
	default:
		return nil, fmt.Errorf("display: unknown driver %q", cfg.Driver)
	}
}

// LogDisplay keeps a text grid in memory and logs each row that changes.
type LogDisplay struct {
	log  *slog.Logger
	rows [Rows]string
}

func NewLogDisplay(logger *slog.Logger) *LogDisplay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogDisplay{log: logger}
}

func (d *LogDisplay) Clear() error {
	d.rows = [Rows]string{}
	return nil
}

func (d *LogDisplay) WriteTextAt(x, y int, text string) error {
	if x < 0 || x >= Columns || y < 0 || y >= Rows {
		return fmt.Errorf("display: cell (%d,%d) outside %dx%d grid", x, y, Columns, Rows)
	}
	rs := []rune(text)
	if n := Columns - x; len(rs) > n {
		rs = rs[:n]
	}
	row := []rune(d.rows[y])
	for len(row) < x+len(rs) {
		row = append(row, ' ')
	}
	copy(row[x:], rs)
	line := string(row)
	if line != d.rows[y] {
		d.log.Debug("display", "row", y, "text", line)
	}
	d.rows[y] = line
	return nil
}

// Row returns the current text of row y.
func (d *LogDisplay) Row(y int) string {
	if y < 0 || y >= Rows {
		return ""
	}
	return d.rows[y]
}

func (d *LogDisplay) Close() error { return nil }
