//go:build linux

package display

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// spidev ioctls (linux/spi/spidev.h).
const (
	spiIocWrMode        = 0x40016b01
	spiIocWrBitsPerWord = 0x40016b03
	spiIocWrMaxSpeedHz  = 0x40046b04

	defaultSPIDevice  = "/dev/spidev0.0"
	defaultSPISpeedHz = 1_000_000
	defaultGPIOChip   = "gpiochip0"
	defaultDCPin      = 23
	defaultRSTPin     = 24
)

// spidev is a write-only /dev/spidevB.C handle. A plain write is a
// half-duplex transfer with chip select held for its duration.
type spidev struct {
	f *os.File
}

func openSPIDev(path string, speedHz uint32) (*spidev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", path, err)
	}
	mode := uint8(0) // CPOL=0, CPHA=0
	bits := uint8(8)
	for _, op := range []struct {
		req uintptr
		arg unsafe.Pointer
	}{
		{spiIocWrMode, unsafe.Pointer(&mode)},
		{spiIocWrBitsPerWord, unsafe.Pointer(&bits)},
		{spiIocWrMaxSpeedHz, unsafe.Pointer(&speedHz)},
	} {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), op.req, uintptr(op.arg)); errno != 0 {
			_ = f.Close()
			return nil, fmt.Errorf("spidev: configure %s: %w", path, errno)
		}
	}
	return &spidev{f: f}, nil
}

func (s *spidev) Tx(w []byte) error {
	if s.f == nil {
		return errors.New("spidev: closed")
	}
	_, err := s.f.Write(w)
	return err
}

func (s *spidev) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func openPCD8544(cfg Config) (Display, error) {
	if cfg.SPIDevice == "" {
		cfg.SPIDevice = defaultSPIDevice
	}
	if cfg.SPISpeedHz == 0 {
		cfg.SPISpeedHz = defaultSPISpeedHz
	}
	if cfg.GPIOChip == "" {
		cfg.GPIOChip = defaultGPIOChip
	}
	if cfg.DCPin == 0 {
		cfg.DCPin = defaultDCPin
	}
	if cfg.RSTPin == 0 {
		cfg.RSTPin = defaultRSTPin
	}

	frame, err := NewFrame(cfg.Font)
	if err != nil {
		return nil, err
	}
	spi, err := openSPIDev(cfg.SPIDevice, cfg.SPISpeedHz)
	if err != nil {
		return nil, err
	}
	dc, err := gpiocdev.RequestLine(cfg.GPIOChip, cfg.DCPin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("wingleveler-lcd-dc"))
	if err != nil {
		_ = spi.Close()
		return nil, fmt.Errorf("pcd8544: request dc line %d: %w", cfg.DCPin, err)
	}
	rst, err := gpiocdev.RequestLine(cfg.GPIOChip, cfg.RSTPin, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("wingleveler-lcd-rst"))
	if err != nil {
		_ = dc.Close()
		_ = spi.Close()
		return nil, fmt.Errorf("pcd8544: request rst line %d: %w", cfg.RSTPin, err)
	}

	d, err := newPCD8544(spi, dc, rst, frame, cfg.Contrast)
	if err != nil {
		_ = rst.Close()
		_ = dc.Close()
		_ = spi.Close()
		return nil, err
	}
	return d, nil
}
