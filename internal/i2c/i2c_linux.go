//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// I2C_RDWR lets a register read go out as pointer write plus
// repeated-start read in one bus transaction, which the ADS1115 requires.
const (
	ioctlRdwr = 0x0707
	msgRead   = 0x0001
)

var errNotOpen = errors.New("i2c: device is not open")

// i2c_msg and i2c_rdwr_ioctl_data from linux/i2c-dev.h.
type message struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrRequest struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an open adapter such as /dev/i2c-1. Transfers are not serialized;
// callers that share a Bus across goroutines must coordinate.
type Bus struct {
	f    *os.File
	path string
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

// OpenIndex opens /dev/i2c-<n>.
func OpenIndex(n int) (*Bus, error) {
	return Open(fmt.Sprintf("/dev/i2c-%d", n))
}

func (b *Bus) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	f := b.f
	b.f = nil
	return f.Close()
}

// Dev returns a handle for the 7-bit address addr on this bus.
func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

// Dev is a register-addressed peripheral on a Bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

// ReadRegU16 reads a big-endian 16-bit register.
func (d *Dev) ReadRegU16(reg byte) (uint16, error) {
	ptr := [1]byte{reg}
	var val [2]byte
	if err := d.Tx(ptr[:], val[:]); err != nil {
		return 0, err
	}
	return uint16(val[0])<<8 | uint16(val[1]), nil
}

// WriteRegU16 writes a big-endian 16-bit register.
func (d *Dev) WriteRegU16(reg byte, v uint16) error {
	frame := [3]byte{reg, byte(v >> 8), byte(v)}
	return d.Tx(frame[:], nil)
}

// Tx writes w then reads into r with a repeated start. Either side may be
// empty; both empty is a no-op.
func (d *Dev) Tx(w, r []byte) error {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return errNotOpen
	}
	if d.addr == 0 || d.addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", d.addr)
	}

	var msgs [2]message
	n := 0
	if len(w) > 0 {
		msgs[n] = message{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = message{addr: d.addr, flags: msgRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	if n == 0 {
		return nil
	}

	req := rdwrRequest{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), ioctlRdwr, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("i2c: %s addr=0x%02X: %w", d.bus.path, d.addr, errno)
	}
	return nil
}
