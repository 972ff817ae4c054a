//go:build !linux

package i2c

import "errors"

var errUnsupported = errors.New("i2c: unsupported OS (need linux)")

type Bus struct{}

type Dev struct{}

func Open(path string) (*Bus, error) { return nil, errUnsupported }
func OpenIndex(n int) (*Bus, error)  { return nil, errUnsupported }

func (b *Bus) Path() string         { return "" }
func (b *Bus) Close() error         { return nil }
func (b *Bus) Dev(addr uint16) *Dev { return nil }

func (d *Dev) ReadRegU16(reg byte) (uint16, error)  { return 0, errUnsupported }
func (d *Dev) WriteRegU16(reg byte, v uint16) error { return errUnsupported }
func (d *Dev) Tx(w, r []byte) error                 { return errUnsupported }
