//go:build !linux

package servo

import "fmt"

type Rail struct{}

func OpenRail(pin int) (*Rail, error) {
	return nil, fmt.Errorf("servo: gpio rail unsupported on this platform")
}

func (r *Rail) Close() error { return nil }
