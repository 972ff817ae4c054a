//go:build !linux

package display

import "fmt"

func openPCD8544(cfg Config) (Display, error) {
	return nil, fmt.Errorf("pcd8544: spidev unsupported on this platform")
}
