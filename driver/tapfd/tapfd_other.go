//go:build !linux

package tapfd

import (
	"fmt"
	"runtime"

	"github.com/m-lab/ustack/driver"
)

// TapDevice is unsupported outside Linux.
type TapDevice struct{}

// Open always fails on non-Linux platforms.
func Open(name string) (*TapDevice, error) {
	return nil, fmt.Errorf("tapfd: unsupported on %s", runtime.GOOS)
}

// Close is a no-op stub.
func (d *TapDevice) Close() error { return nil }

// SetLinkUp is a no-op stub.
func (d *TapDevice) SetLinkUp(up bool) {}

// Run is unreachable since Open always errors first.
func (d *TapDevice) Run(recv driver.Receiver) error {
	return fmt.Errorf("tapfd: unsupported on %s", runtime.GOOS)
}
