//go:build linux

package printer

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// NewSystemCentral opens the default HCI device
func NewSystemCentral() (*SystemCentral, error) {
	d, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("can't create ble device: %w", err)
	}
	ble.SetDefaultDevice(d)
	return &SystemCentral{dev: d}, nil
}
