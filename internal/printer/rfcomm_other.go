//go:build !linux

package printer

import (
	"context"
	"fmt"
)

func rfcommSupported() bool {
	return false
}

// dialRFCOMM is only available on linux; elsewhere paired printers are
// reached through their bound serial port.
func dialRFCOMM(_ context.Context, mac string, _ int) (Link, error) {
	return nil, fmt.Errorf("rfcomm connect %s: %w", mac, ErrUnavailable)
}
