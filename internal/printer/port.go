package printer

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// darwin lists non-printer ports next to bound Bluetooth ones
var darwinSkipPatterns = []string{
	"Bluetooth-Incoming-Port", "debug-console", "usbserial", "usbmodem", "wlan", "Modem",
}

// isPortAddress reports whether address names a serial port rather than a MAC
func isPortAddress(address string) bool {
	return strings.HasPrefix(address, "/dev/") ||
		strings.HasPrefix(strings.ToUpper(address), "COM") ||
		strings.HasPrefix(address, `\\.\`)
}

// isBoundBluetoothPort reports whether path is a serial port backed by a
// paired Bluetooth device on goos
func isBoundBluetoothPort(goos, path string) bool {
	switch goos {
	case "linux":
		return strings.HasPrefix(path, "/dev/rfcomm")
	case "darwin":
		if !strings.HasPrefix(path, "/dev/cu.") {
			return false
		}
		for _, pattern := range darwinSkipPatterns {
			if strings.Contains(path, pattern) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// boundPorts lists serial ports bound to paired Bluetooth printers
func boundPorts() ([]Device, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	devices := make([]Device, 0, len(ports))
	for _, p := range ports {
		if !isBoundBluetoothPort(runtime.GOOS, p) {
			continue
		}
		devices = append(devices, Device{
			ID:      p,
			Name:    strings.TrimPrefix(filepath.Base(p), "cu."),
			Address: p,
		})
	}
	return devices, nil
}

// dialPort opens a bound serial port
func dialPort(path string, baud int) (Link, error) {
	if baud == 0 {
		baud = 9600
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name: path,
		Baud: baud,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}
