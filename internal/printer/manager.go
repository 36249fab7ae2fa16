// Package printer discovers Bluetooth receipt printers, keeps the single
// printer connection and delivers encoded receipts to it
package printer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/syncutil"
)

// State is the connection lifecycle of the Manager
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Recorder remembers which printer was last connected
type Recorder interface {
	RecordConnection(dev Device, kind Kind) error
	LastConnected() (Device, bool)
}

// Manager owns the one connected printer
type Manager struct {
	recorder       Recorder
	owner          Transport
	connected      *Device
	onChange       func(State, *Device)
	transports     []Transport
	connectTimeout time.Duration
	state          State
	mu             syncutil.RWMutex
	opMu           syncutil.Mutex
}

// NewManager creates a manager that tries transports in the given order
func NewManager(transports []Transport, recorder Recorder, connectTimeout time.Duration) *Manager {
	return &Manager{
		transports:     transports,
		recorder:       recorder,
		connectTimeout: connectTimeout,
	}
}

// OnStateChange sets a callback for connection state changes
func (m *Manager) OnStateChange(callback func(State, *Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// Transports returns the transports in priority order
func (m *Manager) Transports() []Transport {
	return m.transports
}

// Available reports whether any transport can reach hardware
func (m *Manager) Available() bool {
	for _, t := range m.transports {
		if t.Available() {
			return true
		}
	}
	return false
}

// Connect drops any current connection and tries each transport in order.
// The first transport to connect owns the device.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.disconnectAll()
	m.setState(StateConnecting, nil, nil)

	var errs []error
	tried := 0
	for _, t := range m.transports {
		if !t.Available() {
			continue
		}
		tried++

		cctx, cancel := m.connectContext(ctx)
		err := t.Connect(cctx, dev)
		cancel()
		if err == nil {
			m.setState(StateConnected, &dev, t)
			log.Info().Str("transport", string(t.Kind())).Str("address", dev.Address).
				Str("name", dev.Name).Msg("printer connected")
			if m.recorder != nil {
				if err := m.recorder.RecordConnection(dev, t.Kind()); err != nil {
					log.Warn().Err(err).Msg("failed to record connection")
				}
			}
			return nil
		}
		log.Warn().Err(err).Str("transport", string(t.Kind())).Str("address", dev.Address).
			Msg("transport connect failed")
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}

	m.setState(StateDisconnected, nil, nil)
	if tried == 0 {
		return newError(KindEnvironmentUnavailable, "connect", ErrUnavailable)
	}
	return newError(KindConnectionFailed, "connect "+dev.Address,
		fmt.Errorf("%w: %w", ErrConnectFailed, errors.Join(errs...)))
}

func (m *Manager) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.connectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.connectTimeout)
}

// IsPrinterReady is true when a device is recorded and its transport still
// reports a live link
func (m *Manager) IsPrinterReady() bool {
	m.mu.RLock()
	owner := m.owner
	connected := m.connected != nil
	m.mu.RUnlock()

	if !connected || owner == nil {
		return false
	}
	return owner.IsConnected()
}

// Disconnect closes both transports, ignoring their errors, and clears the
// connected device
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.disconnectAll()
	m.setState(StateDisconnected, nil, nil)
}

// MarkLost clears a device whose link was found dead and returns it
func (m *Manager) MarkLost() *Device {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	lost := m.connected
	owner := m.owner
	m.mu.RUnlock()

	if lost == nil {
		return nil
	}
	if owner != nil {
		if err := owner.Disconnect(); err != nil {
			log.Debug().Err(err).Str("transport", string(owner.Kind())).Msg("close after link loss")
		}
	}
	log.Warn().Str("address", lost.Address).Msg("printer link lost")
	m.setState(StateDisconnected, nil, nil)
	return lost
}

// Connected returns a copy of the connected device, or nil
func (m *Manager) Connected() *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connected == nil {
		return nil
	}
	d := *m.connected
	return &d
}

// Transport returns the transport owning the connection, or nil
func (m *Manager) Transport() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastConnected returns the remembered printer, if any
func (m *Manager) LastConnected() (Device, bool) {
	if m.recorder == nil {
		return Device{}, false
	}
	return m.recorder.LastConnected()
}

func (m *Manager) disconnectAll() {
	for _, t := range m.transports {
		if err := t.Disconnect(); err != nil {
			log.Debug().Err(err).Str("transport", string(t.Kind())).Msg("disconnect failed")
		}
	}
}

func (m *Manager) setState(state State, dev *Device, owner Transport) {
	m.mu.Lock()
	m.state = state
	m.connected = dev
	m.owner = owner
	callback := m.onChange
	m.mu.Unlock()

	if callback != nil {
		var d *Device
		if dev != nil {
			c := *dev
			d = &c
		}
		callback(state, d)
	}
}
