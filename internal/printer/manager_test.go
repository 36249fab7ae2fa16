package printer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/btprint/internal/printer"
	"github.com/thereceipt/btprint/internal/testing/mocks"
)

var kopiPrinter = printer.Device{ID: "66:22:AB:01:02:03", Name: "RPP02N", Address: "66:22:AB:01:02:03"}

func availableTransport(kind printer.Kind) *mocks.MockTransport {
	m := mocks.NewMockTransport(kind)
	m.On("Available").Return(true)
	m.On("Disconnect").Return(nil).Maybe()
	return m
}

type memoryRecorder struct {
	last  printer.Device
	kind  printer.Kind
	calls int
}

func (r *memoryRecorder) RecordConnection(dev printer.Device, kind printer.Kind) error {
	r.last = dev
	r.kind = kind
	r.calls++
	return nil
}

func (r *memoryRecorder) LastConnected() (printer.Device, bool) {
	return r.last, r.calls > 0
}

func TestManagerFallsBackToBLE(t *testing.T) {
	t.Parallel()

	classic := availableTransport(printer.KindClassic)
	classic.On("Connect", mock.Anything, kopiPrinter).Return(errors.New("connection refused"))
	ble := availableTransport(printer.KindBLE)
	ble.On("Connect", mock.Anything, kopiPrinter).Return(nil)
	ble.On("IsConnected").Return(true)

	rec := &memoryRecorder{}
	m := printer.NewManager([]printer.Transport{classic, ble}, rec, time.Second)

	var states []printer.State
	m.OnStateChange(func(s printer.State, _ *printer.Device) {
		states = append(states, s)
	})

	require.NoError(t, m.Connect(context.Background(), kopiPrinter))

	require.NotNil(t, m.Connected())
	assert.Equal(t, kopiPrinter, *m.Connected())
	assert.Equal(t, printer.StateConnected, m.State())
	assert.Equal(t, printer.KindBLE, m.Transport().Kind())
	assert.True(t, m.IsPrinterReady())
	assert.Equal(t, []printer.State{printer.StateConnecting, printer.StateConnected}, states)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, printer.KindBLE, rec.kind)

	classic.AssertCalled(t, "Connect", mock.Anything, kopiPrinter)
	ble.AssertCalled(t, "Connect", mock.Anything, kopiPrinter)
}

func TestManagerClassicFirst(t *testing.T) {
	t.Parallel()

	classic := availableTransport(printer.KindClassic)
	classic.On("Connect", mock.Anything, kopiPrinter).Return(nil)
	ble := availableTransport(printer.KindBLE)

	m := printer.NewManager([]printer.Transport{classic, ble}, nil, time.Second)
	require.NoError(t, m.Connect(context.Background(), kopiPrinter))

	assert.Equal(t, printer.KindClassic, m.Transport().Kind())
	ble.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestManagerBothTransportsFail(t *testing.T) {
	t.Parallel()

	classic := availableTransport(printer.KindClassic)
	classic.On("Connect", mock.Anything, kopiPrinter).Return(errors.New("refused"))
	ble := availableTransport(printer.KindBLE)
	ble.On("Connect", mock.Anything, kopiPrinter).Return(errors.New("timeout"))

	m := printer.NewManager([]printer.Transport{classic, ble}, nil, time.Second)
	err := m.Connect(context.Background(), kopiPrinter)

	require.ErrorIs(t, err, printer.ErrConnectFailed)
	assert.Equal(t, printer.KindConnectionFailed, printer.KindOf(err))
	assert.Nil(t, m.Connected())
	assert.Equal(t, printer.StateDisconnected, m.State())
	assert.False(t, m.IsPrinterReady())
}

func TestManagerNoAvailableTransport(t *testing.T) {
	t.Parallel()

	classic := mocks.NewMockTransport(printer.KindClassic)
	classic.On("Available").Return(false)
	classic.On("Disconnect").Return(nil).Maybe()

	m := printer.NewManager([]printer.Transport{classic}, nil, time.Second)
	err := m.Connect(context.Background(), kopiPrinter)

	require.ErrorIs(t, err, printer.ErrUnavailable)
	assert.Equal(t, printer.KindEnvironmentUnavailable, printer.KindOf(err))
	classic.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)
}

func TestManagerStaleLinkNotReady(t *testing.T) {
	t.Parallel()

	classic := availableTransport(printer.KindClassic)
	classic.On("Connect", mock.Anything, kopiPrinter).Return(nil)
	classic.On("IsConnected").Return(false)

	m := printer.NewManager([]printer.Transport{classic}, nil, time.Second)
	require.NoError(t, m.Connect(context.Background(), kopiPrinter))

	assert.NotNil(t, m.Connected())
	assert.False(t, m.IsPrinterReady())

	lost := m.MarkLost()
	require.NotNil(t, lost)
	assert.Equal(t, kopiPrinter.Address, lost.Address)
	assert.Nil(t, m.Connected())
	assert.Nil(t, m.MarkLost())
}

func TestManagerDisconnectSwallowsErrors(t *testing.T) {
	t.Parallel()

	classic := mocks.NewMockTransport(printer.KindClassic)
	classic.On("Available").Return(true)
	classic.On("Connect", mock.Anything, kopiPrinter).Return(nil)
	classic.On("Disconnect").Return(errors.New("already closed"))
	ble := mocks.NewMockTransport(printer.KindBLE)
	ble.On("Available").Return(true)
	ble.On("Disconnect").Return(errors.New("no adapter"))

	m := printer.NewManager([]printer.Transport{classic, ble}, nil, time.Second)
	require.NoError(t, m.Connect(context.Background(), kopiPrinter))

	m.Disconnect()

	assert.Nil(t, m.Connected())
	assert.Equal(t, printer.StateDisconnected, m.State())
	classic.AssertCalled(t, "Disconnect")
	ble.AssertCalled(t, "Disconnect")
}

func TestManagerConnectTimeout(t *testing.T) {
	t.Parallel()

	classic := availableTransport(printer.KindClassic)
	classic.On("Connect", mock.Anything, kopiPrinter).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		<-ctx.Done()
	}).Return(context.DeadlineExceeded)
	ble := availableTransport(printer.KindBLE)
	ble.On("Connect", mock.Anything, kopiPrinter).Return(nil)

	m := printer.NewManager([]printer.Transport{classic, ble}, nil, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Connect(context.Background(), kopiPrinter))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, printer.KindBLE, m.Transport().Kind())
}
