// Package mocks holds testify mocks for the printer driver interfaces
package mocks

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/thereceipt/btprint/internal/printer"
)

// MockTransport is a mock implementation of printer.Transport using testify/mock
type MockTransport struct {
	mock.Mock
}

// NewMockTransport returns a mock reporting kind that is available unless
// told otherwise
func NewMockTransport(kind printer.Kind) *MockTransport {
	m := &MockTransport{}
	m.On("Kind").Return(kind).Maybe()
	return m
}

func (m *MockTransport) Kind() printer.Kind {
	args := m.Called()
	if kind, ok := args.Get(0).(printer.Kind); ok {
		return kind
	}
	return ""
}

func (m *MockTransport) Available() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) ListPaired(ctx context.Context) []printer.Device {
	args := m.Called(ctx)
	if devices, ok := args.Get(0).([]printer.Device); ok {
		return devices
	}
	return []printer.Device{}
}

// Scan returns the channel given to Return, or a closed one
func (m *MockTransport) Scan(ctx context.Context) <-chan printer.Device {
	args := m.Called(ctx)
	if ch, ok := args.Get(0).(<-chan printer.Device); ok {
		return ch
	}
	if ch, ok := args.Get(0).(chan printer.Device); ok {
		return ch
	}
	ch := make(chan printer.Device)
	close(ch)
	return ch
}

func (m *MockTransport) Connect(ctx context.Context, dev printer.Device) error {
	args := m.Called(ctx, dev)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockTransport) Write(ctx context.Context, p printer.Payload) error {
	args := m.Called(ctx, p)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

func (m *MockTransport) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) Disconnect() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

// MockNotifier records notifications
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(n printer.Notification) {
	m.Called(n)
}
