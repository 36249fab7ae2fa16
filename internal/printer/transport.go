package printer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Kind names a transport family
type Kind string

const (
	KindClassic Kind = "classic"
	KindBLE     Kind = "ble"
)

// Payload carries both renderings of one receipt
type Payload struct {
	Text     string
	Commands [][]byte
}

// Transport is one way of reaching a printer. Hardware failures come back
// as errors or empty results and never as panics.
type Transport interface {
	Kind() Kind
	Available() bool
	ListPaired(ctx context.Context) []Device
	// Scan streams discovered devices until ctx ends or the stack stops.
	// The channel is always closed.
	Scan(ctx context.Context) <-chan Device
	Connect(ctx context.Context, dev Device) error
	Write(ctx context.Context, p Payload) error
	IsConnected() bool
	Disconnect() error
}

// guard runs fn and converts a panic from the hardware layer into an error
func guard(kind Kind, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("transport", string(kind)).
				Str("op", op).
				Str("stack", string(debug.Stack())).
				Msgf("recovered panic: %v", r)
			err = fmt.Errorf("%s %s: panic: %v", kind, op, r)
		}
	}()
	return fn()
}

// withContext runs fn and returns early when ctx ends, calling abort to
// unblock fn
func withContext(ctx context.Context, kind Kind, op string, fn func() error, abort func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- guard(kind, op, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if abort != nil {
			_ = guard(kind, op+" abort", func() error {
				abort()
				return nil
			})
		}
		return ctx.Err()
	}
}

// closedScan is returned by transports that cannot scan
func closedScan() <-chan Device {
	ch := make(chan Device)
	close(ch)
	return ch
}

// newPacer spaces consecutive writes at least d apart
func newPacer(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}
