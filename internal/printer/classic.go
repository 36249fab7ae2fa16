package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/syncutil"
)

// Link is an open byte channel to a classic printer
type Link interface {
	io.Writer
	io.Closer
}

// ClassicStack is the platform side of the classic serial transport
type ClassicStack interface {
	Available() bool
	PairedDevices(ctx context.Context) ([]Device, error)
	// Discover reports devices found by an inquiry until ctx ends
	Discover(ctx context.Context, found func(Device)) error
	Dial(ctx context.Context, address string) (Link, error)
}

type ClassicOptions struct {
	// WriteDelay is the gap between consecutive command buffers
	WriteDelay time.Duration
	// TextMode sends the flattened text rendering as one write
	TextMode bool
}

// ClassicAdapter talks to printers over the serial port profile
type ClassicAdapter struct {
	stack ClassicStack
	link  Link
	opts  ClassicOptions
	// mu serializes connect, write and disconnect. linkMu guards the link
	// field alone so IsConnected never waits behind a paced write.
	mu     syncutil.Mutex
	linkMu syncutil.RWMutex
}

func NewClassicAdapter(stack ClassicStack, opts ClassicOptions) *ClassicAdapter {
	return &ClassicAdapter{
		stack: stack,
		opts:  opts,
	}
}

func (*ClassicAdapter) Kind() Kind {
	return KindClassic
}

func (a *ClassicAdapter) Available() bool {
	var ok bool
	_ = guard(KindClassic, "available", func() error {
		ok = a.stack != nil && a.stack.Available()
		return nil
	})
	return ok
}

// ListPaired returns OS paired devices, or nothing if the stack fails
func (a *ClassicAdapter) ListPaired(ctx context.Context) []Device {
	var devices []Device
	err := guard(KindClassic, "list paired", func() error {
		var err error
		devices, err = a.stack.PairedDevices(ctx)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("transport", string(KindClassic)).Msg("failed to list paired devices")
		return []Device{}
	}
	if devices == nil {
		devices = []Device{}
	}
	return devices
}

// Scan runs a classic inquiry until ctx ends
func (a *ClassicAdapter) Scan(ctx context.Context) <-chan Device {
	if !a.Available() {
		return closedScan()
	}

	out := make(chan Device)
	go func() {
		defer close(out)
		seen := make(map[string]struct{})
		err := guard(KindClassic, "scan", func() error {
			return a.stack.Discover(ctx, func(d Device) {
				if _, ok := seen[d.Key()]; ok {
					return
				}
				seen[d.Key()] = struct{}{}
				select {
				case out <- d:
				case <-ctx.Done():
				}
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Err(err).Str("transport", string(KindClassic)).Msg("inquiry ended")
		}
	}()
	return out
}

// Connect dials dev by address, replacing any open link
func (a *ClassicAdapter) Connect(ctx context.Context, dev Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closeLocked()

	var link Link
	err := guard(KindClassic, "connect", func() error {
		var err error
		link, err = a.stack.Dial(ctx, dev.Address)
		return err
	})
	if err != nil {
		log.Debug().Err(err).Str("transport", string(KindClassic)).
			Str("address", dev.Address).Msg("connect failed")
		return fmt.Errorf("classic connect %s: %w", dev.Address, err)
	}
	if link == nil {
		return fmt.Errorf("classic connect %s: %w", dev.Address, ErrConnectFailed)
	}

	a.setLink(link)
	log.Info().Str("transport", string(KindClassic)).Str("address", dev.Address).Msg("connected")
	return nil
}

// Write sends one buffer per call, spaced by the configured delay. In text
// mode the whole rendering goes out in a single write.
func (a *ClassicAdapter) Write(ctx context.Context, p Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.link == nil {
		return ErrNotConnected
	}

	err := guard(KindClassic, "write", func() error {
		if a.opts.TextMode {
			return writeLink(ctx, a.link, []byte(p.Text))
		}

		pacer := newPacer(a.opts.WriteDelay)
		for i, buf := range p.Commands {
			if err := pacer.Wait(ctx); err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
			if err := writeLink(ctx, a.link, buf); err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("transport", string(KindClassic)).Msg("write failed, dropping link")
		a.closeLocked()
		return fmt.Errorf("classic write: %w", err)
	}
	return nil
}

// IsConnected does not take the write lock, so it answers during a print
func (a *ClassicAdapter) IsConnected() bool {
	a.linkMu.RLock()
	link := a.link
	a.linkMu.RUnlock()

	if link == nil {
		return false
	}
	if p, ok := link.(interface{ Alive() bool }); ok {
		alive := false
		_ = guard(KindClassic, "alive", func() error {
			alive = p.Alive()
			return nil
		})
		return alive
	}
	return true
}

// Disconnect closes the link. State is cleared even when close fails.
func (a *ClassicAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *ClassicAdapter) closeLocked() error {
	if a.link == nil {
		return nil
	}
	link := a.link
	a.setLink(nil)
	return guard(KindClassic, "disconnect", link.Close)
}

// setLink must be called with mu held
func (a *ClassicAdapter) setLink(link Link) {
	a.linkMu.Lock()
	a.link = link
	a.linkMu.Unlock()
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// writeLink writes b, giving up when ctx ends. Links that support write
// deadlines get one from ctx; others are closed to unblock the writer.
func writeLink(ctx context.Context, w Link, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d, ok := w.(writeDeadliner); ok {
		if deadline, has := ctx.Deadline(); has {
			if err := d.SetWriteDeadline(deadline); err == nil {
				_, err := w.Write(b)
				return err
			}
		}
	}

	return withContext(ctx, KindClassic, "write", func() error {
		_, err := w.Write(b)
		return err
	}, func() {
		_ = w.Close()
	})
}
