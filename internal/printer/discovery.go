package printer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thereceipt/btprint/internal/syncutil"
)

// Discovery merges paired and freshly scanned printers across transports
type Discovery struct {
	clock      clockwork.Clock
	cancel     context.CancelFunc
	transports []Transport
	duration   time.Duration
	scanID     uint64
	mu         syncutil.Mutex
}

// NewDiscovery creates a discovery over transports in priority order. A zero
// duration falls back to 20 seconds.
func NewDiscovery(transports []Transport, clock clockwork.Clock, duration time.Duration) *Discovery {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if duration <= 0 {
		duration = 20 * time.Second
	}
	return &Discovery{
		clock:      clock,
		transports: transports,
		duration:   duration,
	}
}

// Paired returns the merged paired lists of every available transport
func (d *Discovery) Paired(ctx context.Context) []Device {
	lists := make([][]Device, 0, len(d.transports))
	for _, t := range d.transports {
		if !t.Available() {
			continue
		}
		lists = append(lists, t.ListPaired(ctx))
	}
	return MergeDevices(lists...)
}

// Discover lists paired devices and scans on every available transport
// until duration elapses, Cancel is called or ctx ends. Paired entries come
// first and the first device seen for an address wins.
func (d *Discovery) Discover(ctx context.Context, duration time.Duration) []Device {
	if duration <= 0 {
		duration = d.duration
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.scanID++
	id := d.scanID
	d.cancel = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.scanID == id {
			d.cancel = nil
		}
		d.mu.Unlock()
	}()

	timer := d.clock.NewTimer(duration)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.Chan():
			log.Debug().Dur("duration", duration).Msg("scan duration elapsed")
			cancel()
		case <-scanCtx.Done():
		}
	}()

	paired := make([][]Device, len(d.transports))
	var scanned []Device
	var scannedMu syncutil.Mutex

	var g errgroup.Group
	for i, t := range d.transports {
		if !t.Available() {
			continue
		}
		g.Go(func() error {
			res := make(chan []Device, 1)
			go func() {
				res <- t.ListPaired(scanCtx)
			}()
			select {
			case paired[i] = <-res:
			case <-scanCtx.Done():
				select {
				case paired[i] = <-res:
				default:
					log.Debug().Str("transport", string(t.Kind())).Msg("paired query abandoned")
				}
			}
			return nil
		})
		g.Go(func() error {
			found := t.Scan(scanCtx)
			for {
				select {
				case dev, ok := <-found:
					if !ok {
						return nil
					}
					log.Debug().Str("transport", string(t.Kind())).
						Str("address", dev.Address).Str("name", dev.Name).Msg("found device")
					scannedMu.Lock()
					scanned = append(scanned, dev)
					scannedMu.Unlock()
				case <-scanCtx.Done():
					return nil
				}
			}
		})
	}
	_ = g.Wait()

	lists := append(paired, scanned)
	devices := MergeDevices(lists...)
	log.Info().Int("devices", len(devices)).Msg("discovery finished")
	return devices
}

// Cancel stops the scan in flight; Discover returns what it has so far
func (d *Discovery) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		log.Debug().Msg("cancelling scan")
		d.cancel()
	}
}

// Scanning reports whether a Discover call is in flight
func (d *Discovery) Scanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}
