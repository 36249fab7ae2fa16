package printer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Monitor periodically checks that the connected printer is still reachable
type Monitor struct {
	service  *Service
	clock    clockwork.Clock
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration
}

// NewMonitor creates a link monitor. A zero interval falls back to 5 seconds.
func NewMonitor(service *Service, interval time.Duration, clock clockwork.Clock) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Monitor{
		service:  service,
		clock:    clock,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins checking the link in the background
func (m *Monitor) Start() {
	ticker := m.clock.NewTicker(m.interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.Chan():
				if m.service.CheckLink() {
					log.Info().Msg("link monitor cleared lost printer")
				}
			}
		}
	}()
}

// Stop stops the monitor and waits for it to exit
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}
