package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/syncutil"
)

// Characteristic is a GATT characteristic reported by a connected device.
// UUIDs are lower case 128-bit strings.
type Characteristic struct {
	ref             any
	Service         string
	UUID            string
	Write           bool
	WriteNoResponse bool
}

func (c Characteristic) Writable() bool {
	return c.Write || c.WriteNoResponse
}

// Central is the platform BLE radio
type Central interface {
	// Scan reports advertisements until ctx ends
	Scan(ctx context.Context, found func(Device)) error
	Dial(ctx context.Context, id string) (GATTClient, error)
}

// GATTClient is a connection to one BLE peripheral
type GATTClient interface {
	Characteristics() ([]Characteristic, error)
	// ExchangeMTU negotiates the ATT MTU and returns the agreed value
	ExchangeMTU(mtu int) (int, error)
	Write(c Characteristic, b []byte, noRsp bool) error
	Close() error
	Disconnected() <-chan struct{}
}

type BLEOptions struct {
	// PrinterServices are service or characteristic UUIDs preferred when
	// choosing where to write
	PrinterServices []string
	// DefaultMTU is the chunk size used when negotiation fails
	DefaultMTU int
	// RequestMTU is offered during MTU exchange, zero skips the exchange
	RequestMTU int
	ChunkDelay time.Duration
}

// attHeader is the ATT write request overhead
const attHeader = 3

// BLEAdapter talks to printers over a GATT write characteristic
type BLEAdapter struct {
	central Central
	client  GATTClient
	char    Characteristic
	opts    BLEOptions
	chunk   int
	// mu serializes connect, write and disconnect. linkMu guards client
	// alone so IsConnected never waits behind a chunked write.
	mu     syncutil.Mutex
	linkMu syncutil.RWMutex
}

func NewBLEAdapter(central Central, opts BLEOptions) *BLEAdapter {
	if opts.DefaultMTU <= 0 {
		opts.DefaultMTU = 20
	}
	return &BLEAdapter{
		central: central,
		opts:    opts,
	}
}

func (*BLEAdapter) Kind() Kind {
	return KindBLE
}

func (a *BLEAdapter) Available() bool {
	return a.central != nil
}

// ListPaired returns nothing; BLE printers are found by scanning
func (*BLEAdapter) ListPaired(context.Context) []Device {
	return []Device{}
}

// Scan streams named advertisers, each id once, until ctx ends
func (a *BLEAdapter) Scan(ctx context.Context) <-chan Device {
	if !a.Available() {
		return closedScan()
	}

	out := make(chan Device)
	go func() {
		defer close(out)
		seen := make(map[string]struct{})
		var mu syncutil.Mutex
		err := guard(KindBLE, "scan", func() error {
			return a.central.Scan(ctx, func(d Device) {
				if strings.TrimSpace(d.Name) == "" || d.ID == "" {
					return
				}
				if d.Address == "" {
					d.Address = d.ID
				}
				mu.Lock()
				_, dup := seen[d.ID]
				seen[d.ID] = struct{}{}
				mu.Unlock()
				if dup {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
				}
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Str("transport", string(KindBLE)).Msg("scan failed")
		}
	}()
	return out
}

// Connect dials dev by id and picks the characteristic receipts go to
func (a *BLEAdapter) Connect(ctx context.Context, dev Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Available() {
		return ErrUnavailable
	}
	a.closeLocked()

	id := dev.ID
	if id == "" {
		id = dev.Address
	}

	var client GATTClient
	err := guard(KindBLE, "connect", func() error {
		var err error
		client, err = a.central.Dial(ctx, id)
		return err
	})
	if err != nil {
		log.Debug().Err(err).Str("transport", string(KindBLE)).Str("id", id).Msg("connect failed")
		return fmt.Errorf("ble connect %s: %w", id, err)
	}
	if client == nil {
		return fmt.Errorf("ble connect %s: %w", id, ErrConnectFailed)
	}

	var chars []Characteristic
	err = guard(KindBLE, "discover", func() error {
		var err error
		chars, err = client.Characteristics()
		return err
	})
	if err != nil {
		_ = guard(KindBLE, "disconnect", client.Close)
		return fmt.Errorf("ble discover %s: %w", id, err)
	}

	char, ok := SelectCharacteristic(chars, a.opts.PrinterServices)
	if !ok {
		_ = guard(KindBLE, "disconnect", client.Close)
		return fmt.Errorf("ble connect %s: %w", id, ErrNoWritableCharacteristic)
	}

	a.setClient(client)
	a.char = char
	a.chunk = a.negotiateChunk(client)

	log.Info().
		Str("transport", string(KindBLE)).
		Str("id", id).
		Str("service", char.Service).
		Str("characteristic", char.UUID).
		Int("chunk", a.chunk).
		Msg("connected")
	return nil
}

func (a *BLEAdapter) negotiateChunk(client GATTClient) int {
	if a.opts.RequestMTU <= 0 {
		return a.opts.DefaultMTU
	}
	var mtu int
	err := guard(KindBLE, "exchange mtu", func() error {
		var err error
		mtu, err = client.ExchangeMTU(a.opts.RequestMTU)
		return err
	})
	if err != nil || mtu-attHeader <= a.opts.DefaultMTU {
		return a.opts.DefaultMTU
	}
	return mtu - attHeader
}

// Write sends the concatenated command buffers in chunks no larger than the
// negotiated transfer unit, pausing between chunks
func (a *BLEAdapter) Write(ctx context.Context, p Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return ErrNotConnected
	}

	data := bytes.Join(p.Commands, nil)
	if len(data) == 0 {
		data = []byte(p.Text)
	}

	client := a.client
	char := a.char
	noRsp := !char.Write
	pacer := newPacer(a.opts.ChunkDelay)

	for i, c := range Chunks(data, a.chunk) {
		if err := pacer.Wait(ctx); err != nil {
			return fmt.Errorf("ble write chunk %d: %w", i, err)
		}
		err := withContext(ctx, KindBLE, "write", func() error {
			return client.Write(char, c, noRsp)
		}, func() {
			_ = client.Close()
		})
		if err != nil {
			log.Warn().Err(err).Str("transport", string(KindBLE)).Int("chunk", i).Msg("write failed, dropping link")
			_ = a.closeLocked()
			return fmt.Errorf("ble write chunk %d: %w", i, err)
		}
	}
	return nil
}

// IsConnected does not take the write lock, so it answers during a print
func (a *BLEAdapter) IsConnected() bool {
	a.linkMu.RLock()
	client := a.client
	a.linkMu.RUnlock()

	if client == nil {
		return false
	}
	var lost bool
	_ = guard(KindBLE, "is connected", func() error {
		select {
		case <-client.Disconnected():
			lost = true
		default:
		}
		return nil
	})
	return !lost
}

func (a *BLEAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *BLEAdapter) closeLocked() error {
	if a.client == nil {
		return nil
	}
	client := a.client
	a.setClient(nil)
	a.char = Characteristic{}
	return guard(KindBLE, "disconnect", client.Close)
}

// setClient must be called with mu held
func (a *BLEAdapter) setClient(client GATTClient) {
	a.linkMu.Lock()
	a.client = client
	a.linkMu.Unlock()
}

// SelectCharacteristic returns the first writable characteristic on a
// preferred service, else the first writable characteristic anywhere
func SelectCharacteristic(chars []Characteristic, preferred []string) (Characteristic, bool) {
	pref := make(map[string]struct{}, len(preferred))
	for _, p := range preferred {
		pref[NormalizeUUID(p)] = struct{}{}
	}

	var fallback Characteristic
	haveFallback := false
	for _, c := range chars {
		if !c.Writable() {
			continue
		}
		_, svc := pref[NormalizeUUID(c.Service)]
		_, chr := pref[NormalizeUUID(c.UUID)]
		if svc || chr {
			return c, true
		}
		if !haveFallback {
			fallback = c
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

// Chunks splits data into consecutive slices of at most size bytes
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = 20
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID expands 16 and 32-bit UUIDs and returns the lower case
// dashed 128-bit form
func NormalizeUUID(s string) string {
	u := strings.ToLower(strings.Trim(s, "{}"))
	u = strings.ReplaceAll(u, "-", "")
	if strings.Trim(u, "0123456789abcdef") != "" {
		return strings.ToLower(s)
	}
	switch len(u) {
	case 4:
		u = "0000" + u + bluetoothBaseSuffix
	case 8:
		u += bluetoothBaseSuffix
	}
	if len(u) != 32 {
		return strings.ToLower(s)
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:]
}
