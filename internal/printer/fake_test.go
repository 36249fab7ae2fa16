package printer

import (
	"context"
	"errors"
	"sync"
)

// fakeTransport is a scripted Transport for discovery tests
type fakeTransport struct {
	kind      Kind
	paired    []Device
	scan      []Device
	available bool
	// pairedHangs makes ListPaired block until its ctx ends
	pairedHangs bool
	mu          sync.Mutex
	drained     bool
}

func (f *fakeTransport) Kind() Kind { return f.kind }
func (f *fakeTransport) Available() bool { return f.available }
func (f *fakeTransport) ListPaired(ctx context.Context) []Device {
	if f.pairedHangs {
		<-ctx.Done()
		return nil
	}
	return f.paired
}

// Scan emits the scripted devices then holds the scan open until ctx ends
func (f *fakeTransport) Scan(ctx context.Context) <-chan Device {
	out := make(chan Device)
	go func() {
		defer close(out)
		for _, d := range f.scan {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
		f.mu.Lock()
		f.drained = true
		f.mu.Unlock()
		<-ctx.Done()
	}()
	return out
}

func (f *fakeTransport) isDrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drained
}

func (*fakeTransport) Connect(context.Context, Device) error { return errors.New("not scripted") }
func (*fakeTransport) Write(context.Context, Payload) error { return errors.New("not scripted") }
func (*fakeTransport) IsConnected() bool { return false }
func (*fakeTransport) Disconnect() error { return nil }

// fakeLink records classic writes
type fakeLink struct {
	writeErr error
	// block holds every write until closed
	block   chan struct{}
	writes  [][]byte
	mu      sync.Mutex
	closed  bool
	blocked bool
}

func (l *fakeLink) Write(b []byte) (int, error) {
	if l.block != nil {
		l.mu.Lock()
		l.blocked = true
		l.mu.Unlock()
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	l.writes = append(l.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) isBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked
}

func (l *fakeLink) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// fakeClassicStack hands out fakeLink connections
type fakeClassicStack struct {
	dialErr   error
	link      *fakeLink
	pairedErr error
	dialPanic any
	paired    []Device
	found     []Device
	dialed    []string
}

func (*fakeClassicStack) Available() bool { return true }

func (s *fakeClassicStack) PairedDevices(context.Context) ([]Device, error) {
	if s.pairedErr != nil {
		return nil, s.pairedErr
	}
	return s.paired, nil
}

func (s *fakeClassicStack) Discover(ctx context.Context, found func(Device)) error {
	for _, d := range s.found {
		found(d)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeClassicStack) Dial(_ context.Context, address string) (Link, error) {
	if s.dialPanic != nil {
		panic(s.dialPanic)
	}
	s.dialed = append(s.dialed, address)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	if s.link == nil {
		s.link = &fakeLink{}
	}
	return s.link, nil
}

// fakeCentral scripts a BLE radio with one peripheral
type fakeCentral struct {
	dialErr error
	client  *fakeGATTClient
	adverts []Device
}

func (c *fakeCentral) Scan(ctx context.Context, found func(Device)) error {
	for _, d := range c.adverts {
		found(d)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeCentral) Dial(context.Context, string) (GATTClient, error) {
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	return c.client, nil
}

type bleWrite struct {
	char  string
	data  []byte
	noRsp bool
}

type fakeGATTClient struct {
	writePanic any
	block      chan struct{}
	lost       chan struct{}
	chars      []Characteristic
	writes     []bleWrite
	mtu        int
	mu         sync.Mutex
	closed     bool
	blocked    bool
}

func newFakeGATTClient(chars ...Characteristic) *fakeGATTClient {
	return &fakeGATTClient{chars: chars, lost: make(chan struct{})}
}

func (c *fakeGATTClient) Characteristics() ([]Characteristic, error) {
	return c.chars, nil
}

func (c *fakeGATTClient) ExchangeMTU(int) (int, error) {
	if c.mtu == 0 {
		return 0, errors.New("mtu exchange not supported")
	}
	return c.mtu, nil
}

func (c *fakeGATTClient) Write(ch Characteristic, b []byte, noRsp bool) error {
	if c.writePanic != nil {
		panic(c.writePanic)
	}
	if c.block != nil {
		c.mu.Lock()
		c.blocked = true
		c.mu.Unlock()
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, bleWrite{char: ch.UUID, data: append([]byte(nil), b...), noRsp: noRsp})
	return nil
}

func (c *fakeGATTClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeGATTClient) Disconnected() <-chan struct{} {
	return c.lost
}

func (c *fakeGATTClient) isBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}
