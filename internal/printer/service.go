package printer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/thereceipt/btprint/internal/renderer"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

// NotificationKind is the tone of a user-facing message
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyInfo    NotificationKind = "info"
	NotifyError   NotificationKind = "error"
)

// Notification is a short user-facing message. Retry is set when the user
// should be offered to print again.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	Error   string           `json:"error,omitempty"`
	Retry   bool             `json:"retry"`
}

// Notifier delivers notifications to whoever is watching
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type ServiceOptions struct {
	Store        receiptformat.Store
	ScanDuration time.Duration
	WriteTimeout time.Duration
}

// Service is the entry point for printing receipts and picking printers
type Service struct {
	manager   *Manager
	discovery *Discovery
	encoder   *renderer.Encoder
	notifier  Notifier
	sem       *semaphore.Weighted
	opts      ServiceOptions
}

func NewService(
	manager *Manager,
	discovery *Discovery,
	encoder *renderer.Encoder,
	notifier Notifier,
	opts ServiceOptions,
) *Service {
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 20 * time.Second
	}
	return &Service{
		manager:   manager,
		discovery: discovery,
		encoder:   encoder,
		notifier:  notifier,
		sem:       semaphore.NewWeighted(1),
		opts:      opts,
	}
}

func (s *Service) Manager() *Manager {
	return s.manager
}

func (s *Service) Encoder() *renderer.Encoder {
	return s.encoder
}

// Available reports whether Bluetooth hardware can be reached at all
func (s *Service) Available() bool {
	return s.manager.Available()
}

// PrintReceipt prints doc and reports whether the bytes reached a printer.
// Failures have already been reported through the notifier.
func (s *Service) PrintReceipt(ctx context.Context, doc *receiptformat.Receipt) bool {
	return s.PrintReceiptErr(ctx, doc) == nil
}

// PrintReceiptErr is PrintReceipt returning the classified failure
func (s *Service) PrintReceiptErr(ctx context.Context, doc *receiptformat.Receipt) error {
	if !s.Available() {
		err := newError(KindEnvironmentUnavailable, "print", ErrUnavailable)
		s.fail(err)
		return err
	}

	// one print at a time, later callers wait their turn
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for printer: %w", err)
	}
	defer s.sem.Release(1)

	if err := s.ensureConnection(ctx); err != nil {
		s.fail(err)
		return err
	}

	filled := s.fill(doc)
	payload := Payload{
		Commands: s.encoder.Encode(filled),
		Text:     s.encoder.PlainText(filled),
	}

	if err := s.deliver(ctx, payload); err != nil {
		s.manager.MarkLost()
		s.fail(err)
		return err
	}

	log.Info().Str("transaction", filled.TransactionID).Msg("receipt printed")
	s.notifier.Notify(Notification{
		Kind:    NotifySuccess,
		Message: "Receipt printed",
	})
	return nil
}

// fill applies the configured store header to blank store fields
func (s *Service) fill(doc *receiptformat.Receipt) *receiptformat.Receipt {
	var filled receiptformat.Receipt
	if doc != nil {
		filled = *doc
	}
	filled = filled.WithStore(s.opts.Store)
	return &filled
}

// ensureConnection brings the manager to a ready state. A stale link is
// reconnected first; failing that, or with nothing recorded, a printer is
// discovered.
func (s *Service) ensureConnection(ctx context.Context) error {
	dev := s.manager.Connected()
	if dev != nil {
		if s.manager.IsPrinterReady() {
			return nil
		}

		log.Info().Str("address", dev.Address).Msg("printer link stale, reconnecting")
		s.manager.MarkLost()
		err := s.manager.Connect(ctx, *dev)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return newError(KindStaleLink, "reconnect", fmt.Errorf("%w: %w", ErrStaleLink, ctx.Err()))
		}
		log.Warn().Err(err).Msg("reconnect failed, rediscovering")
	}

	return s.connectDiscovered(ctx)
}

func (s *Service) connectDiscovered(ctx context.Context) error {
	paired := s.discovery.Paired(ctx)
	if len(paired) > 0 {
		target := paired[0]
		if last, ok := s.manager.LastConnected(); ok {
			for _, d := range paired {
				if d.Key() == last.Key() {
					target = d
					break
				}
			}
		}
		return s.manager.Connect(ctx, target)
	}

	s.notifier.Notify(Notification{
		Kind:    NotifyInfo,
		Message: "Searching for printers",
	})
	scanned := s.discovery.Discover(ctx, s.opts.ScanDuration)
	if len(scanned) == 0 {
		return newError(KindDiscoveryFailed, "discover", ErrNoPrinter)
	}
	return s.manager.Connect(ctx, scanned[0])
}

// deliver writes p on each connected transport in priority order until one
// succeeds
func (s *Service) deliver(ctx context.Context, p Payload) error {
	var errs []error
	for _, t := range s.manager.Transports() {
		if !t.IsConnected() {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		err := t.Write(wctx, p)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("transport", string(t.Kind())).Msg("receipt write failed")
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		errs = append(errs, ErrNotConnected)
	}
	return newError(KindWriteFailed, "print", fmt.Errorf("%w: %w", ErrWriteFailed, errors.Join(errs...)))
}

func (s *Service) fail(err error) {
	kind := KindOf(err)
	msg := err.Error()
	switch kind {
	case KindEnvironmentUnavailable:
		msg = "Bluetooth printing is not available on this device"
	case KindDiscoveryFailed:
		msg = "No printer found. Turn the printer on and put it in pairing mode"
	case KindConnectionFailed, KindStaleLink:
		msg = "Could not connect to the printer"
	case KindWriteFailed:
		msg = "Failed to print receipt"
	}
	log.Error().Err(err).Str("kind", kind.String()).Msg("print failed")
	s.notifier.Notify(Notification{
		Kind:    NotifyError,
		Message: msg,
		Error:   kind.String(),
		Retry:   kind.Retryable(),
	})
}

// ScanForPrinters runs a discovery, returning nothing when Bluetooth is
// unavailable
func (s *Service) ScanForPrinters(ctx context.Context, duration time.Duration) []Device {
	if !s.Available() {
		return []Device{}
	}
	if duration <= 0 {
		duration = s.opts.ScanDuration
	}
	return s.discovery.Discover(ctx, duration)
}

func (s *Service) GetPairedPrinters(ctx context.Context) []Device {
	if !s.Available() {
		return []Device{}
	}
	return s.discovery.Paired(ctx)
}

func (s *Service) ConnectToPrinter(ctx context.Context, dev Device) bool {
	return s.ConnectToPrinterErr(ctx, dev) == nil
}

// ConnectToPrinterErr connects dev, waiting for any print in progress
func (s *Service) ConnectToPrinterErr(ctx context.Context, dev Device) error {
	if !s.Available() {
		return newError(KindEnvironmentUnavailable, "connect", ErrUnavailable)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for printer: %w", err)
	}
	defer s.sem.Release(1)
	return s.manager.Connect(ctx, dev)
}

func (s *Service) GetConnectedDevice() *Device {
	return s.manager.Connected()
}

func (s *Service) CancelScan() {
	s.discovery.Cancel()
}

func (s *Service) Scanning() bool {
	return s.discovery.Scanning()
}

func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// Preview returns the plain text rendering of doc
func (s *Service) Preview(doc *receiptformat.Receipt) string {
	return s.encoder.PlainText(s.fill(doc))
}

// CheckLink marks a dead link as lost. It does nothing while a print or
// connect holds the printer and reports whether a loss was found.
func (s *Service) CheckLink() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	defer s.sem.Release(1)

	if s.manager.Connected() == nil || s.manager.IsPrinterReady() {
		return false
	}
	lost := s.manager.MarkLost()
	if lost == nil {
		return false
	}
	s.notifier.Notify(Notification{
		Kind:    NotifyError,
		Message: "Printer disconnected: " + lost.String(),
		Error:   KindStaleLink.String(),
	})
	return true
}
