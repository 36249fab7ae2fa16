package printer

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnavailable              = errors.New("bluetooth printing is unavailable in this environment")
	ErrNoPrinter                = errors.New("no printer found, put the printer in pairing mode")
	ErrConnectFailed            = errors.New("could not connect to printer")
	ErrStaleLink                = errors.New("printer link lost")
	ErrWriteFailed              = errors.New("could not send receipt to printer")
	ErrNotConnected             = errors.New("printer not connected")
	ErrNoWritableCharacteristic = errors.New("no writable characteristic found")
)

// ErrorKind classifies driver failures for callers that present them to users
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindEnvironmentUnavailable
	KindDiscoveryFailed
	KindConnectionFailed
	KindStaleLink
	KindWriteFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindEnvironmentUnavailable:
		return "environment_unavailable"
	case KindDiscoveryFailed:
		return "discovery_failed"
	case KindConnectionFailed:
		return "connection_failed"
	case KindStaleLink:
		return "stale_link"
	case KindWriteFailed:
		return "write_failed"
	default:
		return "none"
	}
}

// Retryable reports whether the user should be offered a retry
func (k ErrorKind) Retryable() bool {
	return k != KindNone && k != KindEnvironmentUnavailable
}

// Error is a classified driver failure
type Error struct {
	Err  error
	Op   string
	Kind ErrorKind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, or KindNone
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, ErrUnavailable) {
		return KindEnvironmentUnavailable
	}
	return KindNone
}
