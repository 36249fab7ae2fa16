//go:build deadlock

// Package syncutil provides the mutexes used across the driver. Building with
// -tags deadlock swaps in a deadlock detector.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled reports whether the deadlock detector is compiled in
const DeadlockEnabled = true

func init() {
	// scans and paced writes legitimately hold locks for tens of seconds
	deadlock.Opts.DeadlockTimeout = 90 * time.Second
}

// Mutex is a mutual exclusion lock
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock
type RWMutex struct {
	deadlock.RWMutex
}
