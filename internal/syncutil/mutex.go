//go:build !deadlock

// Package syncutil provides the mutexes used across the driver. Building with
// -tags deadlock swaps in a deadlock detector.
package syncutil

import "sync"

// DeadlockEnabled reports whether the deadlock detector is compiled in
const DeadlockEnabled = false

// Mutex is a mutual exclusion lock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock
type RWMutex struct {
	sync.RWMutex
}
