// Package lock provides the process-wide named lock used around every
// critical section: WithLock(name, timeout, fn) acquires, runs fn, and
// always releases — on success, on error, and on panic.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrBusy is returned when a lock could not be acquired within its
// timeout. Callers surface this as a BUSY error.
var ErrBusy = errors.New("lock: busy")

// Locker is the named-lock abstraction every allocation-affecting write
// path goes through. A single in-flight holder per name at a time.
type Locker interface {
	// WithLock tries to acquire name within timeout; on success it runs
	// fn and releases the lock on every exit path, including panics.
	// On timeout it returns ErrBusy without invoking fn.
	WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// pollInterval bounds how often TryLock implementations are polled while
// waiting for an in-flight holder to release.
const pollInterval = 50 * time.Millisecond
