package lock

import (
	"context"
	"sync"
	"time"
)

// InProcessLocker backs local dev and tests where Redis is not wired, the
// same optional-infrastructure treatment given to any collaborator built
// around a nil redis.Client.
type InProcessLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewInProcessLocker() *InProcessLocker {
	return &InProcessLocker{held: make(map[string]struct{})}
}

func (l *InProcessLocker) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(timeout)
	for {
		if l.tryAcquire(name) {
			break
		}
		if time.Now().After(deadline) {
			return ErrBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	defer l.release(name)
	return fn(ctx)
}

func (l *InProcessLocker) tryAcquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.held[name]; held {
		return false
	}
	l.held[name] = struct{}{}
	return true
}

func (l *InProcessLocker) release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}
