package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout occurs when a balance lock cannot be acquired within the
// configured bound. Callers receive it instead of blocking indefinitely.
var ErrLockTimeout = errors.New("balance lock acquisition timed out")

// Locker serializes access to a single balance. Locks are scoped to one
// balance id; nothing here ever takes a global lock.
type Locker interface {
	WithBalanceLock(ctx context.Context, balanceID string, fn func(ctx context.Context) error) error
}

type memoryLocker struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewMemory builds an in-process keyed locker with the given acquisition
// bound. Suitable for single-instance deployments and tests.
func NewMemory(timeout time.Duration) Locker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &memoryLocker{slots: make(map[string]chan struct{}), timeout: timeout}
}

func (l *memoryLocker) WithBalanceLock(ctx context.Context, balanceID string, fn func(ctx context.Context) error) error {
	slot := l.slot(balanceID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
	defer func() { <-slot }()

	return fn(ctx)
}

func (l *memoryLocker) slot(balanceID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[balanceID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[balanceID] = slot
	}
	return slot
}
