// Package lock serializes work on a shared key, in process or across
// processes through Redis.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cleared-dev/ledger/internal/apperr"
)

// Manager runs fn while holding the named lock. Acquisition that does not
// succeed within the configured wait fails with apperr.CodeLockTimeout.
type Manager interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SequenceKey names the lock guarding a tenant's number series.
func SequenceKey(tenantID, docType string) string {
	return fmt.Sprintf("ledger:lock:seq:%s:%s", tenantID, docType)
}

// VoucherKey names the lock guarding a voucher's transitions.
func VoucherKey(tenantID, voucherID string) string {
	return fmt.Sprintf("ledger:lock:voucher:%s:%s", tenantID, voucherID)
}

// Local is an in-process Manager backed by one single-slot channel per key.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal returns a Local manager that waits at most wait for a key.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: make(map[string]*slot)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(key)
	defer l.releaseSlot(key, s)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		return apperr.New(apperr.CodeLockTimeout, "lock %s not acquired within %s", key, l.wait)
	case <-ctx.Done():
		return apperr.Wrap(apperr.CodeLockTimeout, ctx.Err(), "waiting for lock %s", key)
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
