package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger with fixed windows that start at the first recorded unit.
type MemoryLedger struct {
	allowances Allowances
	window     time.Duration
	now        func() time.Time

	mu    sync.Mutex
	usage map[string]*memoryUsage
}

type memoryUsage struct {
	used    int64
	expires time.Time
}

// NewMemoryLedger returns a MemoryLedger. window <= 0 means usage never resets.
func NewMemoryLedger(allowances Allowances, window time.Duration) *MemoryLedger {
	return &MemoryLedger{
		allowances: allowances,
		window:     window,
		now:        time.Now,
		usage:      make(map[string]*memoryUsage),
	}
}

// HasExceeded reports whether principal's usage in scope has reached the scope allowance.
func (m *MemoryLedger) HasExceeded(ctx context.Context, principal, scope string) (bool, error) {
	limit := m.allowances.For(scope)
	if limit <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(usageKey(scope, principal)) >= limit, nil
}

// Record adds units to principal's usage in scope.
func (m *MemoryLedger) Record(ctx context.Context, principal, scope string, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(scope, principal)
	if m.current(key) == 0 {
		u := &memoryUsage{}
		if m.window > 0 {
			u.expires = m.now().Add(m.window)
		}
		m.usage[key] = u
	}
	m.usage[key].used += units
	return nil
}

// Usage returns principal's current usage in scope.
func (m *MemoryLedger) Usage(principal, scope string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(usageKey(scope, principal))
}

// current returns the live usage for key, dropping an expired window. Callers hold mu.
func (m *MemoryLedger) current(key string) int64 {
	u, ok := m.usage[key]
	if !ok {
		return 0
	}
	if !u.expires.IsZero() && !m.now().Before(u.expires) {
		delete(m.usage, key)
		return 0
	}
	return u.used
}

// usageKey length-prefixes scope so no two (scope, principal) pairs share a key.
func usageKey(scope, principal string) string {
	return fmt.Sprintf("quota:%d:%s:%s", len(scope), scope, principal)
}
