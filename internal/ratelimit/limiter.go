// Package ratelimit implements per-provider token-bucket admission
// control: tokens refill lazily at capacity tokens/second, TryAcquire is
// non-blocking, Acquire blocks cooperatively until a token is available.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter configured so that the
// refill rate equals the bucket capacity: x/time/rate already computes
// token replenishment lazily on every call, so no bespoke accounting is
// needed here.
type Limiter struct {
	capacity float64
	rl       *rate.Limiter
}

// New creates a token bucket with the given capacity (also the refill rate,
// in tokens/second).
func New(capacityPerSecond float64) *Limiter {
	if capacityPerSecond <= 0 {
		capacityPerSecond = 1
	}
	burst := int(capacityPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		capacity: capacityPerSecond,
		rl:       rate.NewLimiter(rate.Limit(capacityPerSecond), burst),
	}
}

// TryAcquire returns true iff a token was available and consumes it,
// without blocking.
func (l *Limiter) TryAcquire() bool {
	return l.rl.Allow()
}

// Acquire blocks cooperatively until a token is available or ctx is
// cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// AvailableTokens reports the current token count (refilled lazily as a
// side effect, matching x/time/rate's own accounting).
func (l *Limiter) AvailableTokens() float64 {
	return l.rl.Tokens()
}

// Utilization reports the fraction of capacity currently consumed, in
// [0,1].
func (l *Limiter) Utilization() float64 {
	tokens := l.AvailableTokens()
	if tokens > l.capacity {
		tokens = l.capacity
	}
	if tokens < 0 {
		tokens = 0
	}
	return 1 - tokens/l.capacity
}

// Manager owns one Limiter per named provider, guarded by a single
// reader-writer lock: writers hold the lock only long enough to mutate.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty provider rate-limit manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a rate limiter for provider at the given
// requests-per-second capacity.
func (m *Manager) AddProvider(provider string, requestsPerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[provider] = New(requestsPerSecond)
}

// TryAcquire attempts a non-blocking token acquisition for provider.
func (m *Manager) TryAcquire(provider string) bool {
	m.mu.RLock()
	l, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return l.TryAcquire()
}

// Acquire blocks until a token is available for provider.
func (m *Manager) Acquire(ctx context.Context, provider string) error {
	m.mu.RLock()
	l, ok := m.limiters[provider]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ratelimit: provider %q not registered", provider)
	}
	return l.Acquire(ctx)
}

// Utilization reports provider's current bucket utilization.
func (m *Manager) Utilization(provider string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[provider]
	if !ok {
		return 0, false
	}
	return l.Utilization(), true
}

// AllUtilization snapshots utilization across every registered provider.
func (m *Manager) AllUtilization() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.limiters))
	for name, l := range m.limiters {
		out[name] = l.Utilization()
	}
	return out
}
