// Package ratelimit provides per-client request rate limiting using a
// fixed-window counter kept in a durable key-value store.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qrpay/qr-gateway/internal/domain"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// CounterStore persists one RateWindow per client identity.
// Set has merge semantics: it replaces the window fields and nothing else
// the backend may keep under the same key.
type CounterStore interface {
	Get(ctx context.Context, key string) (domain.RateWindow, bool, error)
	Set(ctx context.Context, key string, w domain.RateWindow) error
}

// Config controls the window policy. Zero values fall back to the defaults.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Limiter admits or denies requests per client identity.
//
// The read-then-write sequence is not atomic: two concurrent requests from
// the same identity can both observe count = limit-1 and both be admitted.
// The overshoot is bounded by the number of in-flight requests per identity
// within one store round trip.
type Limiter struct {
	store CounterStore
	cfg   Config
}

func NewLimiter(store CounterStore, cfg Config) *Limiter {
	return &Limiter{store: store, cfg: cfg.withDefaults()}
}

func (l *Limiter) Limit() int { return l.cfg.Limit }

// Allow reports whether a request from identity is admitted.
// A denied request never writes to the store.
func (l *Limiter) Allow(ctx context.Context, identity string) (allowed bool, remaining int, resetAt time.Time, err error) {
	now := time.Now()

	w, ok, err := l.store.Get(ctx, identity)
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("load window for %s: %w", identity, err)
	}

	if !ok || now.Sub(w.WindowStart) > l.cfg.Window {
		w = domain.RateWindow{Count: 0, WindowStart: now}
	}

	resetAt = w.WindowStart.Add(l.cfg.Window)

	if w.Count >= l.cfg.Limit {
		return false, 0, resetAt, nil
	}

	w.Count++
	if err := l.store.Set(ctx, identity, w); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("persist window for %s: %w", identity, err)
	}

	return true, l.cfg.Limit - w.Count, resetAt, nil
}

// Usage returns the current window for identity without consuming quota.
func (l *Limiter) Usage(ctx context.Context, identity string) (domain.RateWindow, bool, error) {
	w, ok, err := l.store.Get(ctx, identity)
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("load window for %s: %w", identity, err)
	}
	if ok && time.Since(w.WindowStart) > l.cfg.Window {
		return domain.RateWindow{}, false, nil
	}
	return w, ok, nil
}

// Reset clears the counter for identity by writing a fresh empty window.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.store.Set(ctx, identity, domain.RateWindow{Count: 0, WindowStart: time.Now()}); err != nil {
		return fmt.Errorf("reset window for %s: %w", identity, err)
	}
	return nil
}

// InMemoryCounterStore keeps windows in a mutex-guarded map.
// Suitable for single-instance deployments; windows idle for several
// window lengths are evicted by a background sweep.
type InMemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]*storedWindow
	idleTTL time.Duration
}

type storedWindow struct {
	window   domain.RateWindow
	lastSeen time.Time
}

func NewInMemoryCounterStore() *InMemoryCounterStore {
	s := &InMemoryCounterStore{
		windows: make(map[string]*storedWindow),
		idleTTL: 3 * DefaultWindow,
	}
	go s.cleanup()
	return s
}

func (s *InMemoryCounterStore) Get(ctx context.Context, key string) (domain.RateWindow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		return domain.RateWindow{}, false, nil
	}
	sw.lastSeen = time.Now()
	return sw.window, true, nil
}

func (s *InMemoryCounterStore) Set(ctx context.Context, key string, w domain.RateWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows[key] = &storedWindow{window: w, lastSeen: time.Now()}
	return nil
}

func (s *InMemoryCounterStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-s.idleTTL)
		s.mu.Lock()
		for key, sw := range s.windows {
			if sw.lastSeen.Before(cutoff) {
				delete(s.windows, key)
			}
		}
		s.mu.Unlock()
	}
}
