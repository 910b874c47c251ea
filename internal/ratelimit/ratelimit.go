// Package ratelimit implements a fixed-window per-client rate limiter for
// the /render auxiliary endpoint.
//
// golang.org/x/time/rate implements a token bucket, not the fixed
// (count, resetTime) window the gateway's render endpoint is specified to
// use, so this is a small hand-rolled limiter rather than a wrapper around
// that package.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count     int
	resetTime time.Time
}

// Limiter tracks a fixed-size request count per key within a fixed
// window, resetting the counter once the window elapses.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
}

// New returns a Limiter allowing at most limit requests per key every
// period.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
	}
}

// Allow reports whether key may proceed, incrementing its window count.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetTime) {
		w = &window{count: 0, resetTime: now.Add(l.period)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Prune removes windows that have already reset, bounding memory growth
// from one-off clients. Intended to be called periodically.
func (l *Limiter) Prune() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.After(w.resetTime) {
			delete(l.windows, key)
		}
	}
}

// StartPruneTimer schedules periodic Prune calls until done is closed.
func (l *Limiter) StartPruneTimer(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}
