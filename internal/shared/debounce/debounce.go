// Package debounce provides a keyed time-window rate limiter.
//
// A call for a key is accepted when no earlier call for the same key was
// accepted within the window. Rejected calls do not move the window.
package debounce

import (
	"strings"
	"sync"
	"time"
)

// Debouncer tracks the last accepted time per key.
type Debouncer struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time // Protected by mu
}

// New creates a debouncer with the given default window.
func New(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Window returns the default window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Allow reports whether a call for key at now falls outside the default window.
func (d *Debouncer) Allow(key string, now time.Time) bool {
	return d.AllowWithin(key, now, d.window)
}

// AllowWithin is Allow with an explicit window for this call.
func (d *Debouncer) AllowWithin(key string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.last[key]; ok && now.Sub(prev) < window {
		return false
	}
	d.last[key] = now
	return true
}

// Forget drops every key with the given prefix.
func (d *Debouncer) Forget(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k := range d.last {
		if strings.HasPrefix(k, prefix) {
			delete(d.last, k)
		}
	}
}

// Prune drops keys whose last accepted call is older than maxAge.
func (d *Debouncer) Prune(now time.Time, maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for k, t := range d.last {
		if now.Sub(t) > maxAge {
			delete(d.last, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}
