package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// simpleRateLimiter counts requests per key within a fixed window. It guards
// the generation endpoint, where every accepted request turns into paid AI
// calls, so the window is strict rather than sliding.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
	sweeps  int
}

type rateWindow struct {
	opened time.Time
	used   int
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*rateWindow),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.windows[key]
	if win == nil || now.Sub(win.opened) >= l.window {
		l.windows[key] = &rateWindow{opened: now, used: 1}
		l.maybeSweepLocked(now)
		return true
	}
	if win.used >= l.limit {
		return false
	}
	win.used++
	return true
}

// maybeSweepLocked drops stale windows every few insertions so the map does
// not grow with one-off keys.
func (l *simpleRateLimiter) maybeSweepLocked(now time.Time) {
	l.sweeps++
	if l.sweeps < 16 && len(l.windows) < 1024 {
		return
	}
	l.sweeps = 0
	for key, win := range l.windows {
		if now.Sub(win.opened) >= l.window {
			delete(l.windows, key)
		}
	}
}
