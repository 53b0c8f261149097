package server

import (
	"sync"
	"time"

	"m365gate/pkg/logging"
)

// RateLimiter counts requests per key in fixed windows. A key's counter
// starts with its first request and resets once the window has passed.
type RateLimiter struct {
	mu sync.Mutex

	// Configuration
	name   string
	max    int
	window time.Duration
	now    func() time.Time

	windows map[string]*window

	stopOnce sync.Once
	stopCh   chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	// Name labels log lines and metrics, e.g. "api" or "auth".
	Name string

	// Max is the number of requests allowed per key within the window.
	// Default: 100
	Max int

	// Window is the counting window.
	// Default: 15 minutes
	Window time.Duration

	Now func() time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Max <= 0 {
		config.Max = 100
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{
		name:    config.Name,
		max:     config.Max,
		window:  config.Window,
		now:     config.Now,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}
}

// Allow records a request for key. A rejected request is not counted.
func (rl *RateLimiter) Allow(key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.window)}
		rl.windows[key] = w
	}

	d := Decision{Limit: rl.max, ResetAt: w.resetAt}
	if w.count >= rl.max {
		logging.Warn("RateLimit", "Rate limit %s exceeded for %s (%d requests in %v)", rl.name, key, w.count, rl.window)
		return d
	}
	w.count++
	d.Allowed = true
	d.Remaining = rl.max - w.count
	return d
}

// SetLimit changes the per-window maximum for subsequent requests.
func (rl *RateLimiter) SetLimit(max int, window time.Duration) {
	if max <= 0 || window <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.max = max
	rl.window = window
}

// Limit returns the current per-window maximum.
func (rl *RateLimiter) Limit() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.max
}

// Cleanup removes expired windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// StartCleanup runs Cleanup every interval until Stop.
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stopCh:
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}
