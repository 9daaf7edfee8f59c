package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-origin token-bucket limit on page traffic. The
// trusted UI channel is never limited.
type RateLimiter struct {
	limiters sync.Map // origin -> *limiterEntry
	limit    rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter *rate.Limiter

	// lastSeen is written by every Allow of the origin, concurrently with the
	// cleanup loop's read. UnixNano, accessed atomically.
	lastSeen atomic.Int64
}

// NewRateLimiter creates a limiter allowing rpm requests per minute with the
// given burst. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Limit(0)
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60.0)
	}

	rl := &RateLimiter{limit: limit, burst: burst}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether one more request from the origin fits the budget.
func (rl *RateLimiter) Allow(origin string) bool {
	if rl.limit == 0 {
		return true
	}

	entry := rl.getOrCreate(origin)
	if !entry.limiter.Allow() {
		return false
	}
	entry.lastSeen.Store(time.Now().UnixNano())
	return true
}

func (rl *RateLimiter) getOrCreate(origin string) *limiterEntry {
	if v, ok := rl.limiters.Load(origin); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	entry.lastSeen.Store(time.Now().UnixNano())
	actual, _ := rl.limiters.LoadOrStore(origin, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
		rl.limiters.Range(func(key, value any) bool {
			if value.(*limiterEntry).lastSeen.Load() < cutoff {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}
