// Package tracking instruments HTTP services and reports each request to a
// collector as a log entry.
package tracking

import (
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// DefaultRatePerSecond is the per-service limit used when none is configured.
const DefaultRatePerSecond = 100

// RateLimiter decides whether a unit of work for key fits its budget.
type RateLimiter interface {
	TryConsume(key string, n int) bool
}

// RateLimiterRegistry owns one token bucket per key. Each bucket holds up to
// its per-second limit and refills continuously at that rate.
type RateLimiterRegistry struct {
	mu           sync.Mutex
	clock        clock.Clock
	defaultLimit int
	overrides    map[string]int
	buckets      map[string]*rate.Limiter
}

// NewRateLimiterRegistry builds a registry with a default per-second limit
// and optional per-key overrides.
func NewRateLimiterRegistry(defaultPerSecond int, overrides map[string]int, clk clock.Clock) *RateLimiterRegistry {
	if defaultPerSecond <= 0 {
		defaultPerSecond = DefaultRatePerSecond
	}
	if clk == nil {
		clk = clock.New()
	}
	o := make(map[string]int, len(overrides))
	for k, v := range overrides {
		if v > 0 {
			o[k] = v
		}
	}
	return &RateLimiterRegistry{
		clock:        clk,
		defaultLimit: defaultPerSecond,
		overrides:    o,
		buckets:      make(map[string]*rate.Limiter),
	}
}

// TryConsume takes n tokens from key's bucket if they are available.
func (r *RateLimiterRegistry) TryConsume(key string, n int) bool {
	return r.bucket(key).AllowN(r.clock.Now(), n)
}

// Limit returns the per-second limit applied to key.
func (r *RateLimiterRegistry) Limit(key string) int {
	if limit, ok := r.overrides[key]; ok {
		return limit
	}
	return r.defaultLimit
}

func (r *RateLimiterRegistry) bucket(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		limit := r.Limit(key)
		b = rate.NewLimiter(rate.Limit(limit), limit)
		r.buckets[key] = b
	}
	return b
}
