package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedThrottle grants one permit per key per interval. Used to keep
// the per-unit UI-command lookups from hammering the store on every
// tick.
type KeyedThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewKeyedThrottle creates a throttle granting one permit per key per
// interval.
func NewKeyedThrottle(interval time.Duration) *KeyedThrottle {
	return &KeyedThrottle{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Allow reports whether the key may proceed now.
func (t *KeyedThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[key] = l
	}
	return l.Allow()
}
