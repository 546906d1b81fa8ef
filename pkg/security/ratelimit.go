package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown spaces calls to rate-limited providers. Limiters are kept per
// caller and provider, so one caller's wait never delays another caller.
// A caller's first call to a provider waits a full interval as well.
type Cooldown struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	limiters  map[string]map[string]*rate.Limiter
}

// NewCooldown creates an empty cool-down gate
func NewCooldown() *Cooldown {
	return &Cooldown{
		intervals: make(map[string]time.Duration),
		limiters:  make(map[string]map[string]*rate.Limiter),
	}
}

// Set configures the minimum interval between calls to provider.
// A non-positive interval removes the limit.
func (c *Cooldown) Set(provider string, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, byProvider := range c.limiters {
		delete(byProvider, provider)
	}
	if interval <= 0 {
		delete(c.intervals, provider)
		return
	}
	c.intervals[provider] = interval
}

// Limited reports whether provider has a cool-down configured
func (c *Cooldown) Limited(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.intervals[provider]
	return ok
}

// Wait blocks until caller may call provider and returns how long it
// waited. Unlimited providers return immediately.
func (c *Cooldown) Wait(ctx context.Context, caller, provider string) (time.Duration, error) {
	limiter := c.limiter(caller, provider)
	if limiter == nil {
		return 0, nil
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("cool-down for %s: %w", provider, err)
	}
	return time.Since(start), nil
}

// Forget drops the limiters of caller.
func (c *Cooldown) Forget(caller string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, caller)
}

// Callers returns the number of callers holding limiters.
func (c *Cooldown) Callers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

func (c *Cooldown) limiter(caller, provider string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval, ok := c.intervals[provider]
	if !ok {
		return nil
	}
	byProvider, ok := c.limiters[caller]
	if !ok {
		byProvider = make(map[string]*rate.Limiter)
		c.limiters[caller] = byProvider
	}
	limiter, ok := byProvider[provider]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		// Spend the initial token so the first call waits too.
		limiter.Allow()
		byProvider[provider] = limiter
	}
	return limiter
}

// RateLimiter limits requests per client key
type RateLimiter struct {
	clientLimiters map[string]*rate.Limiter
	mu             sync.RWMutex

	requestsPerSecond float64
	burst             int
}

// NewRateLimiter creates a new per-client rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		clientLimiters:    make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow checks if a request from clientID should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.getClientLimiter(clientID).Allow()
}

func (rl *RateLimiter) getClientLimiter(clientID string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clientLimiters[clientID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.clientLimiters[clientID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)
	rl.clientLimiters[clientID] = limiter
	return limiter
}
