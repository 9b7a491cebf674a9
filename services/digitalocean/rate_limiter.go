package digitalocean

import (
	"context"
	"sync"
	"time"
)

// OracleLimiter implements a token bucket rate limiter for inference calls.
// This helps prevent 429 rate limit errors from DigitalOcean's inference API
// and keeps consecutive extraction calls spaced apart.
type OracleLimiter struct {
	mu sync.Mutex

	// Token bucket parameters
	tokens         float64       // Current number of tokens
	maxTokens      float64       // Maximum tokens (bucket size)
	refillRate     float64       // Tokens added per second
	lastRefillTime time.Time     // Last time tokens were refilled
	minInterval    time.Duration // Minimum spacing between consecutive calls

	// Zero until the first acquisition, so the first call never waits
	lastCallAt time.Time
}

// OracleLimiterConfig holds configuration for the limiter
type OracleLimiterConfig struct {
	MaxTokens   float64       // Max burst capacity (default: 3)
	RefillRate  float64       // Tokens per second (default: 0.2 = 1 per 5s)
	MinInterval time.Duration // Minimum time between calls (default: 5s)
}

// DefaultOracleLimiterConfig returns the defaults for the inference API
func DefaultOracleLimiterConfig() OracleLimiterConfig {
	return OracleLimiterConfig{
		MaxTokens:   3,
		RefillRate:  0.2,
		MinInterval: 5 * time.Second,
	}
}

// NewOracleLimiter creates a new limiter with the given config
func NewOracleLimiter(config OracleLimiterConfig) *OracleLimiter {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultOracleLimiterConfig().MaxTokens
	}
	if config.RefillRate <= 0 {
		config.RefillRate = DefaultOracleLimiterConfig().RefillRate
	}
	if config.MinInterval <= 0 {
		config.MinInterval = DefaultOracleLimiterConfig().MinInterval
	}

	return &OracleLimiter{
		tokens:         config.MaxTokens,
		maxTokens:      config.MaxTokens,
		refillRate:     config.RefillRate,
		lastRefillTime: time.Now(),
		minInterval:    config.MinInterval,
	}
}

// Wait blocks until the caller may issue the next inference call.
// The first acquisition returns immediately; every later one is held back
// until at least the minimum interval has passed since the previous call
// slot. Returns an error if the context is cancelled while waiting.
func (r *OracleLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillTokens()

		if r.tokens >= 1 {
			r.tokens--

			// Reserve the next call slot under the lock so concurrent
			// waiters space out instead of firing together
			var wait time.Duration
			if !r.lastCallAt.IsZero() {
				wait = r.minInterval - time.Since(r.lastCallAt)
			}
			if wait < 0 {
				wait = 0
			}
			r.lastCallAt = time.Now().Add(wait)
			r.mu.Unlock()

			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
			return nil
		}

		// Calculate wait time for next token
		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			// Try again after waiting
		}
	}
}

// refillTokens adds tokens based on elapsed time (must be called with lock held)
func (r *OracleLimiter) refillTokens() {
	now := time.Now()

	elapsed := now.Sub(r.lastRefillTime).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefillTime = now
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired, false otherwise.
func (r *OracleLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()

	if r.tokens >= 1 {
		r.tokens--
		r.lastCallAt = time.Now()
		return true
	}
	return false
}

// AvailableTokens returns the current number of available tokens
func (r *OracleLimiter) AvailableTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()
	return r.tokens
}

// SetBackoffMultiplier temporarily reduces the rate limit.
// Useful after receiving a 429 error - call with multiplier > 1 to slow down.
func (r *OracleLimiter) SetBackoffMultiplier(multiplier float64) {
	if multiplier <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = r.refillRate / multiplier
	r.minInterval = time.Duration(float64(r.minInterval) * multiplier)
}

// ResetToDefaults resets the limiter to the default configuration
func (r *OracleLimiter) ResetToDefaults() {
	config := DefaultOracleLimiterConfig()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = config.RefillRate
	r.minInterval = config.MinInterval
}
