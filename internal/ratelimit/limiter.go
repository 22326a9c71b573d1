// Package ratelimit provides per-key token bucket rate limiting for MCP tools
// and the HTTP control endpoint.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrLimited is matched by errors.Is on every *LimitError.
var ErrLimited = errors.New("rate limit exceeded")

// LimitError reports a rejected request and when to retry.
type LimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.RetryAfter.Round(time.Millisecond))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimited
}

// Limiter implements a per-key token bucket rate limiter.
// Each key gets its own bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64          // tokens per second
	burst   int              // max burst size (also initial token count)
	nowFunc func() time.Time // injectable clock for testing
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow checks if a request for the given key should be allowed.
func (l *Limiter) Allow(key string) bool {
	return l.Reserve(key) == 0
}

// Reserve takes a token for key. It returns zero when the request is allowed,
// otherwise the wait until a token is available. A limiter with zero rate
// that has run dry returns math.MaxInt64.
func (l *Limiter) Reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b := l.refill(key, now)

	if b.tokens >= 1.0 {
		b.tokens--
		return 0
	}
	if l.rate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	wait := time.Duration((1.0 - b.tokens) / l.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastCheck: now}
		l.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.lastCheck = now
	}
	return b
}

// Check is Reserve returning a *LimitError when the request is rejected.
func (l *Limiter) Check(key string) error {
	if wait := l.Reserve(key); wait > 0 {
		return &LimitError{Key: key, RetryAfter: wait}
	}
	return nil
}

// Prune drops buckets that have refilled completely, so a limiter keyed by
// client address does not grow without bound. It returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for key, b := range l.buckets {
		if b.tokens+l.rate*now.Sub(b.lastCheck).Seconds() >= float64(l.burst) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters creates the default set of per-tool rate limiters.
// Simulation tools run whole Monte Carlo batches, so they get the tightest limits.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"stochsim_simulate": NewLimiter(10.0/60.0, 3), // 10/minute, burst 3
		"stochsim_path":     NewLimiter(1.0, 10),      // 60/minute, burst 10
		"stochsim_decide":   NewLimiter(10.0/60.0, 3), // 10/minute, burst 3
		"stochsim_theory":   NewLimiter(2.0, 20),      // 120/minute, burst 20
		"stochsim_export":   NewLimiter(5.0/60.0, 2),  // 5/minute, burst 2
	}
}

// CheckLimit checks the rate limit for a given tool name.
// Returns nil if allowed, or a *LimitError if rate limited.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	return limiter.Check(toolName)
}
