package marketdata

import (
	"sync"
	"time"
)

// RequestPriority ranks API requests. Higher priority requests get a
// larger share of the per-minute budget, so background work is shed
// first when the budget runs low.
type RequestPriority int

const (
	// PriorityCritical - exit-path lookups that must go through
	PriorityCritical RequestPriority = iota
	// PriorityHigh - snapshots backing live position decisions
	PriorityHigh
	// PriorityNormal - bars and rankings for candidate evaluation
	PriorityNormal
	// PriorityLow - enrichment and sector lookups
	PriorityLow
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// AcquireResult reports the outcome of a non-blocking acquire attempt.
type AcquireResult struct {
	Acquired bool
	WaitTime time.Duration
	Reason   string
	Budget   int
}

// RateLimiter enforces a per-minute request budget with priority
// thresholds, plus a cooldown window when the provider pushes back.
type RateLimiter struct {
	mu sync.Mutex

	maxRequests  int
	requestCount int
	resetAt      time.Time

	cooldownUntil time.Time
	pushbacks     int
}

const defaultRequestsPerMinute = 200

// NewRateLimiter creates a limiter with the default per-minute budget.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithBudget(defaultRequestsPerMinute)
}

// NewRateLimiterWithBudget creates a limiter with a custom budget.
func NewRateLimiterWithBudget(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	return &RateLimiter{
		maxRequests: perMinute,
		resetAt:     time.Now().Add(time.Minute),
	}
}

// TryAcquire atomically checks and records one request slot.
func (r *RateLimiter) TryAcquire(priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.resetAt) {
		r.requestCount = 0
		r.resetAt = now.Add(time.Minute)
	}

	if now.Before(r.cooldownUntil) {
		return AcquireResult{
			Acquired: false,
			WaitTime: time.Until(r.cooldownUntil),
			Reason:   "provider_cooldown",
		}
	}

	threshold := int(float64(r.maxRequests) * r.thresholdFor(priority))
	if r.requestCount >= threshold {
		wait := time.Until(r.resetAt)
		if wait < 0 {
			wait = 100 * time.Millisecond
		}
		return AcquireResult{
			Acquired: false,
			WaitTime: wait,
			Reason:   "budget_exhausted_" + priority.String(),
			Budget:   threshold - r.requestCount,
		}
	}

	r.requestCount++
	r.pushbacks = 0
	return AcquireResult{Acquired: true, Budget: threshold - r.requestCount}
}

func (r *RateLimiter) thresholdFor(priority RequestPriority) float64 {
	switch priority {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	case PriorityLow:
		return 0.40
	default:
		return 0.50
	}
}

// RecordProviderPushback opens a cooldown after a 429. With no
// Retry-After hint the window doubles per consecutive pushback, capped
// at five minutes.
func (r *RateLimiter) RecordProviderPushback(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushbacks++
	if retryAfter <= 0 {
		retryAfter = time.Duration(1<<uint(r.pushbacks)) * time.Second
		if retryAfter > 5*time.Minute {
			retryAfter = 5 * time.Minute
		}
	}
	until := time.Now().Add(retryAfter)
	if until.After(r.cooldownUntil) {
		r.cooldownUntil = until
	}
}

// InCooldown reports whether the provider cooldown window is active.
func (r *RateLimiter) InCooldown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.cooldownUntil)
}

// Usage returns current consumption for status reporting.
func (r *RateLimiter) Usage() (used, max int, resetIn time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resetIn = time.Until(r.resetAt)
	if resetIn < 0 {
		resetIn = 0
	}
	return r.requestCount, r.maxRequests, resetIn
}
