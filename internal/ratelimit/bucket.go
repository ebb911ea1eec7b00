package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/netn10/security-proxy/internal/clock"
)

// tokenBucket is the per-identity state (spec.md §4.3).
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// Status is the read-only projection returned by Status (spec.md §4.3).
type Status struct {
	Remaining float64
	ResetAt   time.Time
	MaxTokens float64
}

// Limiter is the token-bucket rate limiter (component C5). One Limiter is
// shared across all requests; state is confined to its identity→bucket map,
// per spec.md §5's ownership table.
type Limiter struct {
	clock clock.Clock

	maxTokens      float64
	refillRate     float64
	refillInterval time.Duration

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// New builds a Limiter. maxTokens is bucket capacity, refillRate is tokens
// added per refillInterval elapsed.
func New(clk clock.Clock, maxTokens, refillRate float64, refillInterval time.Duration) *Limiter {
	return &Limiter{
		clock:          clk,
		maxTokens:      maxTokens,
		refillRate:     refillRate,
		refillInterval: refillInterval,
		buckets:        make(map[string]*tokenBucket),
	}
}

// getOrCreate returns identity's bucket, creating it at full capacity if
// absent. The map-level lock is held only for the lookup/create; refill and
// consumption happen under the bucket's own lock (spec.md §5).
func (l *Limiter) getOrCreate(identity string) *tokenBucket {
	l.mu.Lock()
	b, ok := l.buckets[identity]
	if !ok {
		b = &tokenBucket{tokens: l.maxTokens, lastRefill: l.clock.Now()}
		l.buckets[identity] = b
	}
	l.mu.Unlock()
	return b
}

// refillLocked applies the floor-based refill formula. Caller must hold
// b.mu.
func (l *Limiter) refillLocked(b *tokenBucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	intervals := math.Floor(float64(elapsed) / float64(l.refillInterval))
	if intervals <= 0 {
		return
	}
	add := intervals * l.refillRate
	if add > 0 {
		b.tokens = math.Min(l.maxTokens, b.tokens+add)
		b.lastRefill = now
	}
}

// TryConsume implements try_consume(identity, cost) (spec.md §4.3).
func (l *Limiter) TryConsume(identity string, cost float64) bool {
	b := l.getOrCreate(identity)
	now := l.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	l.refillLocked(b, now)

	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

// Status implements status(identity) without mutating bucket state.
func (l *Limiter) Status(identity string) Status {
	now := l.clock.Now()

	// An untracked identity reports a full bucket without one being created.
	l.mu.Lock()
	b, ok := l.buckets[identity]
	l.mu.Unlock()
	if !ok {
		return Status{Remaining: l.maxTokens, ResetAt: now, MaxTokens: l.maxTokens}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Project the refill forward for reporting purposes only; do not
	// mutate lastRefill/tokens, per status()'s read-only contract.
	elapsed := now.Sub(b.lastRefill)
	intervals := math.Floor(float64(elapsed) / float64(l.refillInterval))
	projected := b.tokens
	lastRefill := b.lastRefill
	if intervals > 0 {
		projected = math.Min(l.maxTokens, b.tokens+intervals*l.refillRate)
		lastRefill = lastRefill.Add(time.Duration(intervals) * l.refillInterval)
	}

	resetAt := lastRefill
	if projected < l.maxTokens {
		resetAt = lastRefill.Add(l.refillInterval)
	}

	return Status{Remaining: projected, ResetAt: resetAt, MaxTokens: l.maxTokens}
}

// Reset implements reset(identity): deletes the bucket entirely.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	delete(l.buckets, identity)
	l.mu.Unlock()
}

// Identities returns the set of client identities currently tracked. Used
// by the dashboard's rate-limit listing; never consulted from the request
// path.
func (l *Limiter) Identities() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.buckets))
	for id := range l.buckets {
		ids = append(ids, id)
	}
	return ids
}

// Sweep implements sweep(): deletes any bucket untouched for more than
// 24 hours. Invoked periodically, never from the request path (spec.md
// §4.3, §5).
func (l *Limiter) Sweep() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for identity, b := range l.buckets {
		b.mu.Lock()
		stale := now.Sub(b.lastRefill) > 24*time.Hour
		b.mu.Unlock()
		if stale {
			delete(l.buckets, identity)
		}
	}
}
