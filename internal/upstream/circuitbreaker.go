package upstream

import (
	"sync"
	"time"
)

// cbState is the operational state of one provider's circuit breaker.
type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

// Default circuit breaker tuning, used whenever a CBConfig field is zero.
const (
	defaultErrorThreshold  = 5
	defaultTimeWindow      = 60 * time.Second
	defaultHalfOpenTimeout = 30 * time.Second
)

// CBConfig holds circuit breaker tuning parameters. A zero value falls back
// to the package defaults.
type CBConfig struct {
	// ErrorThreshold is the number of transport faults within TimeWindow
	// that trips the breaker open for that provider.
	ErrorThreshold int
	// TimeWindow is the rolling window the error count is measured over.
	TimeWindow time.Duration
	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request through.
	HalfOpenTimeout time.Duration
}

func (c CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return defaultErrorThreshold
}

func (c CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return defaultTimeWindow
}

func (c CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return defaultHalfOpenTimeout
}

// providerCB holds one provider's breaker state.
type providerCB struct {
	mu sync.Mutex

	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

// CircuitBreaker trips per-provider when the UpstreamClient sees repeated
// transport faults (connection/DNS/timeout — never an upstream HTTP status,
// spec.md §4.7) dispatching to that provider's binding, so a persistently
// unreachable upstream stops eating the per-request timeout on every
// inbound call until it recovers. Breakers are created lazily, one per
// provider name seen, and are safe for concurrent use.
type CircuitBreaker struct {
	cfg CBConfig

	mu       sync.Mutex
	breakers map[string]*providerCB
}

// NewCircuitBreaker builds a CircuitBreaker with the given tuning.
func NewCircuitBreaker(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, breakers: make(map[string]*providerCB)}
}

func (cb *CircuitBreaker) getOrCreate(provider string) *providerCB {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	p, ok := cb.breakers[provider]
	if !ok {
		p = &providerCB{state: cbClosed, windowStart: time.Now()}
		cb.breakers[provider] = p
	}
	return p
}

// Allow reports whether the next request to provider should be attempted.
//
//   - Closed — always true.
//   - Open — false, unless HalfOpenTimeout has elapsed, in which case the
//     breaker transitions to half-open and allows exactly one probe.
//   - HalfOpen — true only if no probe is currently in flight.
func (cb *CircuitBreaker) Allow(provider string) bool {
	p := cb.getOrCreate(provider)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case cbOpen:
		if time.Since(p.openedAt) >= cb.cfg.halfOpenTimeout() {
			p.state = cbHalfOpen
			p.probeInflight = true
			return true
		}
		return false
	case cbHalfOpen:
		if p.probeInflight {
			return false
		}
		p.probeInflight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes provider's breaker, clearing the error count.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	p := cb.getOrCreate(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = cbClosed
	p.errorCount = 0
	p.probeInflight = false
	p.windowStart = time.Now()
}

// RecordFailure counts one transport fault for provider, tripping the
// breaker open once ErrorThreshold is reached inside TimeWindow.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	p := cb.getOrCreate(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.windowStart) > cb.cfg.timeWindow() {
		p.errorCount = 0
		p.windowStart = now
	}
	p.errorCount++
	p.probeInflight = false

	if p.errorCount >= cb.cfg.errorThreshold() {
		p.state = cbOpen
		p.openedAt = now
	}
}

// StateLabel reports provider's breaker state as "closed", "open", or
// "half_open".
func (cb *CircuitBreaker) StateLabel(provider string) string {
	p := cb.getOrCreate(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
