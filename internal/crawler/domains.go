// -----------------------------------------------------------------------
// Domain Manager - Politeness delays, failure tracking, circuit breaking
// -----------------------------------------------------------------------

package crawler

import (
	"sync"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// CircuitState is the per-domain breaker state
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// domainState holds per-domain politeness and breaker state. Guarded by
// the manager mutex.
type domainState struct {
	domain              string
	lastRequestAt       time.Time
	minInterval         time.Duration
	consecutiveFailures int
	circuitState        CircuitState
	circuitOpenedAt     time.Time
	openDuration        time.Duration
	rateLimitedUntil    time.Time
	rateLimitHits       int
	lastFailureType     models.FailureType
}

// DomainManagerConfig tunes politeness and circuit breaking
type DomainManagerConfig struct {
	PolitenessDelay    time.Duration
	FailureThreshold   int
	CircuitOpenTime    time.Duration
	CircuitOpenMax     time.Duration
	RateLimitBaseDelay time.Duration
}

// DomainManager tracks per-domain request pacing and failures. A single
// mutex covers the domain map; operations are short.
type DomainManager struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     DomainManagerConfig
	now     func() time.Time
}

// NewDomainManager creates a manager with the given tuning
func NewDomainManager(cfg DomainManagerConfig) *DomainManager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CircuitOpenTime <= 0 {
		cfg.CircuitOpenTime = 60 * time.Second
	}
	if cfg.CircuitOpenMax <= 0 {
		cfg.CircuitOpenMax = 30 * time.Minute
	}
	if cfg.RateLimitBaseDelay <= 0 {
		cfg.RateLimitBaseDelay = 60 * time.Second
	}
	return &DomainManager{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (m *DomainManager) state(domain string) *domainState {
	d, ok := m.domains[domain]
	if !ok {
		d = &domainState{
			domain:       domain,
			minInterval:  m.cfg.PolitenessDelay,
			circuitState: CircuitClosed,
			openDuration: m.cfg.CircuitOpenTime,
		}
		m.domains[domain] = d
	}
	return d
}

// SetMinInterval raises a domain's politeness interval, typically from a
// robots.txt Crawl-delay. Never lowers below the configured default.
func (m *DomainManager) SetMinInterval(domain string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.state(domain)
	if interval > d.minInterval {
		d.minInterval = interval
	}
}

// ShouldDelay reports whether a request to the domain must wait
func (m *DomainManager) ShouldDelay(domain string) bool {
	return m.GetDelay(domain) > 0
}

// GetDelay returns the remaining wait before the domain may be fetched
func (m *DomainManager) GetDelay(domain string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.state(domain)
	now := m.now()

	var delay time.Duration
	if !d.lastRequestAt.IsZero() {
		if elapsed := now.Sub(d.lastRequestAt); elapsed < d.minInterval {
			delay = d.minInterval - elapsed
		}
	}
	if d.rateLimitedUntil.After(now) {
		if rl := d.rateLimitedUntil.Sub(now); rl > delay {
			delay = rl
		}
	}
	return delay
}

// RecordRequest stamps the domain's last request time; called just before
// each fetch
func (m *DomainManager) RecordRequest(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(domain).lastRequestAt = m.now()
}

// IsCircuitBreakerOpen reports whether fetches to the domain are
// suppressed. An expired open window transitions to HALF_OPEN and allows
// one probe through.
func (m *DomainManager) IsCircuitBreakerOpen(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.state(domain)
	if d.circuitState != CircuitOpen {
		return false
	}
	if m.now().Sub(d.circuitOpenedAt) >= d.openDuration {
		d.circuitState = CircuitHalfOpen
		return false
	}
	return true
}

// RecordSuccess resets failure tracking. A HALF_OPEN success closes the
// circuit.
func (m *DomainManager) RecordSuccess(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.state(domain)
	d.consecutiveFailures = 0
	d.rateLimitedUntil = time.Time{}
	d.rateLimitHits = 0
	d.lastFailureType = models.FailureNone
	if d.circuitState != CircuitClosed {
		d.circuitState = CircuitClosed
		d.openDuration = m.cfg.CircuitOpenTime
	}
}

// RecordFailure counts a failure against the domain. Reaching the
// threshold, or failing a HALF_OPEN probe, opens the circuit with
// exponentially growing open duration.
func (m *DomainManager) RecordFailure(domain string, ft models.FailureType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.state(domain)
	d.consecutiveFailures++
	d.lastFailureType = ft

	if d.circuitState == CircuitHalfOpen {
		m.reopen(d)
		return true
	}
	if d.circuitState == CircuitClosed && d.consecutiveFailures >= m.cfg.FailureThreshold {
		d.circuitState = CircuitOpen
		d.circuitOpenedAt = m.now()
		return true
	}
	return false
}

func (m *DomainManager) reopen(d *domainState) {
	d.circuitState = CircuitOpen
	d.circuitOpenedAt = m.now()
	d.openDuration *= 2
	if d.openDuration > m.cfg.CircuitOpenMax {
		d.openDuration = m.cfg.CircuitOpenMax
	}
}

// RecordRateLimit backs the domain off after an HTTP 429. The window
// starts at the base delay and doubles per consecutive hit, capped at the
// circuit-open maximum.
func (m *DomainManager) RecordRateLimit(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.state(domain)
	backoff := m.cfg.RateLimitBaseDelay
	for i := 0; i < d.rateLimitHits; i++ {
		backoff *= 2
		if backoff >= m.cfg.CircuitOpenMax {
			backoff = m.cfg.CircuitOpenMax
			break
		}
	}
	d.rateLimitHits++
	d.rateLimitedUntil = m.now().Add(backoff)
}

// DomainSnapshot is a read-only view of one domain's state
type DomainSnapshot struct {
	Domain              string             `json:"domain"`
	LastRequestAt       time.Time          `json:"last_request_at"`
	MinInterval         time.Duration      `json:"min_interval"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	CircuitState        CircuitState       `json:"circuit_state"`
	RateLimitedUntil    time.Time          `json:"rate_limited_until"`
	LastFailureType     models.FailureType `json:"last_failure_type,omitempty"`
}

// Snapshot returns the current state of every tracked domain
func (m *DomainManager) Snapshot() []DomainSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DomainSnapshot, 0, len(m.domains))
	for _, d := range m.domains {
		out = append(out, DomainSnapshot{
			Domain:              d.domain,
			LastRequestAt:       d.lastRequestAt,
			MinInterval:         d.minInterval,
			ConsecutiveFailures: d.consecutiveFailures,
			CircuitState:        d.circuitState,
			RateLimitedUntil:    d.rateLimitedUntil,
			LastFailureType:     d.lastFailureType,
		})
	}
	return out
}
