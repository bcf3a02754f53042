// -----------------------------------------------------------------------
// Metrics Collector - Crawl counters, per-domain and per-failure-type
// -----------------------------------------------------------------------

package crawler

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/models"
)

// DomainMetrics are the per-domain counters in a snapshot
type DomainMetrics struct {
	Requests        int64 `json:"requests"`
	Successes       int64 `json:"successes"`
	Failures        int64 `json:"failures"`
	Retries         int64 `json:"retries"`
	RateLimits      int64 `json:"rate_limits"`
	CircuitBreakers int64 `json:"circuit_breakers"`
}

// MetricsSnapshot is a point-in-time copy of all counters
type MetricsSnapshot struct {
	TotalRequests          int64                    `json:"total_requests"`
	Successes              int64                    `json:"successes"`
	PermanentFailures      int64                    `json:"permanent_failures"`
	Retries                int64                    `json:"retries"`
	RateLimitHits          int64                    `json:"rate_limit_hits"`
	CircuitBreakerTriggers int64                    `json:"circuit_breaker_triggers"`
	PerDomain              map[string]DomainMetrics `json:"per_domain"`
	PerFailureType         map[string]int64         `json:"per_failure_type"`
}

// Metrics collects crawl counters for one session. Totals are atomic;
// the per-domain and per-failure maps take a short mutex.
type Metrics struct {
	totalRequests          atomic.Int64
	successes              atomic.Int64
	permanentFailures      atomic.Int64
	retries                atomic.Int64
	rateLimitHits          atomic.Int64
	circuitBreakerTriggers atomic.Int64

	mu        sync.Mutex
	perDomain map[string]*DomainMetrics
	perType   map[models.FailureType]int64
}

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{
		perDomain: make(map[string]*DomainMetrics),
		perType:   make(map[models.FailureType]int64),
	}
}

func (m *Metrics) domain(d string) *DomainMetrics {
	dm, ok := m.perDomain[d]
	if !ok {
		dm = &DomainMetrics{}
		m.perDomain[d] = dm
	}
	return dm
}

// RecordRequest counts one fetch attempt
func (m *Metrics) RecordRequest(domain string) {
	m.totalRequests.Add(1)
	m.mu.Lock()
	m.domain(domain).Requests++
	m.mu.Unlock()
}

// RecordSuccess counts one completed download
func (m *Metrics) RecordSuccess(domain string) {
	m.successes.Add(1)
	m.mu.Lock()
	m.domain(domain).Successes++
	m.mu.Unlock()
}

// RecordFailure counts one final failure by type
func (m *Metrics) RecordFailure(domain string, ft models.FailureType) {
	m.permanentFailures.Add(1)
	m.mu.Lock()
	m.domain(domain).Failures++
	m.perType[ft]++
	m.mu.Unlock()
}

// RecordRetry counts one scheduled retry
func (m *Metrics) RecordRetry(domain string) {
	m.retries.Add(1)
	m.mu.Lock()
	m.domain(domain).Retries++
	m.mu.Unlock()
}

// RecordRateLimit counts one HTTP 429 backoff
func (m *Metrics) RecordRateLimit(domain string) {
	m.rateLimitHits.Add(1)
	m.mu.Lock()
	m.domain(domain).RateLimits++
	m.mu.Unlock()
}

// RecordCircuitBreaker counts one suppressed fetch
func (m *Metrics) RecordCircuitBreaker(domain string) {
	m.circuitBreakerTriggers.Add(1)
	m.mu.Lock()
	m.domain(domain).CircuitBreakers++
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalRequests:          m.totalRequests.Load(),
		Successes:              m.successes.Load(),
		PermanentFailures:      m.permanentFailures.Load(),
		Retries:                m.retries.Load(),
		RateLimitHits:          m.rateLimitHits.Load(),
		CircuitBreakerTriggers: m.circuitBreakerTriggers.Load(),
		PerDomain:              make(map[string]DomainMetrics),
		PerFailureType:         make(map[string]int64),
	}

	m.mu.Lock()
	for d, dm := range m.perDomain {
		snap.PerDomain[d] = *dm
	}
	for ft, n := range m.perType {
		snap.PerFailureType[string(ft)] = n
	}
	m.mu.Unlock()
	return snap
}

// LogSummary emits a human-readable digest at session end
func (m *Metrics) LogSummary(log arbor.ILogger, sessionID string) {
	if log == nil {
		return
	}
	snap := m.Snapshot()

	log.Info().
		Str("session_id", sessionID).
		Int64("requests", snap.TotalRequests).
		Int64("successes", snap.Successes).
		Int64("failures", snap.PermanentFailures).
		Int64("retries", snap.Retries).
		Int64("rate_limits", snap.RateLimitHits).
		Int64("circuit_breakers", snap.CircuitBreakerTriggers).
		Msg("Crawl session metrics")

	domains := make([]string, 0, len(snap.PerDomain))
	for d := range snap.PerDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		dm := snap.PerDomain[d]
		log.Debug().
			Str("session_id", sessionID).
			Str("domain", d).
			Int64("requests", dm.Requests).
			Int64("successes", dm.Successes).
			Int64("failures", dm.Failures).
			Int64("retries", dm.Retries).
			Msg("Domain metrics")
	}
}
