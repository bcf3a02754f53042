// -----------------------------------------------------------------------
// Crawler Engine - Session-scoped fetch loop and result materialization
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/logbus"
	"github.com/ternarybob/reperio/internal/models"
)

// EngineState is the session lifecycle state
type EngineState string

const (
	EngineIdle     EngineState = "idle"
	EngineRunning  EngineState = "running"
	EngineStopping EngineState = "stopping"
	EngineStopped  EngineState = "stopped"
)

// EngineTuning carries service-level knobs shared by all sessions
type EngineTuning struct {
	Retry              RetryConfig
	IdleSleep          time.Duration
	PaceSleep          time.Duration
	ContentPreviewSize int
}

// EngineDeps are the collaborators injected at session creation. Store
// and Bus may be nil in tests.
type EngineDeps struct {
	Fetcher *Fetcher
	Parser  *Parser
	Domains *DomainManager
	Robots  *RobotsPolicy
	Store   interfaces.PageStorage
	Bus     *logbus.Bus
	Logger  arbor.ILogger
	Tuning  EngineTuning
}

// Engine runs one crawl session. A single background worker owns the
// frontier and results; readers get snapshots under a short lock.
type Engine struct {
	sessionID string

	mu         sync.Mutex
	state      EngineState
	cfg        models.CrawlConfig
	seedDomain string

	canon    *Canonicalizer
	frontier *Frontier
	fetcher  *Fetcher
	parser   *Parser
	domains  *DomainManager
	robots   *RobotsPolicy
	metrics  *Metrics
	store    interfaces.PageStorage
	bus      *logbus.Bus
	logger   arbor.ILogger
	tuning   EngineTuning

	resultsMu   sync.Mutex
	results     map[string]*models.CrawlResult
	resultOrder []string
	successes   int

	cancel     context.CancelFunc
	done       chan struct{}
	onComplete func(results []*models.CrawlResult)
}

// NewEngine creates an idle session engine
func NewEngine(sessionID string, cfg models.CrawlConfig, deps EngineDeps) *Engine {
	e := &Engine{
		sessionID: sessionID,
		state:     EngineIdle,
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		parser:    deps.Parser,
		domains:   deps.Domains,
		robots:    deps.Robots,
		metrics:   NewMetrics(),
		store:     deps.Store,
		bus:       deps.Bus,
		logger:    deps.Logger,
		tuning:    deps.Tuning,
		results:   make(map[string]*models.CrawlResult),
	}
	e.canon = NewCanonicalizer(func(msg string) { e.emit(msg, models.LogLevelWarning) })
	e.frontier = NewFrontier(e.canon)
	if e.tuning.IdleSleep <= 0 {
		e.tuning.IdleSleep = 500 * time.Millisecond
	}
	if e.tuning.PaceSleep <= 0 {
		e.tuning.PaceSleep = 50 * time.Millisecond
	}
	if e.tuning.ContentPreviewSize <= 0 {
		e.tuning.ContentPreviewSize = 500
	}
	return e
}

// SessionID returns the session identifier
func (e *Engine) SessionID() string { return e.sessionID }

// State returns the current lifecycle state
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Metrics returns the session metrics collector
func (e *Engine) Metrics() *Metrics { return e.metrics }

// SetOnComplete registers the completion callback, fired exactly once
// after the worker exits
func (e *Engine) SetOnComplete(fn func(results []*models.CrawlResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = fn
}

// AddSeedURL queues a URL at depth zero. The first seed fixes the seed
// domain used by restrictToSeedDomain.
func (e *Engine) AddSeedURL(rawURL string, force bool) error {
	canonical := e.canon.Canonicalize(rawURL)
	host := e.canon.Host(canonical)
	if host == "" {
		return fmt.Errorf("invalid seed URL: %s", rawURL)
	}

	e.mu.Lock()
	if e.seedDomain == "" {
		e.seedDomain = NormalizedHost(host)
	}
	e.mu.Unlock()

	if !e.frontier.AddURL(canonical, force, models.PriorityHigh, 0) {
		return nil
	}

	e.upsertResult(&models.CrawlResult{
		URL:         canonical,
		Domain:      NormalizedHost(host),
		CrawlStatus: models.CrawlStatusQueued,
		QueuedAt:    time.Now(),
	})
	e.emit(fmt.Sprintf("Seed URL queued: %s", canonical), models.LogLevelInfo)
	return nil
}

// Start spawns the single background worker. Valid from IDLE or STOPPED.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state == EngineRunning || e.state == EngineStopping {
		e.mu.Unlock()
		return fmt.Errorf("session %s already running", e.sessionID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = EngineRunning
	e.mu.Unlock()

	go e.run(ctx)
	return nil
}

// Stop signals the worker and waits for the in-flight fetch to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != EngineRunning {
		e.mu.Unlock()
		return
	}
	e.state = EngineStopping
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Wait blocks until the worker exits
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset clears results, visited set, frontier, and seed domain. Only
// valid when stopped.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EngineRunning || e.state == EngineStopping {
		return fmt.Errorf("cannot reset session %s while running", e.sessionID)
	}
	e.frontier.Reset()
	e.seedDomain = ""
	e.state = EngineIdle
	e.metrics = NewMetrics()

	e.resultsMu.Lock()
	e.results = make(map[string]*models.CrawlResult)
	e.resultOrder = nil
	e.successes = 0
	e.resultsMu.Unlock()
	return nil
}

// UpdateConfig swaps the session config; new values apply on the next
// loop iteration
func (e *Engine) UpdateConfig(cfg models.CrawlConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() models.CrawlConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Results returns a snapshot of all per-URL results in insertion order
func (e *Engine) Results() []*models.CrawlResult {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	out := make([]*models.CrawlResult, 0, len(e.resultOrder))
	for _, key := range e.resultOrder {
		copied := *e.results[key]
		out = append(out, &copied)
	}
	return out
}

// SuccessCount returns the number of completed downloads
func (e *Engine) SuccessCount() int {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	return e.successes
}

func (e *Engine) upsertResult(r *models.CrawlResult) {
	key := r.URL
	e.resultsMu.Lock()
	if existing, ok := e.results[key]; ok {
		wasSuccess := existing.CrawlStatus == models.CrawlStatusDownloaded
		*existing = *r
		if !wasSuccess && r.CrawlStatus == models.CrawlStatusDownloaded {
			e.successes++
		}
	} else {
		e.results[key] = r
		e.resultOrder = append(e.resultOrder, key)
		if r.CrawlStatus == models.CrawlStatusDownloaded {
			e.successes++
		}
	}
	e.resultsMu.Unlock()
}

func (e *Engine) getResult(key string) (models.CrawlResult, bool) {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()
	r, ok := e.results[key]
	if !ok {
		return models.CrawlResult{}, false
	}
	return *r, true
}

func (e *Engine) emit(msg, level string) {
	if e.bus != nil {
		e.bus.BroadcastSessionLog(e.sessionID, msg, level)
	}
	if e.logger == nil {
		return
	}
	switch level {
	case models.LogLevelError:
		e.logger.Error().Str("session_id", e.sessionID).Msg(msg)
	case models.LogLevelWarning:
		e.logger.Warn().Str("session_id", e.sessionID).Msg(msg)
	case models.LogLevelDebug:
		e.logger.Debug().Str("session_id", e.sessionID).Msg(msg)
	default:
		e.logger.Info().Str("session_id", e.sessionID).Msg(msg)
	}
}

// run is the session worker. Exactly one instance per session.
func (e *Engine) run(ctx context.Context) {
	defer e.finish()

	for {
		if ctx.Err() != nil {
			return
		}
		cfg := e.config()

		rawURL := e.frontier.Next()
		if rawURL == "" {
			if e.frontier.PendingRetryCount() > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.tuning.IdleSleep):
				}
				continue
			}
			return
		}

		if e.frontier.IsVisited(rawURL) {
			continue
		}

		domain := NormalizedHost(e.canon.Host(rawURL))

		if e.domains.IsCircuitBreakerOpen(domain) {
			e.metrics.RecordCircuitBreaker(domain)
			e.emit(fmt.Sprintf("🚨 CIRCUIT BREAKER ACTIVE for %s", domain), models.LogLevelWarning)
			continue
		}

		if e.domains.ShouldDelay(domain) {
			info, _ := e.frontier.GetQueuedURLInfo(rawURL)
			e.frontier.ScheduleRetry(rawURL, info.RetryCount, e.domains.GetDelay(domain))
			e.emit(fmt.Sprintf("Domain %s delayed, requeued %s", domain, rawURL), models.LogLevelDebug)
			continue
		}

		info, _ := e.frontier.GetQueuedURLInfo(rawURL)
		result := e.startAttempt(rawURL, domain, info)

		e.domains.RecordRequest(domain)
		e.metrics.RecordRequest(domain)
		e.processURL(ctx, result, cfg, info.Depth)
		now := time.Now()
		result.FinishedAt = &now

		if result.CrawlStatus == models.CrawlStatusDownloaded {
			e.frontier.MarkVisited(rawURL)
			e.metrics.RecordSuccess(domain)
			e.domains.RecordSuccess(domain)
			e.emit(fmt.Sprintf("Downloaded %s (%d bytes)", rawURL, result.ContentSize), models.LogLevelInfo)
		} else {
			e.handleFailure(result, cfg, rawURL, domain)
		}

		e.upsertResult(result)
		e.storeResult(ctx, result)

		if e.SuccessCount() >= cfg.MaxPages {
			e.emit(fmt.Sprintf("Page limit reached (%d), stopping", cfg.MaxPages), models.LogLevelInfo)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.tuning.PaceSleep):
		}
	}
}

func (e *Engine) startAttempt(rawURL, domain string, info URLInfo) *models.CrawlResult {
	result := &models.CrawlResult{
		URL:            rawURL,
		Domain:         domain,
		CrawlStatus:    models.CrawlStatusDownloading,
		RetryCount:     info.RetryCount,
		IsRetryAttempt: info.RetryCount > 0,
		Depth:          info.Depth,
	}
	if prev, ok := e.getResult(rawURL); ok {
		result.QueuedAt = prev.QueuedAt
	} else {
		result.QueuedAt = time.Now()
	}
	now := time.Now()
	result.StartedAt = &now
	e.upsertResult(result)
	return result
}

func (e *Engine) handleFailure(result *models.CrawlResult, cfg models.CrawlConfig, rawURL, domain string) {
	if ShouldRetry(result.FailureType, result.RetryCount, cfg.MaxRetries) {
		delay := CalculateRetryDelay(result.RetryCount+1, e.tuning.Retry, result.FailureType)
		e.frontier.ScheduleRetry(rawURL, result.RetryCount+1, delay)
		result.CrawlStatus = models.CrawlStatusRetryScheduled
		e.metrics.RecordRetry(domain)
		e.emit(fmt.Sprintf("Retry %d/%d scheduled for %s in %s (%s)",
			result.RetryCount+1, cfg.MaxRetries, rawURL, delay, result.FailureType), models.LogLevelWarning)
	} else {
		e.frontier.MarkVisited(rawURL)
		result.CrawlStatus = models.CrawlStatusFailed
		e.metrics.RecordFailure(domain, result.FailureType)
		e.emit(fmt.Sprintf("Failed %s: %s (%s)", rawURL, result.ErrorMessage, result.FailureType), models.LogLevelError)
	}

	if result.FailureType == models.FailureRateLimited {
		e.metrics.RecordRateLimit(domain)
		e.domains.RecordRateLimit(domain)
	} else if result.CrawlStatus == models.CrawlStatusFailed {
		tripped := e.domains.RecordFailure(domain, result.FailureType)
		if tripped {
			e.emit(fmt.Sprintf("Circuit breaker opened for %s", domain), models.LogLevelWarning)
		}
	}
}

// processURL does robots check, fetch, and content handling for one URL
func (e *Engine) processURL(ctx context.Context, result *models.CrawlResult, cfg models.CrawlConfig, depth int) {
	if cfg.RespectRobotsTxt && e.robots != nil {
		allowed, err := e.robots.IsAllowed(ctx, result.URL, cfg.UserAgent)
		if err == nil && !allowed {
			result.CrawlStatus = models.CrawlStatusFailed
			result.FailureType = models.FailureRobotsBlocked
			result.ErrorMessage = "blocked by robots.txt"
			return
		}
		if delay := e.robots.GetCrawlDelay(e.canon.Host(result.URL), cfg.UserAgent); delay > 0 {
			e.domains.SetMinInterval(result.Domain, delay)
		}
	}

	fetch := e.fetcher.Fetch(ctx, result.URL)

	result.HTTPStatus = fetch.HTTPStatus
	result.ContentType = fetch.ContentType
	result.ContentSize = len(fetch.Content)
	if fetch.FinalURL != "" {
		result.FinalURL = e.canon.Canonicalize(fetch.FinalURL)
	}

	if !fetch.Success {
		result.CrawlStatus = models.CrawlStatusFailed
		result.FailureType = fetch.FailureType
		result.ErrorMessage = fetch.ErrorMessage
		result.TransportErrorCode = fetch.TransportErrorCode
		return
	}

	result.CrawlStatus = models.CrawlStatusDownloaded

	if isHTMLContent(fetch.ContentType) {
		parsed := e.parser.Parse(string(fetch.Content), result.FinalURL)
		result.Title = parsed.Title
		result.MetaDescription = parsed.MetaDescription
		if cfg.IncludeFullContent {
			result.TextContent = parsed.TextContent
			result.ContentMarkdown = parsed.ContentMarkdown
		} else {
			result.TextContent = truncate(parsed.TextContent, e.tuning.ContentPreviewSize)
			result.ContentMarkdown = truncate(parsed.ContentMarkdown, e.tuning.ContentPreviewSize)
		}
		result.OutboundLinks = parsed.Links
		e.extractAndAddURLs(ctx, parsed.Links, cfg, depth)
	}
}

// extractAndAddURLs enqueues discovered links subject to depth, page, and
// domain bounds
func (e *Engine) extractAndAddURLs(ctx context.Context, links []string, cfg models.CrawlConfig, depth int) {
	if depth+1 > cfg.MaxDepth {
		return
	}
	if e.SuccessCount() >= cfg.MaxPages {
		return
	}

	e.mu.Lock()
	seedDomain := e.seedDomain
	e.mu.Unlock()

	added := 0
	for _, link := range links {
		canonical := e.canon.Canonicalize(link)
		if !strings.HasPrefix(canonical, "http") {
			continue
		}
		if cfg.RestrictToSeedDomain && seedDomain != "" {
			if NormalizedHost(e.canon.Host(canonical)) != seedDomain {
				continue
			}
		}
		if e.frontier.Size()+e.frontier.VisitedCount() >= cfg.MaxPages*10 {
			break
		}
		if e.frontier.AddURL(canonical, false, models.PriorityNormal, depth+1) {
			added++
			e.upsertResult(&models.CrawlResult{
				URL:         canonical,
				Domain:      NormalizedHost(e.canon.Host(canonical)),
				CrawlStatus: models.CrawlStatusQueued,
				Depth:       depth + 1,
				QueuedAt:    time.Now(),
			})
		}
	}
	if added > 0 {
		e.emit(fmt.Sprintf("Queued %d links at depth %d", added, depth+1), models.LogLevelDebug)
	}
}

func (e *Engine) storeResult(ctx context.Context, result *models.CrawlResult) {
	if e.store == nil {
		return
	}
	if result.CrawlStatus != models.CrawlStatusDownloaded && result.CrawlStatus != models.CrawlStatusFailed {
		return
	}
	if _, err := e.store.StoreCrawlResult(ctx, result); err != nil {
		e.emit(fmt.Sprintf("Failed to store result for %s: %v", result.URL, err), models.LogLevelWarning)
	}
}

func (e *Engine) finish() {
	e.metrics.LogSummary(e.logger, e.sessionID)
	e.emit("Crawl session finished", models.LogLevelInfo)

	e.mu.Lock()
	e.state = EngineStopped
	onComplete := e.onComplete
	e.onComplete = nil
	done := e.done
	e.mu.Unlock()

	if onComplete != nil {
		onComplete(e.Results())
	}
	if done != nil {
		close(done)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
