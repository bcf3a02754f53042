// -----------------------------------------------------------------------
// Session Manager - Concurrent crawl session lifecycle and cleanup
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/logbus"
	"github.com/ternarybob/reperio/internal/models"
)

// SessionStatistics summarizes one session's crawl outcomes
type SessionStatistics struct {
	SuccessfulCrawls int     `json:"successfulCrawls"`
	FailedCrawls     int     `json:"failedCrawls"`
	TotalLinksFound  int     `json:"totalLinksFound"`
	SuccessRate      float64 `json:"successRate"`
}

// SessionStatus is the caller-facing view of one session
type SessionStatus struct {
	SessionID    string            `json:"sessionId"`
	SeedURL      string            `json:"seedUrl"`
	IsRunning    bool              `json:"isRunning"`
	TotalCrawled int               `json:"totalCrawled"`
	LastUpdate   time.Time         `json:"lastUpdate"`
	Statistics   SessionStatistics `json:"statistics"`
}

// session pairs an engine with its retention bookkeeping
type session struct {
	engine     *Engine
	seedURL    string
	createdAt  time.Time
	finishedAt time.Time // zero while running
	retrieved  bool
}

// SessionManager owns all crawl sessions. The domain manager and robots
// cache are shared across sessions; each session gets its own fetcher,
// frontier, and results.
type SessionManager struct {
	cfg      *common.Config
	store    interfaces.PageStorage
	bus      *logbus.Bus
	notifier interfaces.Notifier
	logger   arbor.ILogger

	domains *DomainManager
	robots  *RobotsPolicy

	mu       sync.Mutex
	sessions map[string]*session

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// NewSessionManager builds the manager and starts its janitor. Store,
// bus, and notifier may be nil.
func NewSessionManager(cfg *common.Config, store interfaces.PageStorage, bus *logbus.Bus, notifier interfaces.Notifier, logger arbor.ILogger) *SessionManager {
	m := &SessionManager{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		domains: NewDomainManager(DomainManagerConfig{
			PolitenessDelay:    cfg.Crawler.PolitenessDelay,
			FailureThreshold:   cfg.Crawler.FailureThreshold,
			CircuitOpenTime:    cfg.Crawler.CircuitOpenTime,
			CircuitOpenMax:     cfg.Crawler.CircuitOpenMax,
			RateLimitBaseDelay: cfg.Crawler.RateLimitBaseDelay,
		}),
		sessions:    make(map[string]*session),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	robotsFetcher := NewFetcher(FetcherConfig{
		UserAgent:       cfg.Crawler.UserAgent,
		RequestTimeout:  cfg.Crawler.RequestTimeout,
		VerifySSL:       cfg.Crawler.VerifySSL,
		FollowRedirects: true,
	}, nil, logger)
	m.robots = NewRobotsPolicy(robotsFetcher.Client(), cfg.Robots.CacheTTL)

	go m.janitor()
	return m
}

// StartCrawl creates and starts a session for the seed URL. Fails fast
// with ResourceExhausted when the concurrent session cap is hit.
func (m *SessionManager) StartCrawl(seedURL string, crawlCfg models.CrawlConfig, force bool, onComplete func(results []*models.CrawlResult)) (string, error) {
	m.mu.Lock()
	running := 0
	for _, s := range m.sessions {
		if st := s.engine.State(); st == EngineRunning || st == EngineStopping {
			running++
		}
	}
	if running >= m.cfg.Sessions.MaxConcurrent {
		m.mu.Unlock()
		return "", common.NewResourceExhaustedError(
			"session limit reached (%d active, max %d)", running, m.cfg.Sessions.MaxConcurrent)
	}
	m.mu.Unlock()

	m.applyServiceDefaults(&crawlCfg)

	sessionID := common.NewSessionID()
	engine := NewEngine(sessionID, crawlCfg, EngineDeps{
		Fetcher: m.buildFetcher(crawlCfg),
		Parser:  NewParser(m.logger),
		Domains: m.domains,
		Robots:  m.robots,
		Store:   m.store,
		Bus:     m.bus,
		Logger:  m.logger,
		Tuning: EngineTuning{
			Retry: RetryConfig{
				MaxRetries:         crawlCfg.MaxRetries,
				InitialDelay:       m.cfg.Crawler.RetryInitialDelay,
				MaxDelay:           m.cfg.Crawler.RetryMaxDelay,
				Multiplier:         m.cfg.Crawler.RetryMultiplier,
				RateLimitBaseDelay: m.cfg.Crawler.RateLimitBaseDelay,
				Jitter:             true,
			},
			IdleSleep:          m.cfg.Crawler.IdleSleep,
			PaceSleep:          m.cfg.Crawler.PaceSleep,
			ContentPreviewSize: m.cfg.Crawler.ContentPreviewSize,
		},
	})

	if err := engine.AddSeedURL(seedURL, force); err != nil {
		return "", common.NewValidationError("invalid seed URL %q: %v", seedURL, err)
	}

	s := &session{
		engine:    engine,
		seedURL:   seedURL,
		createdAt: time.Now(),
	}
	engine.SetOnComplete(func(results []*models.CrawlResult) {
		m.onSessionComplete(sessionID, s, results, onComplete)
	})

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	if err := engine.Start(); err != nil {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return "", common.NewInternalError(err)
	}

	if m.logger != nil {
		m.logger.Info().
			Str("session_id", sessionID).
			Str("seed_url", seedURL).
			Int("max_pages", crawlCfg.MaxPages).
			Int("max_depth", crawlCfg.MaxDepth).
			Msg("Crawl session started")
	}
	return sessionID, nil
}

// applyServiceDefaults fills per-session fields the caller left empty.
// The service-level robots switch can only disable robots checks; a
// session cannot opt back in once the operator turned them off.
func (m *SessionManager) applyServiceDefaults(crawlCfg *models.CrawlConfig) {
	if !m.cfg.Robots.Respect {
		crawlCfg.RespectRobotsTxt = false
	}
	if crawlCfg.UserAgent == "" {
		crawlCfg.UserAgent = m.cfg.Crawler.UserAgent
	}
	if crawlCfg.BrowserlessURL == "" {
		crawlCfg.BrowserlessURL = m.cfg.Crawler.BrowserlessURL
	}
	if crawlCfg.MaxRetries <= 0 {
		crawlCfg.MaxRetries = m.cfg.Crawler.MaxRetries
	}
}

func (m *SessionManager) buildFetcher(crawlCfg models.CrawlConfig) *Fetcher {
	var renderer PageRenderer
	if crawlCfg.SpaRenderingEnabled && crawlCfg.BrowserlessURL != "" {
		renderer = NewRenderer(crawlCfg.BrowserlessURL, m.cfg.Crawler.RenderTimeout, m.logger)
	}
	return NewFetcher(FetcherConfig{
		UserAgent:           crawlCfg.UserAgent,
		RequestTimeout:      m.cfg.Crawler.RequestTimeout,
		MaxBodySize:         m.cfg.Crawler.MaxBodySize,
		VerifySSL:           m.cfg.Crawler.VerifySSL,
		FollowRedirects:     crawlCfg.FollowRedirects,
		MaxRedirects:        crawlCfg.MaxRedirects,
		SpaRenderingEnabled: crawlCfg.SpaRenderingEnabled,
	}, renderer, m.logger)
}

func (m *SessionManager) onSessionComplete(sessionID string, s *session, results []*models.CrawlResult, onComplete func([]*models.CrawlResult)) {
	m.mu.Lock()
	s.finishedAt = time.Now()
	m.mu.Unlock()

	if onComplete != nil {
		onComplete(results)
	}

	if m.notifier != nil {
		completion := summarize(sessionID, s.seedURL, results)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.notifier.NotifyCrawlComplete(ctx, completion); err != nil && m.logger != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Completion notification failed")
		}
	}
}

func summarize(sessionID, seedURL string, results []*models.CrawlResult) *interfaces.CrawlCompletion {
	c := &interfaces.CrawlCompletion{
		SessionID: sessionID,
		SeedURL:   seedURL,
		Results:   results,
	}
	for _, r := range results {
		switch r.CrawlStatus {
		case models.CrawlStatusDownloaded:
			c.SuccessfulPages++
		case models.CrawlStatusFailed:
			c.FailedPages++
		}
		c.TotalLinksFound += len(r.OutboundLinks)
	}
	return c
}

// GetResults returns the session's result snapshot and marks it retrieved
// for janitor cleanup
func (m *SessionManager) GetResults(sessionID string) ([]*models.CrawlResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.retrieved = true
	}
	m.mu.Unlock()

	if !ok {
		return nil, common.NewNotFoundError("unknown session: %s", sessionID)
	}
	return s.engine.Results(), nil
}

// GetStatus returns the caller-facing view of one session
func (m *SessionManager) GetStatus(sessionID string) (*SessionStatus, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return nil, common.NewNotFoundError("unknown session: %s", sessionID)
	}
	return m.status(sessionID, s), nil
}

func (m *SessionManager) status(sessionID string, s *session) *SessionStatus {
	results := s.engine.Results()

	stats := SessionStatistics{}
	lastUpdate := s.createdAt
	for _, r := range results {
		switch r.CrawlStatus {
		case models.CrawlStatusDownloaded:
			stats.SuccessfulCrawls++
		case models.CrawlStatusFailed:
			stats.FailedCrawls++
		}
		stats.TotalLinksFound += len(r.OutboundLinks)
		if r.FinishedAt != nil && r.FinishedAt.After(lastUpdate) {
			lastUpdate = *r.FinishedAt
		}
	}
	if finished := stats.SuccessfulCrawls + stats.FailedCrawls; finished > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCrawls) / float64(finished)
	}

	return &SessionStatus{
		SessionID:    sessionID,
		SeedURL:      s.seedURL,
		IsRunning:    s.engine.State() == EngineRunning,
		TotalCrawled: stats.SuccessfulCrawls + stats.FailedCrawls,
		LastUpdate:   lastUpdate,
		Statistics:   stats,
	}
}

// StopCrawl stops a running session. Results remain retrievable until the
// janitor removes them.
func (m *SessionManager) StopCrawl(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return common.NewNotFoundError("unknown session: %s", sessionID)
	}
	s.engine.Stop()
	return nil
}

// ActiveSessions returns the status of every tracked session
func (m *SessionManager) ActiveSessions() []*SessionStatus {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		ids = append(ids, id)
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]*SessionStatus, 0, len(sessions))
	for i, s := range sessions {
		out = append(out, m.status(ids[i], s))
	}
	return out
}

// Metrics returns the session's metrics snapshot
func (m *SessionManager) Metrics(sessionID string) (MetricsSnapshot, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return MetricsSnapshot{}, common.NewNotFoundError("unknown session: %s", sessionID)
	}
	return s.engine.Metrics().Snapshot(), nil
}

// janitor periodically removes terminated sessions whose results were
// retrieved or expired
func (m *SessionManager) janitor() {
	defer close(m.janitorDone)

	period := m.cfg.Sessions.JanitorPeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.janitorStop:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *SessionManager) sweep(now time.Time) {
	ttl := m.cfg.Sessions.ResultTTL

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.engine.State() != EngineStopped {
			continue
		}
		expired := !s.finishedAt.IsZero() && now.Sub(s.finishedAt) > ttl
		if s.retrieved || expired {
			delete(m.sessions, id)
			if m.logger != nil {
				m.logger.Debug().Str("session_id", id).Msg("Session swept")
			}
		}
	}
	m.mu.Unlock()
}

// Close stops the janitor and all running sessions
func (m *SessionManager) Close() {
	close(m.janitorStop)
	<-m.janitorDone

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.engine.Stop()
	}
}
