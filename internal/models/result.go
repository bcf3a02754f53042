// -----------------------------------------------------------------------
// Crawl Result - Per-URL attempt state and failure taxonomy
// -----------------------------------------------------------------------

package models

import "time"

// CrawlStatus represents the state of a single URL within a crawl session
type CrawlStatus string

const (
	CrawlStatusQueued         CrawlStatus = "queued"
	CrawlStatusDownloading    CrawlStatus = "downloading"
	CrawlStatusDownloaded     CrawlStatus = "downloaded"
	CrawlStatusRetryScheduled CrawlStatus = "retry_scheduled"
	CrawlStatusFailed         CrawlStatus = "failed"
)

// URLPriority orders the frontier ready queue
type URLPriority int

const (
	PriorityLow URLPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p URLPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// FailureType classifies why a fetch attempt failed
type FailureType string

const (
	FailureNone                FailureType = "none"
	FailurePermanent4xx        FailureType = "permanent_4xx"
	FailureRateLimited         FailureType = "rate_limited"
	FailureTemporary5xx        FailureType = "temporary_5xx"
	FailureTimeout             FailureType = "timeout"
	FailureConnection          FailureType = "connection"
	FailureDNS                 FailureType = "dns"
	FailureSSL                 FailureType = "ssl"
	FailureRedirectLoop        FailureType = "redirect_loop"
	FailureRobotsBlocked       FailureType = "robots_blocked"
	FailureContentTypeRejected FailureType = "content_type_rejected"
	FailureUnknown             FailureType = "unknown"
)

// failureProperties carries the retryability and default backoff per failure type
type failureProperties struct {
	Retryable      bool
	DefaultBackoff time.Duration
}

var failureTable = map[FailureType]failureProperties{
	FailureNone:                {Retryable: false, DefaultBackoff: 0},
	FailurePermanent4xx:        {Retryable: false, DefaultBackoff: 0},
	FailureRateLimited:         {Retryable: true, DefaultBackoff: 60 * time.Second},
	FailureTemporary5xx:        {Retryable: true, DefaultBackoff: 5 * time.Second},
	FailureTimeout:             {Retryable: true, DefaultBackoff: 10 * time.Second},
	FailureConnection:          {Retryable: true, DefaultBackoff: 10 * time.Second},
	FailureDNS:                 {Retryable: true, DefaultBackoff: 30 * time.Second},
	FailureSSL:                 {Retryable: false, DefaultBackoff: 0},
	FailureRedirectLoop:        {Retryable: false, DefaultBackoff: 0},
	FailureRobotsBlocked:       {Retryable: false, DefaultBackoff: 0},
	FailureContentTypeRejected: {Retryable: false, DefaultBackoff: 0},
	FailureUnknown:             {Retryable: true, DefaultBackoff: 30 * time.Second},
}

// IsRetryable reports whether attempts with this failure type may be retried
func (f FailureType) IsRetryable() bool {
	return failureTable[f].Retryable
}

// DefaultBackoff returns the base delay before retrying this failure type
func (f FailureType) DefaultBackoff() time.Duration {
	return failureTable[f].DefaultBackoff
}

// URLEntry is the frontier state for one URL
type URLEntry struct {
	URL             string      `json:"url"`
	Depth           int         `json:"depth"`
	Priority        URLPriority `json:"priority"`
	RetryCount      int         `json:"retry_count"`
	ReadyAt         time.Time   `json:"ready_at"`
	LastFailureType FailureType `json:"last_failure_type,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// CrawlResult captures one URL's crawl state within a session.
// The session worker is the sole writer; readers receive snapshots.
type CrawlResult struct {
	URL      string `json:"url"`
	FinalURL string `json:"final_url,omitempty"` // After redirects
	Domain   string `json:"domain"`

	CrawlStatus CrawlStatus `json:"crawl_status"`
	HTTPStatus  int         `json:"http_status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	ContentSize int         `json:"content_size,omitempty"`

	Title           string   `json:"title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	TextContent     string   `json:"text_content,omitempty"`
	ContentMarkdown string   `json:"content_markdown,omitempty"`
	OutboundLinks   []string `json:"outbound_links,omitempty"`

	ErrorMessage       string      `json:"error_message,omitempty"`
	FailureType        FailureType `json:"failure_type,omitempty"`
	TransportErrorCode string      `json:"transport_error_code,omitempty"`

	RetryCount     int  `json:"retry_count"`
	IsRetryAttempt bool `json:"is_retry_attempt"`
	Depth          int  `json:"depth"`

	QueuedAt       time.Time     `json:"queued_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	TotalRetryTime time.Duration `json:"total_retry_time,omitempty"`
}

// IsSuccess reports whether this result represents a completed download
func (r *CrawlResult) IsSuccess() bool {
	return r.CrawlStatus == CrawlStatusDownloaded
}

// Duration returns the elapsed time of the attempt, zero if still in flight
func (r *CrawlResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// CrawlConfig holds per-session crawl parameters supplied by the caller.
// Service-level defaults (timeouts, user agent, retry tuning) come from
// common.Config and are merged in by the session manager.
type CrawlConfig struct {
	MaxPages             int    `json:"max_pages" validate:"min=1,max=10000"`
	MaxDepth             int    `json:"max_depth" validate:"min=1,max=10"`
	RestrictToSeedDomain bool   `json:"restrict_to_seed_domain"`
	FollowRedirects      bool   `json:"follow_redirects"`
	MaxRedirects         int    `json:"max_redirects" validate:"min=0,max=20"`
	RespectRobotsTxt     bool   `json:"respect_robots_txt"`
	SpaRenderingEnabled  bool   `json:"spa_rendering_enabled"`
	IncludeFullContent   bool   `json:"include_full_content"`
	BrowserlessURL       string `json:"browserless_url,omitempty"`
	UserAgent            string `json:"user_agent,omitempty"`
	MaxRetries           int    `json:"max_retries"`
}

// NewDefaultCrawlConfig returns the per-session defaults used when the
// caller omits a parameter
func NewDefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxPages:             1000,
		MaxDepth:             3,
		RestrictToSeedDomain: true,
		FollowRedirects:      true,
		MaxRedirects:         10,
		RespectRobotsTxt:     true,
		SpaRenderingEnabled:  true,
		IncludeFullContent:   false,
		MaxRetries:           3,
	}
}

// PageFetchResult is the outcome of a single HTTP fetch, including any
// headless-render substitution
type PageFetchResult struct {
	Success            bool        `json:"success"`
	HTTPStatus         int         `json:"http_status"`
	ContentType        string      `json:"content_type"`
	Content            []byte      `json:"-"`
	FinalURL           string      `json:"final_url"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	TransportErrorCode string      `json:"transport_error_code,omitempty"`
	RenderingMethod    string      `json:"rendering_method,omitempty"` // "direct_fetch" or "headless_browser"
	FailureType        FailureType `json:"failure_type,omitempty"`
}

// Rendering method constants
const (
	RenderingDirectFetch     = "direct_fetch"
	RenderingHeadlessBrowser = "headless_browser"
)

// SpaDetection is the outcome of SPA heuristics over fetched content
type SpaDetection struct {
	IsSpa      bool     `json:"is_spa"`
	Indicators []string `json:"indicators"`
	Confidence int      `json:"confidence"` // 0..100
}
