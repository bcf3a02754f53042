// -----------------------------------------------------------------------
// Page Fetcher - HTTP GET with redirects and SPA rendering fallback
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/models"
)

// PageRenderer abstracts the external headless-render endpoint
type PageRenderer interface {
	Enabled() bool
	Render(ctx context.Context, pageURL string) (string, error)
}

// FetcherConfig tunes one session's fetch behavior
type FetcherConfig struct {
	UserAgent           string
	RequestTimeout      time.Duration
	MaxBodySize         int
	VerifySSL           bool
	FollowRedirects     bool
	MaxRedirects        int
	SpaRenderingEnabled bool
}

// Fetcher performs HTTP GETs for one session. A failed render never fails
// the fetch; the direct content is kept and a warning logged.
type Fetcher struct {
	client   *http.Client
	cfg      FetcherConfig
	renderer PageRenderer
	logger   arbor.ILogger
}

// NewFetcher builds a fetcher with its own HTTP client
func NewFetcher(cfg FetcherConfig, renderer PageRenderer, logger arbor.ILogger) *Fetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
		MaxIdleConns:    10,
		IdleConnTimeout: 60 * time.Second,
	}

	client := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
	}
	if cfg.FollowRedirects {
		maxRedirects := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Fetcher{
		client:   client,
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
	}
}

// Client exposes the underlying HTTP client for sharing with the robots
// policy
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Fetch GETs a URL and returns the outcome. On SPA detection with
// rendering enabled, content is replaced by the hydrated HTML.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *models.PageFetchResult {
	result := &models.PageFetchResult{
		FinalURL:        rawURL,
		RenderingMethod: models.RenderingDirectFetch,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("invalid URL: %v", err)
		result.FailureType = models.FailureUnknown
		return result
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		result.TransportErrorCode = ClassifyTransportError(err)
		result.ErrorMessage = err.Error()
		result.FailureType = Classify(0, result.TransportErrorCode, result.ErrorMessage)
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.cfg.MaxBodySize)))
	if err != nil {
		result.TransportErrorCode = ClassifyTransportError(err)
		result.ErrorMessage = fmt.Sprintf("failed to read body: %v", err)
		result.FailureType = Classify(resp.StatusCode, result.TransportErrorCode, result.ErrorMessage)
		return result
	}
	result.Content = body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.ErrorMessage = fmt.Sprintf("HTTP status %d", resp.StatusCode)
		result.FailureType = Classify(resp.StatusCode, "", "")
		return result
	}

	result.Success = true

	if f.cfg.SpaRenderingEnabled && isHTMLContent(result.ContentType) {
		f.maybeRender(ctx, result)
	}
	return result
}

// maybeRender swaps in hydrated HTML when the content looks like a SPA
// shell and a render endpoint is available
func (f *Fetcher) maybeRender(ctx context.Context, result *models.PageFetchResult) {
	if f.renderer == nil || !f.renderer.Enabled() {
		return
	}

	detection := DetectSpa(result.Content, result.FinalURL)
	if !detection.IsSpa {
		return
	}

	rendered, err := f.renderer.Render(ctx, result.FinalURL)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn().
				Err(err).
				Str("url", result.FinalURL).
				Msg("SPA render failed, keeping direct content")
		}
		return
	}

	result.Content = []byte(rendered)
	result.RenderingMethod = models.RenderingHeadlessBrowser
	if f.logger != nil {
		f.logger.Debug().
			Str("url", result.FinalURL).
			Int("confidence", detection.Confidence).
			Msg("Replaced content with rendered HTML")
	}
}

// isHTMLContent treats an absent content type as HTML
func isHTMLContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}
