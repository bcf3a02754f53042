// -----------------------------------------------------------------------
// Headless Renderer - SPA rendering via an external browser endpoint
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Renderer produces hydrated HTML for client-side rendered pages. It
// connects to an external headless browser (browserless or any remote
// Chrome DevTools endpoint); no JavaScript runs in this process.
type Renderer struct {
	endpoint string
	timeout  time.Duration
	waitTime time.Duration
	logger   arbor.ILogger
}

// NewRenderer creates a renderer for the given ws:// or http:// endpoint.
// An empty endpoint disables rendering; Render then returns an error and
// callers fall back to the direct fetch.
func NewRenderer(endpoint string, timeout time.Duration, logger arbor.ILogger) *Renderer {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Renderer{
		endpoint: normalizeDevtoolsEndpoint(endpoint),
		timeout:  timeout,
		waitTime: 2 * time.Second,
		logger:   logger,
	}
}

// Enabled reports whether a render endpoint is configured
func (r *Renderer) Enabled() bool {
	return r.endpoint != ""
}

// Render navigates the remote browser to the URL, waits for the page to
// settle, and returns the hydrated document HTML
func (r *Renderer) Render(ctx context.Context, pageURL string) (string, error) {
	if r.endpoint == "" {
		return "", fmt.Errorf("headless render endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, r.endpoint)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.waitTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("headless render of %s failed: %w", pageURL, err)
	}

	if r.logger != nil {
		r.logger.Debug().
			Str("url", pageURL).
			Int("content_size", len(html)).
			Msg("Rendered page via headless browser")
	}
	return html, nil
}

// normalizeDevtoolsEndpoint maps http(s) endpoints onto the DevTools
// websocket form browserless expects
func normalizeDevtoolsEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	if strings.HasPrefix(endpoint, "https://") {
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	}
	if strings.HasPrefix(endpoint, "http://") {
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return "ws://" + endpoint
}
