// -----------------------------------------------------------------------
// Robots Policy - Per-host robots.txt fetch, cache, and allow checks
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	robotsTxtPath      = "/robots.txt"
	maxRobotsBodySize  = 512 * 1024
	robotsFetchTimeout = 10 * time.Second
)

// robotsEntry caches the parsed rules for one host. allowAll covers the
// unreachable and non-2xx cases.
type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool
}

// RobotsPolicy fetches and caches robots.txt per host. Unreachable or
// missing robots.txt means allow all.
type RobotsPolicy struct {
	client   *http.Client
	cache    map[string]*robotsEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	now      func() time.Time
}

// NewRobotsPolicy creates a policy with the given cache TTL. A nil client
// gets a default with a short timeout.
func NewRobotsPolicy(client *http.Client, cacheTTL time.Duration) *RobotsPolicy {
	if client == nil {
		client = &http.Client{Timeout: robotsFetchTimeout}
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &RobotsPolicy{
		client:   client,
		cache:    make(map[string]*robotsEntry),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// IsAllowed reports whether the URL may be fetched under the host's
// robots.txt for the given user agent. Parse failures of the URL itself
// deny; missing robots.txt allows.
func (r *RobotsPolicy) IsAllowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry := r.getOrFetch(ctx, host, parsed.Scheme, userAgent)
	if entry.allowAll {
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return entry.data.TestAgent(path, userAgent), nil
}

// GetCrawlDelay returns the Crawl-delay for the host's matching agent
// group, zero when absent or uncached
func (r *RobotsPolicy) GetCrawlDelay(host, userAgent string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[strings.ToLower(host)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	group := entry.data.FindGroup(userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (r *RobotsPolicy) getOrFetch(ctx context.Context, host, scheme, userAgent string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.cache[host]
	fresh := ok && r.now().Sub(entry.fetchedAt) <= r.cacheTTL
	r.mu.RUnlock()
	if fresh {
		return entry
	}
	return r.fetchAndCache(ctx, host, scheme, userAgent)
}

// fetchAndCache does one attempt at the host's robots.txt. Any fetch
// failure caches allow-all so the host is not hammered with retries.
func (r *RobotsPolicy) fetchAndCache(ctx context.Context, host, scheme, userAgent string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + host + robotsTxtPath

	entry := &robotsEntry{fetchedAt: r.now(), allowAll: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err == nil {
		req.Header.Set("User-Agent", userAgent)
		resp, doErr := r.client.Do(req)
		if doErr == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodySize))
			resp.Body.Close()
			if readErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if data, parseErr := robotstxt.FromBytes(body); parseErr == nil {
					entry = &robotsEntry{data: data, fetchedAt: r.now()}
				}
			}
		}
	}

	r.mu.Lock()
	r.cache[host] = entry
	r.mu.Unlock()
	return entry
}

// CacheSize returns the number of cached hosts
func (r *RobotsPolicy) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
