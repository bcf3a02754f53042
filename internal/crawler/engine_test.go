package crawler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/models"
)

// newTestEngine wires an engine against a live test server with short
// delays so retry paths complete in test time
func newTestEngine(t *testing.T, cfg models.CrawlConfig) *Engine {
	t.Helper()

	fetcher := NewFetcher(FetcherConfig{
		UserAgent:       "ReperioBot/1.0",
		RequestTimeout:  5 * time.Second,
		FollowRedirects: cfg.FollowRedirects,
		MaxRedirects:    cfg.MaxRedirects,
	}, nil, nil)

	domains := NewDomainManager(DomainManagerConfig{
		PolitenessDelay:    0,
		FailureThreshold:   5,
		CircuitOpenTime:    time.Minute,
		CircuitOpenMax:     30 * time.Minute,
		RateLimitBaseDelay: 10 * time.Millisecond,
	})

	return NewEngine("sess_test", cfg, EngineDeps{
		Fetcher: fetcher,
		Parser:  NewParser(nil),
		Domains: domains,
		Robots:  nil,
		Tuning: EngineTuning{
			Retry: RetryConfig{
				InitialDelay:       10 * time.Millisecond,
				MaxDelay:           50 * time.Millisecond,
				Multiplier:         2.0,
				RateLimitBaseDelay: 10 * time.Millisecond,
			},
			IdleSleep: 10 * time.Millisecond,
			PaceSleep: time.Millisecond,
		},
	})
}

func testCrawlConfig() models.CrawlConfig {
	cfg := models.NewDefaultCrawlConfig()
	cfg.RespectRobotsTxt = false
	cfg.SpaRenderingEnabled = false
	cfg.MaxRetries = 2
	return cfg
}

func runToCompletion(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Start())

	deadline := time.After(15 * time.Second)
	doneCh := make(chan struct{})
	go func() {
		e.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-deadline:
		e.Stop()
		t.Fatal("crawl did not finish in time")
	}
}

func resultFor(results []*models.CrawlResult, path string) *models.CrawlResult {
	for _, r := range results {
		if u, err := url.Parse(r.URL); err == nil && u.Path == path {
			return r
		}
	}
	return nil
}

func TestEngine_RedirectAndDeduplication(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var pageHits atomic.Int32
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>New</title></head><body>
<a href="/old">loop back</a><a href="/other">other</a></body></html>`))
	})
	mux.HandleFunc("/other", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Other</title></head><body>done</body></html>`))
	})

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL+"/old", false))
	runToCompletion(t, e)

	results := e.Results()
	old := resultFor(results, "/old")
	require.NotNil(t, old)
	assert.Equal(t, models.CrawlStatusDownloaded, old.CrawlStatus)
	assert.Contains(t, old.FinalURL, "/new")
	assert.Equal(t, "New", old.Title)

	// /new was reached once via the seed redirect; the discovered link
	// back to /old is already visited and never refetched
	assert.Equal(t, int32(1), pageHits.Load())

	other := resultFor(results, "/other")
	require.NotNil(t, other)
	assert.Equal(t, models.CrawlStatusDownloaded, other.CrawlStatus)
	assert.Equal(t, 1, other.Depth)
}

func TestEngine_RateLimitRetrySucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Recovered</title></head><body>ok</body></html>`))
	}))
	defer srv.Close()

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL+"/page", false))
	runToCompletion(t, e)

	results := e.Results()
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, models.CrawlStatusDownloaded, r.CrawlStatus)
	assert.Equal(t, "Recovered", r.Title)
	assert.Equal(t, 1, r.RetryCount)
	assert.True(t, r.IsRetryAttempt)
	assert.Equal(t, int32(2), hits.Load())

	snap := e.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.RateLimitHits)
	assert.Equal(t, int64(1), snap.Retries)
	assert.Equal(t, int64(1), snap.Successes)
}

func TestEngine_RetriesExhaustedMarksFailed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testCrawlConfig()
	cfg.MaxRetries = 2
	e := newTestEngine(t, cfg)
	require.NoError(t, e.AddSeedURL(srv.URL+"/down", false))
	runToCompletion(t, e)

	results := e.Results()
	require.Len(t, results, 1)
	assert.Equal(t, models.CrawlStatusFailed, results[0].CrawlStatus)
	assert.Equal(t, models.FailureTemporary5xx, results[0].FailureType)
	// initial attempt plus two retries
	assert.Equal(t, int32(3), hits.Load())
}

func TestEngine_Permanent4xxNeverRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL+"/missing", false))
	runToCompletion(t, e)

	results := e.Results()
	require.Len(t, results, 1)
	assert.Equal(t, models.CrawlStatusFailed, results[0].CrawlStatus)
	assert.Equal(t, models.FailurePermanent4xx, results[0].FailureType)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEngine_CircuitBreakerSuppressesDomain(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var hits atomic.Int32
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/seed" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body>
<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a>
<a href="/p4">4</a><a href="/p5">5</a><a href="/p6">6</a>
<a href="/p7">7</a></body></html>`))
			return
		}
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	cfg := testCrawlConfig()
	cfg.MaxRetries = 0
	e := newTestEngine(t, cfg)
	require.NoError(t, e.AddSeedURL(srv.URL+"/seed", false))
	runToCompletion(t, e)

	// five permanent failures trip the breaker; remaining URLs are
	// suppressed without a fetch
	assert.Equal(t, int32(5), hits.Load())
	snap := e.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.CircuitBreakerTriggers)
	assert.Equal(t, int64(5), snap.PermanentFailures)
}

func TestEngine_DepthLimitInclusive(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page := func(next string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			if next != "" {
				w.Write([]byte(`<html><body><a href="` + next + `">next</a></body></html>`))
			} else {
				w.Write([]byte(`<html><body>leaf</body></html>`))
			}
		}
	}
	mux.HandleFunc("/d0", page("/d1"))
	mux.HandleFunc("/d1", page("/d2"))
	mux.HandleFunc("/d2", page("/d3"))
	mux.HandleFunc("/d3", page("/d4"))
	mux.HandleFunc("/d4", page(""))

	cfg := testCrawlConfig()
	cfg.MaxDepth = 2
	e := newTestEngine(t, cfg)
	require.NoError(t, e.AddSeedURL(srv.URL+"/d0", false))
	runToCompletion(t, e)

	results := e.Results()
	assert.NotNil(t, resultFor(results, "/d0"))
	assert.NotNil(t, resultFor(results, "/d1"))
	assert.NotNil(t, resultFor(results, "/d2"))
	// depth 3 exceeds the inclusive limit and is never queued
	assert.Nil(t, resultFor(results, "/d3"))
}

func TestEngine_PageLimitCountsSuccessesOnly(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/seed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
<a href="/broken">x</a><a href="/a">a</a><a href="/b">b</a>
<a href="/c">c</a></body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>page</body></html>`))
	})

	cfg := testCrawlConfig()
	cfg.MaxPages = 3
	e := newTestEngine(t, cfg)
	require.NoError(t, e.AddSeedURL(srv.URL+"/seed", false))
	runToCompletion(t, e)

	// seed + two of a/b/c succeed; the 410 does not consume the budget
	assert.Equal(t, 3, e.SuccessCount())
	snap := e.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.Successes)
}

func TestEngine_RestrictToSeedDomain(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>external</body></html>`))
	}))
	defer other.Close()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/seed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="` + other.URL + `/x">ext</a>
<a href="/local">local</a></body></html>`))
	})
	mux.HandleFunc("/local", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>local</body></html>`))
	})

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL+"/seed", false))
	runToCompletion(t, e)

	results := e.Results()
	assert.NotNil(t, resultFor(results, "/local"))
	assert.Nil(t, resultFor(results, "/x"))
}

func TestEngine_RobotsBlockedIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var pageHits atomic.Int32
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/private/page", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
	})

	cfg := testCrawlConfig()
	cfg.RespectRobotsTxt = true
	e := newTestEngine(t, cfg)
	e.robots = NewRobotsPolicy(e.fetcher.Client(), time.Hour)

	require.NoError(t, e.AddSeedURL(srv.URL+"/private/page", false))
	runToCompletion(t, e)

	results := e.Results()
	require.Len(t, results, 1)
	assert.Equal(t, models.CrawlStatusFailed, results[0].CrawlStatus)
	assert.Equal(t, models.FailureRobotsBlocked, results[0].FailureType)
	assert.Equal(t, int32(0), pageHits.Load())
}

func TestEngine_StopInterruptsCrawl(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("slow"))
	}))
	defer srv.Close()

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL+"/slow", false))
	require.NoError(t, e.Start())

	time.Sleep(50 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	e.Stop()

	assert.Equal(t, EngineStopped, e.State())
}

func TestEngine_LifecycleGuards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("<html><body>x</body></html>"))
	}))
	defer srv.Close()

	e := newTestEngine(t, testCrawlConfig())
	require.NoError(t, e.AddSeedURL(srv.URL, false))
	require.NoError(t, e.Start())
	assert.Error(t, e.Start(), "double start must fail")
	e.Wait()

	assert.Equal(t, EngineStopped, e.State())
	require.NoError(t, e.Reset())
	assert.Equal(t, EngineIdle, e.State())
	assert.Empty(t, e.Results())
	assert.Equal(t, 0, e.SuccessCount())
}

func TestEngine_CompletionCallbackFiresOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>done</body></html>"))
	}))
	defer srv.Close()

	var calls atomic.Int32
	e := newTestEngine(t, testCrawlConfig())
	e.SetOnComplete(func(results []*models.CrawlResult) {
		calls.Add(1)
		assert.NotEmpty(t, results)
	})

	require.NoError(t, e.AddSeedURL(srv.URL, false))
	runToCompletion(t, e)
	e.Stop() // no-op after completion

	assert.Equal(t, int32(1), calls.Load())
}
