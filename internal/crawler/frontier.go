// -----------------------------------------------------------------------
// URL Frontier - Ready queue, delayed retry queue, and visited set
// -----------------------------------------------------------------------

package crawler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// frontierEntry is one queued URL. seq breaks ordering ties FIFO.
type frontierEntry struct {
	url      string
	depth    int
	priority models.URLPriority
	retry    int
	readyAt  time.Time
	seq      uint64
	index    int
}

// readyQueue orders by priority desc, depth asc, then insertion order
type readyQueue []*frontierEntry

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	if q[i].depth != q[j].depth {
		return q[i].depth < q[j].depth
	}
	return q[i].seq < q[j].seq
}
func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *readyQueue) Push(x interface{}) {
	e := x.(*frontierEntry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// retryQueue orders by readyAt ascending
type retryQueue []*frontierEntry

func (q retryQueue) Len() int { return len(q) }
func (q retryQueue) Less(i, j int) bool {
	if !q[i].readyAt.Equal(q[j].readyAt) {
		return q[i].readyAt.Before(q[j].readyAt)
	}
	return q[i].seq < q[j].seq
}
func (q retryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *retryQueue) Push(x interface{}) {
	e := x.(*frontierEntry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *retryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// URLInfo is the frontier's record of a URL's depth and retry count
type URLInfo struct {
	Depth      int
	RetryCount int
}

// Frontier holds the crawl work queue for one session. A single mutex
// guards the ready queue, retry queue, visited set, and URL info map.
// A URL is in at most one of ready, retry, or visited at any instant.
type Frontier struct {
	mu      sync.Mutex
	ready   readyQueue
	delayed retryQueue
	queued  map[string]bool // URLs currently in either queue
	visited map[string]bool
	info    map[string]*URLInfo // Depth fixed on first insert, retry count updated
	visits  map[string]time.Time
	canon   *Canonicalizer
	seq     uint64
	now     func() time.Time
}

// NewFrontier creates an empty frontier sharing the session canonicalizer
func NewFrontier(canon *Canonicalizer) *Frontier {
	return &Frontier{
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
		info:    make(map[string]*URLInfo),
		visits:  make(map[string]time.Time),
		canon:   canon,
		now:     time.Now,
	}
}

// AddURL enqueues a URL at the given depth. Visited or already-queued
// URLs are skipped unless force is set. Returns true when enqueued.
func (f *Frontier) AddURL(rawURL string, force bool, priority models.URLPriority, depth int) bool {
	key := f.canon.Canonicalize(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !force && f.visited[key] {
		return false
	}
	if !force && f.queued[key] {
		return false
	}
	if force {
		delete(f.visited, key)
	}
	if f.queued[key] {
		return false
	}

	if _, ok := f.info[key]; !ok {
		f.info[key] = &URLInfo{Depth: depth}
	}

	f.seq++
	heap.Push(&f.ready, &frontierEntry{
		url:      key,
		depth:    f.info[key].Depth,
		priority: priority,
		seq:      f.seq,
	})
	f.queued[key] = true
	return true
}

// ScheduleRetry places a URL into the delayed queue. The stored depth is
// preserved; the retry count is updated to newRetryCount.
func (f *Frontier) ScheduleRetry(rawURL string, newRetryCount int, delay time.Duration) {
	key := f.canon.Canonicalize(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queued[key] {
		return
	}

	inf, ok := f.info[key]
	if !ok {
		inf = &URLInfo{}
		f.info[key] = inf
	}
	inf.RetryCount = newRetryCount

	f.seq++
	heap.Push(&f.delayed, &frontierEntry{
		url:     key,
		depth:   inf.Depth,
		retry:   newRetryCount,
		readyAt: f.now().Add(delay),
		seq:     f.seq,
	})
	f.queued[key] = true
}

// Next promotes due retries and pops the highest-priority ready URL.
// Returns empty when nothing is ready.
func (f *Frontier) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.promoteDue()

	if f.ready.Len() == 0 {
		return ""
	}
	e := heap.Pop(&f.ready).(*frontierEntry)
	delete(f.queued, e.url)
	return e.url
}

func (f *Frontier) promoteDue() {
	now := f.now()
	for f.delayed.Len() > 0 && !f.delayed[0].readyAt.After(now) {
		e := heap.Pop(&f.delayed).(*frontierEntry)
		f.seq++
		heap.Push(&f.ready, &frontierEntry{
			url:      e.url,
			depth:    e.depth,
			priority: models.PriorityNormal,
			retry:    e.retry,
			seq:      f.seq,
		})
	}
}

// HasReadyURLs reports whether Next would return a URL right now
func (f *Frontier) HasReadyURLs() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoteDue()
	return f.ready.Len() > 0
}

// PendingRetryCount returns the number of delayed URLs not yet due
func (f *Frontier) PendingRetryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delayed.Len()
}

// Size returns the ready queue length
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready.Len()
}

// RetryQueueSize returns the delayed queue length
func (f *Frontier) RetryQueueSize() int {
	return f.PendingRetryCount()
}

// MarkVisited records a URL as done. The visited set is monotonic; later
// AddURL calls for the URL are no-ops unless forced.
func (f *Frontier) MarkVisited(rawURL string) {
	key := f.canon.Canonicalize(rawURL)
	host := f.canon.Host(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited[key] = true
	if host != "" {
		f.visits[host] = f.now()
	}
}

// IsVisited reports whether a URL has been marked visited
func (f *Frontier) IsVisited(rawURL string) bool {
	key := f.canon.Canonicalize(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited[key]
}

// LastVisitTime returns when the domain was last visited, zero if never
func (f *Frontier) LastVisitTime(domain string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visits[domain]
}

// GetQueuedURLInfo returns the stored depth and retry count for a URL
func (f *Frontier) GetQueuedURLInfo(rawURL string) (URLInfo, bool) {
	key := f.canon.Canonicalize(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	inf, ok := f.info[key]
	if !ok {
		return URLInfo{}, false
	}
	return *inf, true
}

// VisitedCount returns the size of the visited set
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Reset clears all frontier state
func (f *Frontier) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = nil
	f.delayed = nil
	f.queued = make(map[string]bool)
	f.visited = make(map[string]bool)
	f.info = make(map[string]*URLInfo)
	f.visits = make(map[string]time.Time)
}
