package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/models"
)

func newTestFrontier() (*Frontier, *time.Time) {
	f := NewFrontier(NewCanonicalizer(nil))
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return current }
	return f, &current
}

func TestFrontier_OrderingPriorityDepthFIFO(t *testing.T) {
	f, _ := newTestFrontier()

	f.AddURL("http://a.test/normal-deep", false, models.PriorityNormal, 2)
	f.AddURL("http://a.test/normal-shallow", false, models.PriorityNormal, 1)
	f.AddURL("http://a.test/high", false, models.PriorityHigh, 3)
	f.AddURL("http://a.test/first-tie", false, models.PriorityNormal, 1)
	f.AddURL("http://a.test/critical", false, models.PriorityCritical, 5)

	var order []string
	for {
		u := f.Next()
		if u == "" {
			break
		}
		order = append(order, u)
	}

	require.Equal(t, []string{
		"http://a.test/critical",
		"http://a.test/high",
		"http://a.test/normal-shallow",
		"http://a.test/first-tie",
		"http://a.test/normal-deep",
	}, order)
}

func TestFrontier_DuplicatesAndVisited(t *testing.T) {
	f, _ := newTestFrontier()

	assert.True(t, f.AddURL("http://a.test/page", false, models.PriorityNormal, 0))
	// Canonical duplicate is rejected
	assert.False(t, f.AddURL("http://WWW.a.test/page?utm_source=x", false, models.PriorityNormal, 1))
	assert.Equal(t, 1, f.Size())

	u := f.Next()
	require.NotEmpty(t, u)
	f.MarkVisited(u)

	assert.True(t, f.IsVisited("http://a.test/page"))
	assert.False(t, f.AddURL("http://a.test/page", false, models.PriorityNormal, 0))

	// force re-queues a visited URL
	assert.True(t, f.AddURL("http://a.test/page", true, models.PriorityNormal, 0))
	assert.Equal(t, 1, f.Size())
}

func TestFrontier_RetryPromotion(t *testing.T) {
	f, clock := newTestFrontier()

	f.AddURL("http://a.test/x", false, models.PriorityNormal, 1)
	u := f.Next()
	require.Equal(t, "http://a.test/x", u)

	f.ScheduleRetry(u, 1, 5*time.Second)
	assert.Equal(t, 1, f.PendingRetryCount())
	assert.Empty(t, f.Next(), "retry not yet due")
	assert.False(t, f.HasReadyURLs())

	*clock = clock.Add(6 * time.Second)
	assert.True(t, f.HasReadyURLs())
	assert.Equal(t, "http://a.test/x", f.Next())
	assert.Equal(t, 0, f.PendingRetryCount())
}

func TestFrontier_DepthPreservedAcrossRetries(t *testing.T) {
	f, clock := newTestFrontier()

	f.AddURL("http://a.test/x", false, models.PriorityNormal, 2)
	f.Next()
	f.ScheduleRetry("http://a.test/x", 1, time.Second)
	*clock = clock.Add(2 * time.Second)
	f.Next()
	f.ScheduleRetry("http://a.test/x", 2, time.Second)

	info, ok := f.GetQueuedURLInfo("http://a.test/x")
	require.True(t, ok)
	assert.Equal(t, 2, info.Depth, "depth set on first insert survives retries")
	assert.Equal(t, 2, info.RetryCount)
}

func TestFrontier_Exclusivity(t *testing.T) {
	f, _ := newTestFrontier()

	f.AddURL("http://a.test/x", false, models.PriorityNormal, 0)
	// A queued URL cannot also enter the retry queue
	f.ScheduleRetry("http://a.test/x", 1, time.Second)
	assert.Equal(t, 1, f.Size())
	assert.Equal(t, 0, f.RetryQueueSize())

	u := f.Next()
	f.ScheduleRetry(u, 1, time.Second)
	// And a retry-queued URL cannot be re-added
	assert.False(t, f.AddURL("http://a.test/x", false, models.PriorityNormal, 0))
	assert.Equal(t, 0, f.Size())
	assert.Equal(t, 1, f.RetryQueueSize())
}

func TestFrontier_LastVisitTime(t *testing.T) {
	f, clock := newTestFrontier()

	assert.True(t, f.LastVisitTime("a.test").IsZero())
	f.MarkVisited("http://a.test/x")
	assert.Equal(t, *clock, f.LastVisitTime("a.test"))
}

func TestFrontier_Reset(t *testing.T) {
	f, _ := newTestFrontier()

	f.AddURL("http://a.test/x", false, models.PriorityNormal, 0)
	f.MarkVisited("http://a.test/y")
	f.Reset()

	assert.Equal(t, 0, f.Size())
	assert.Equal(t, 0, f.VisitedCount())
	assert.False(t, f.IsVisited("http://a.test/y"))
	assert.Empty(t, f.Next())
}
