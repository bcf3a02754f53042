package logbus

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/reperio/internal/models"
)

func TestBus_SessionScopedDelivery(t *testing.T) {
	bus := New(16, nil)

	subA := bus.Subscribe("sess-a")
	subB := bus.Subscribe("sess-b")
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	bus.BroadcastSessionLog("sess-a", "fetching page", models.LogLevelInfo)
	bus.BroadcastSessionLog("sess-b", "circuit open", models.LogLevelWarning)

	entriesA := subA.Drain()
	require.Len(t, entriesA, 1)
	assert.Equal(t, "fetching page", entriesA[0].Message)
	assert.Equal(t, "sess-a", entriesA[0].SessionID)

	entriesB := subB.Drain()
	require.Len(t, entriesB, 1)
	assert.Equal(t, "circuit open", entriesB[0].Message)
}

func TestBus_SubscribeAllReceivesEverySession(t *testing.T) {
	bus := New(16, nil)

	all := bus.SubscribeAll()
	defer bus.Unsubscribe(all)

	bus.BroadcastSessionLog("sess-1", "one", models.LogLevelInfo)
	bus.BroadcastSessionLog("sess-2", "two", models.LogLevelInfo)
	bus.BroadcastLog("global", models.LogLevelError)

	entries := all.Drain()
	require.Len(t, entries, 3)
	assert.Equal(t, "one", entries[0].Message)
	assert.Equal(t, "two", entries[1].Message)
	assert.Equal(t, "global", entries[2].Message)
}

func TestBus_GlobalBroadcastReachesSessionSubscribers(t *testing.T) {
	bus := New(16, nil)

	sub := bus.Subscribe("sess-x")
	defer bus.Unsubscribe(sub)

	bus.BroadcastLog("shutting down", models.LogLevelWarning)

	entries := sub.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "shutting down", entries[0].Message)
}

func TestBus_OverflowDropsOldest(t *testing.T) {
	bus := New(4, nil)

	sub := bus.Subscribe("sess-o")
	defer bus.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		bus.BroadcastSessionLog("sess-o", fmt.Sprintf("msg-%d", i), models.LogLevelInfo)
	}

	entries := sub.Drain()
	// 4 newest survive plus the overflow notice
	require.Len(t, entries, 5)
	assert.Equal(t, "msg-6", entries[0].Message)
	assert.Equal(t, "msg-9", entries[3].Message)

	overflow := entries[4]
	assert.Equal(t, models.LogLevelWarning, overflow.Level)
	assert.True(t, strings.HasPrefix(overflow.Message, "log_overflow: 6"), overflow.Message)

	// Counter resets after drain
	bus.BroadcastSessionLog("sess-o", "after", models.LogLevelInfo)
	entries = sub.Drain()
	require.Len(t, entries, 1)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(16, nil)

	sub := bus.Subscribe("sess-u")
	bus.Unsubscribe(sub)
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.BroadcastSessionLog("sess-u", "late", models.LogLevelInfo)
	assert.Empty(t, sub.Drain())
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := New(2, nil)

	sub := bus.Subscribe("sess-slow")
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.BroadcastSessionLog("sess-slow", "burst", models.LogLevelDebug)
		}
		close(done)
	}()

	<-done // Deadlock here would fail the test by timeout
	entries := sub.Drain()
	require.NotEmpty(t, entries)
}
