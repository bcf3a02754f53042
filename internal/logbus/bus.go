// -----------------------------------------------------------------------
// Log Bus - Session-scoped structured log fanout
// -----------------------------------------------------------------------

package logbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/models"
)

// Subscription is one registered listener. Entries arrive on C; the bus
// never blocks a publisher on a slow subscriber, it drops the oldest
// buffered entry instead and follows up with an overflow notice.
type Subscription struct {
	id        uint64
	sessionID string // Empty subscribes to all sessions
	mu        sync.Mutex
	buf       []models.LogEntry
	notify    chan struct{}
	closed    bool
	dropped   int
	capacity  int
}

// Bus is the process-wide log fanout. One instance is shared by all crawl
// sessions; WebSocket handlers and other sinks subscribe per session id.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	cap    int
	log    arbor.ILogger
}

// New creates a bus with the given per-subscriber buffer capacity
func New(subscriberBuffer int, logger arbor.ILogger) *Bus {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 256
	}
	return &Bus{
		subs: make(map[uint64]*Subscription),
		cap:  subscriberBuffer,
		log:  logger,
	}
}

// Subscribe registers a listener for one session's logs
func (b *Bus) Subscribe(sessionID string) *Subscription {
	return b.subscribe(sessionID)
}

// SubscribeAll registers a listener for every session
func (b *Bus) SubscribeAll() *Subscription {
	return b.subscribe("")
}

func (b *Bus) subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		sessionID: sessionID,
		buf:       make([]models.LogEntry, 0, b.cap),
		notify:    make(chan struct{}, 1),
		capacity:  b.cap,
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a listener. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// BroadcastSessionLog publishes an entry under a session id
func (b *Bus) BroadcastSessionLog(sessionID, message, level string) {
	b.publish(models.LogEntry{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Level:     level,
		Message:   message,
	})
}

// BroadcastLog publishes a process-wide entry to all subscribers
func (b *Bus) BroadcastLog(message, level string) {
	b.publish(models.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

func (b *Bus) publish(entry models.LogEntry) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.sessionID == "" || entry.SessionID == "" || sub.sessionID == entry.SessionID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.push(entry)
	}
}

func (s *Subscription) push(entry models.LogEntry) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.capacity {
		// Drop oldest, keep count for the overflow notice
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = entry
		s.dropped++
	} else {
		s.buf = append(s.buf, entry)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Drain returns all buffered entries and clears the buffer. When entries
// were dropped since the last drain, a synthetic overflow warning is
// appended.
func (s *Subscription) Drain() []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 && s.dropped == 0 {
		return nil
	}

	out := make([]models.LogEntry, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]

	if s.dropped > 0 {
		out = append(out, models.LogEntry{
			Timestamp: time.Now(),
			SessionID: s.sessionID,
			Level:     models.LogLevelWarning,
			Message:   fmt.Sprintf("log_overflow: %d dropped", s.dropped),
		})
		s.dropped = 0
	}
	return out
}

// Notify returns the channel signalled when new entries are buffered
func (s *Subscription) Notify() <-chan struct{} {
	return s.notify
}

// SessionID returns the session this subscription follows; empty means
// all sessions
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Closed reports whether the subscription has been removed from the bus
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SubscriberCount returns the number of registered subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
