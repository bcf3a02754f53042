// -----------------------------------------------------------------------
// WebSocket Handler - Session log streaming over /crawl-logs
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/logbus"
	"github.com/ternarybob/reperio/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// subscribeMessage is the client-to-server control frame
type subscribeMessage struct {
	Type      string `json:"type"` // "subscribe" or "subscribe_all"
	SessionID string `json:"sessionId,omitempty"`
}

// logFrame is the server-to-client log frame
type logFrame struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"sessionId,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// progressFrame is a throttled per-session statistics push
type progressFrame struct {
	Type         string                    `json:"type"`
	SessionID    string                    `json:"sessionId"`
	IsRunning    bool                      `json:"isRunning"`
	TotalCrawled int                       `json:"totalCrawled"`
	Statistics   crawler.SessionStatistics `json:"statistics"`
}

// WebSocketHandler streams session logs from the log bus to connected
// clients. Each connection holds at most one subscription; a new
// subscribe frame replaces the previous one.
type WebSocketHandler struct {
	bus      *logbus.Bus
	sessions *crawler.SessionManager
	cfg      common.WebSocketConfig
	logger   arbor.ILogger
}

func NewWebSocketHandler(bus *logbus.Bus, sessions *crawler.SessionManager, cfg common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		bus:      bus,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleCrawlLogs handles WebSocket connections on /crawl-logs
func (h *WebSocketHandler) HandleCrawlLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		}
		return
	}

	if h.logger != nil {
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	// Reader goroutine owns inbound control frames; closing subCh on read
	// error is the disconnect signal for the writer loop.
	subCh := make(chan *logbus.Subscription)
	go func() {
		defer close(subCh)
		for {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "subscribe":
				if msg.SessionID == "" {
					continue
				}
				subCh <- h.bus.Subscribe(msg.SessionID)
			case "subscribe_all":
				subCh <- h.bus.SubscribeAll()
			}
		}
	}()

	h.writeLoop(conn, subCh, closeConn)

	if h.logger != nil {
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
	}
}

func (h *WebSocketHandler) writeLoop(conn *websocket.Conn, subCh <-chan *logbus.Subscription, closeConn func()) {
	var sub *logbus.Subscription
	var sessionID string
	defer func() {
		if sub != nil {
			h.bus.Unsubscribe(sub)
		}
	}()

	progressInterval := time.Second
	if h.cfg.ProgressInterval != "" {
		if parsed, err := time.ParseDuration(h.cfg.ProgressInterval); err == nil {
			progressInterval = parsed
		}
	}
	throttle := rate.NewLimiter(rate.Every(progressInterval), 1)

	for {
		if sub == nil {
			next, ok := <-subCh
			if !ok {
				return
			}
			sub, sessionID = h.swapSubscription(conn, nil, next, closeConn)
			continue
		}

		select {
		case next, ok := <-subCh:
			if !ok {
				return
			}
			sub, sessionID = h.swapSubscription(conn, sub, next, closeConn)
		case <-sub.Notify():
			for _, entry := range sub.Drain() {
				if !models.LevelAtLeast(entry.Level, h.cfg.MinLevel) {
					continue
				}
				if err := conn.WriteJSON(logFrame{
					Timestamp: entry.Timestamp,
					SessionID: entry.SessionID,
					Level:     entry.Level,
					Message:   entry.Message,
				}); err != nil {
					closeConn()
					break
				}
			}
			h.maybeSendProgress(conn, sessionID, throttle, closeConn)
		}
	}
}

func (h *WebSocketHandler) swapSubscription(conn *websocket.Conn, old, next *logbus.Subscription, closeConn func()) (*logbus.Subscription, string) {
	if old != nil {
		h.bus.Unsubscribe(old)
	}
	sessionID := next.SessionID()
	ack := map[string]interface{}{"type": "subscribed"}
	if sessionID != "" {
		ack["sessionId"] = sessionID
	}
	if err := conn.WriteJSON(ack); err != nil {
		closeConn()
	}
	return next, sessionID
}

// maybeSendProgress pushes a throttled statistics frame for session-scoped
// subscriptions
func (h *WebSocketHandler) maybeSendProgress(conn *websocket.Conn, sessionID string, throttle *rate.Limiter, closeConn func()) {
	if sessionID == "" || h.sessions == nil || !throttle.Allow() {
		return
	}
	status, err := h.sessions.GetStatus(sessionID)
	if err != nil {
		return
	}
	if err := conn.WriteJSON(progressFrame{
		Type:         "crawl_progress",
		SessionID:    sessionID,
		IsRunning:    status.IsRunning,
		TotalCrawled: status.TotalCrawled,
		Statistics:   status.Statistics,
	}); err != nil {
		closeConn()
	}
}
