// -----------------------------------------------------------------------
// Status Handler - Service health and storage counters
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// StatusHandler handles GET /api/status
type StatusHandler struct {
	pages    interfaces.PageStorage
	jobs     interfaces.JobStorage
	sessions *crawler.SessionManager
	indexer  interfaces.Indexer
	logger   arbor.ILogger
	started  time.Time
}

func NewStatusHandler(pages interfaces.PageStorage, jobs interfaces.JobStorage, sessions *crawler.SessionManager, indexer interfaces.Indexer, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		pages:    pages,
		jobs:     jobs,
		sessions: sessions,
		indexer:  indexer,
		logger:   logger,
		started:  time.Now(),
	}
}

// StatusHandler handles GET /api/status
func (h *StatusHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := map[string]interface{}{
		"service": "reperio",
		"version": common.GetVersion(),
		"status":  "online",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}

	if h.pages != nil {
		if count, err := h.pages.TotalCount(r.Context()); err == nil {
			status["indexedPages"] = count
		} else if h.logger != nil {
			h.logger.Warn().Err(err).Msg("Failed to count indexed pages")
		}
	}

	if h.jobs != nil {
		if stats, err := h.jobs.GetJobStats(r.Context()); err == nil {
			status["jobs"] = stats
		} else if h.logger != nil {
			h.logger.Warn().Err(err).Msg("Failed to load job stats")
		}
	}

	if h.sessions != nil {
		sessions := h.sessions.ActiveSessions()
		running := 0
		for _, s := range sessions {
			if s.IsRunning {
				running++
			}
		}
		status["sessions"] = map[string]interface{}{
			"tracked": len(sessions),
			"running": running,
		}
	}

	if h.indexer != nil {
		indexerStatus := "connected"
		if err := h.indexer.Ping(r.Context()); err != nil {
			indexerStatus = "unavailable"
		}
		status["indexer"] = indexerStatus
	}

	WriteData(w, status)
}
