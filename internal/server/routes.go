package server

import (
	"net/http"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/crawl-logs", s.app.WSHandler.HandleCrawlLogs)

	// API routes - Crawl sessions
	mux.HandleFunc("/api/crawl/add-site", s.app.CrawlHandler.AddSiteHandler) // POST - start a crawl
	mux.HandleFunc("/api/crawl/status", s.app.CrawlHandler.StatusHandler)    // GET - active session status
	mux.HandleFunc("/api/crawl/details", s.app.CrawlHandler.DetailsHandler)  // GET - crawl log lookup
	mux.HandleFunc("/api/crawl/stop", s.app.CrawlHandler.StopHandler)        // POST - stop a session

	// API routes - Search
	mux.HandleFunc("/api/search", s.app.SearchHandler.SearchHandler)
	mux.HandleFunc("/api/search/suggest", s.app.SearchHandler.SuggestHandler)

	// API routes - SPA tooling
	mux.HandleFunc("/api/spa/detect", s.app.SpaHandler.DetectHandler)
	mux.HandleFunc("/api/spa/render", s.app.SpaHandler.RenderHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)               // GET (list), POST (enqueue)
	mux.HandleFunc("/api/jobs/get", s.app.JobHandler.GetHandler) // GET by id, with history and results

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.StatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleJobsRoute dispatches /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.EnqueueHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", string(common.CodeInvalidRequest))
	}
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "endpoint not found: "+r.URL.Path, string(common.CodeNotFound))
}
