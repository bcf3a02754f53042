// -----------------------------------------------------------------------
// Crawl Handler - Session submission, status, and crawl history
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// AddSiteRequest is the POST /api/crawl/add-site payload. Pointer fields
// distinguish "omitted" from an explicit false/zero so defaults apply.
type AddSiteRequest struct {
	URL                  string `json:"url" validate:"required,url"`
	MaxPages             int    `json:"maxPages" validate:"omitempty,min=1,max=10000"`
	MaxDepth             int    `json:"maxDepth" validate:"omitempty,min=1,max=10"`
	RestrictToSeedDomain *bool  `json:"restrictToSeedDomain"`
	FollowRedirects      *bool  `json:"followRedirects"`
	MaxRedirects         *int   `json:"maxRedirects" validate:"omitempty,min=0,max=20"`
	Force                bool   `json:"force"`
	SpaRenderingEnabled  *bool  `json:"spaRenderingEnabled"`
	IncludeFullContent   bool   `json:"includeFullContent"`
	BrowserlessURL       string `json:"browserlessUrl"`
}

// CrawlHandler handles crawl session HTTP requests
type CrawlHandler struct {
	sessions *crawler.SessionManager
	logs     interfaces.CrawlLogStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewCrawlHandler(sessions *crawler.SessionManager, logs interfaces.CrawlLogStorage, logger arbor.ILogger) *CrawlHandler {
	return &CrawlHandler{
		sessions: sessions,
		logs:     logs,
		validate: validator.New(),
		logger:   logger,
	}
}

// AddSiteHandler handles POST /api/crawl/add-site
func (h *CrawlHandler) AddSiteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req AddSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error(), string(common.CodeInvalidRequest))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err), string(common.CodeInvalidRequest))
		return
	}

	cfg := buildCrawlConfig(&req)
	sessionID, err := h.sessions.StartCrawl(req.URL, cfg, req.Force, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Str("url", req.URL).Msg("Crawl submission rejected")
		}
		WriteServiceError(w, err)
		return
	}

	if h.logger != nil {
		h.logger.Info().
			Str("session_id", sessionID).
			Str("url", req.URL).
			Int("max_pages", cfg.MaxPages).
			Int("max_depth", cfg.MaxDepth).
			Msg("Crawl session queued")
	}

	WriteData(w, map[string]interface{}{
		"url":                  req.URL,
		"sessionId":            sessionID,
		"status":               "queued",
		"maxPages":             cfg.MaxPages,
		"maxDepth":             cfg.MaxDepth,
		"restrictToSeedDomain": cfg.RestrictToSeedDomain,
		"followRedirects":      cfg.FollowRedirects,
		"maxRedirects":         cfg.MaxRedirects,
		"spaRenderingEnabled":  cfg.SpaRenderingEnabled,
		"includeFullContent":   cfg.IncludeFullContent,
		"force":                req.Force,
	})
}

// buildCrawlConfig merges the request onto the per-session defaults
func buildCrawlConfig(req *AddSiteRequest) models.CrawlConfig {
	cfg := models.NewDefaultCrawlConfig()
	if req.MaxPages > 0 {
		cfg.MaxPages = req.MaxPages
	}
	if req.MaxDepth > 0 {
		cfg.MaxDepth = req.MaxDepth
	}
	if req.RestrictToSeedDomain != nil {
		cfg.RestrictToSeedDomain = *req.RestrictToSeedDomain
	}
	if req.FollowRedirects != nil {
		cfg.FollowRedirects = *req.FollowRedirects
	}
	if req.MaxRedirects != nil {
		cfg.MaxRedirects = *req.MaxRedirects
	}
	if req.SpaRenderingEnabled != nil {
		cfg.SpaRenderingEnabled = *req.SpaRenderingEnabled
	}
	cfg.IncludeFullContent = req.IncludeFullContent
	if req.BrowserlessURL != "" {
		cfg.BrowserlessURL = req.BrowserlessURL
	}
	return cfg
}

// sessionStatusView augments the session status with optional results
type sessionStatusView struct {
	*crawler.SessionStatus
	Results []*models.CrawlResult `json:"results,omitempty"`
	Logs    []*models.CrawlLog    `json:"logs,omitempty"`
}

// StatusHandler handles GET /api/crawl/status?logs=bool&results=bool&maxResults=int
func (h *CrawlHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	includeResults := queryBool(r, "results", false)
	includeLogs := queryBool(r, "logs", false)
	maxResults := queryInt(r, "maxResults", 100)
	if maxResults < 1 {
		maxResults = 1
	}

	sessions := h.sessions.ActiveSessions()
	views := make([]sessionStatusView, 0, len(sessions))
	canon := crawler.NewCanonicalizer(nil)
	for _, status := range sessions {
		view := sessionStatusView{SessionStatus: status}
		if includeResults {
			if results, err := h.sessions.GetResults(status.SessionID); err == nil {
				if len(results) > maxResults {
					results = results[:maxResults]
				}
				view.Results = results
			}
		}
		if includeLogs && h.logs != nil {
			domain := canon.Host(status.SeedURL)
			if logs, err := h.logs.GetCrawlLogsByDomain(r.Context(), domain, maxResults); err == nil {
				view.Logs = logs
			}
		}
		views = append(views, view)
	}

	WriteData(w, map[string]interface{}{
		"sessions": views,
		"count":    len(views),
	})
}

// DetailsHandler handles GET /api/crawl/details?domain=...|url=...
func (h *CrawlHandler) DetailsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.logs == nil {
		WriteError(w, http.StatusServiceUnavailable, "crawl log storage unavailable", string(common.CodeDependencyUnavailable))
		return
	}

	domain := r.URL.Query().Get("domain")
	url := r.URL.Query().Get("url")
	if domain == "" && url == "" {
		WriteError(w, http.StatusBadRequest, "either domain or url parameter is required", string(common.CodeInvalidRequest))
		return
	}
	limit := queryInt(r, "limit", 100)

	var (
		logs []*models.CrawlLog
		err  error
	)
	if url != "" {
		logs, err = h.logs.GetCrawlLogsByURL(r.Context(), url, limit)
	} else {
		logs, err = h.logs.GetCrawlLogsByDomain(r.Context(), domain, limit)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteData(w, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// StopHandler handles POST /api/crawl/stop?sessionId=...
func (h *CrawlHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "sessionId parameter is required", string(common.CodeInvalidRequest))
		return
	}
	if err := h.sessions.StopCrawl(sessionID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, map[string]interface{}{
		"sessionId": sessionID,
		"status":    "stopping",
	})
}

// validationMessage renders validator errors as a field-level summary
func validationMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		first := verrs[0]
		return fmt.Sprintf("invalid field %s: failed %s validation", first.Field(), first.Tag())
	}
	return err.Error()
}
