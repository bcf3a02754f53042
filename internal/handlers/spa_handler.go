// -----------------------------------------------------------------------
// SPA Handler - On-demand SPA detection and headless rendering
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/models"
)

type spaDetectRequest struct {
	URL            string `json:"url" validate:"required,url"`
	TimeoutSeconds int    `json:"timeout" validate:"omitempty,min=1,max=120"`
	UserAgent      string `json:"userAgent"`
}

type spaRenderRequest struct {
	URL                string `json:"url" validate:"required,url"`
	TimeoutSeconds     int    `json:"timeout" validate:"omitempty,min=1,max=300"`
	IncludeFullContent bool   `json:"includeFullContent"`
}

// SpaHandler serves ad-hoc SPA detection and render requests outside of
// crawl sessions
type SpaHandler struct {
	cfg      *common.Config
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewSpaHandler(cfg *common.Config, logger arbor.ILogger) *SpaHandler {
	return &SpaHandler{
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// DetectHandler handles POST /api/spa/detect
func (h *SpaHandler) DetectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req spaDetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error(), string(common.CodeInvalidRequest))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err), string(common.CodeInvalidRequest))
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = h.cfg.Crawler.UserAgent
	}
	fetcher := crawler.NewFetcher(crawler.FetcherConfig{
		UserAgent:       userAgent,
		RequestTimeout:  h.requestTimeout(req.TimeoutSeconds),
		MaxBodySize:     h.cfg.Crawler.MaxBodySize,
		VerifySSL:       h.cfg.Crawler.VerifySSL,
		FollowRedirects: true,
		MaxRedirects:    10,
	}, nil, h.logger)

	result := fetcher.Fetch(r.Context(), req.URL)
	if !result.Success {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":        false,
			"httpStatusCode": result.HTTPStatus,
			"message":        result.ErrorMessage,
		})
		return
	}

	detection := crawler.DetectSpa(result.Content, result.FinalURL)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"httpStatusCode": result.HTTPStatus,
		"contentType":    result.ContentType,
		"contentSize":    len(result.Content),
		"spaDetection":   detection,
		"contentPreview": preview(result.Content, h.cfg.Crawler.ContentPreviewSize),
	})
}

// RenderHandler handles POST /api/spa/render
func (h *SpaHandler) RenderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req spaRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error(), string(common.CodeInvalidRequest))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err), string(common.CodeInvalidRequest))
		return
	}

	var renderer crawler.PageRenderer
	if h.cfg.Crawler.BrowserlessURL != "" {
		renderer = crawler.NewRenderer(h.cfg.Crawler.BrowserlessURL, h.requestTimeout(req.TimeoutSeconds), h.logger)
	}
	fetcher := crawler.NewFetcher(crawler.FetcherConfig{
		UserAgent:           h.cfg.Crawler.UserAgent,
		RequestTimeout:      h.requestTimeout(req.TimeoutSeconds),
		MaxBodySize:         h.cfg.Crawler.MaxBodySize,
		VerifySSL:           h.cfg.Crawler.VerifySSL,
		FollowRedirects:     true,
		MaxRedirects:        10,
		SpaRenderingEnabled: renderer != nil,
	}, renderer, h.logger)

	result := fetcher.Fetch(r.Context(), req.URL)
	if !result.Success {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":        false,
			"httpStatusCode": result.HTTPStatus,
			"message":        result.ErrorMessage,
		})
		return
	}

	detection := crawler.DetectSpa(result.Content, result.FinalURL)
	renderingMethod := result.RenderingMethod
	if renderingMethod == "" {
		renderingMethod = models.RenderingDirectFetch
	}

	content := string(result.Content)
	if !req.IncludeFullContent {
		content = preview(result.Content, h.cfg.Crawler.ContentPreviewSize)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"httpStatusCode":  result.HTTPStatus,
		"contentType":     result.ContentType,
		"contentSize":     len(result.Content),
		"isSpa":           detection.IsSpa,
		"renderingMethod": renderingMethod,
		"content":         content,
	})
}

func (h *SpaHandler) requestTimeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return h.cfg.Crawler.RequestTimeout
}

func preview(content []byte, size int) string {
	if size <= 0 {
		size = 500
	}
	if len(content) <= size {
		return string(content)
	}
	return string(content[:size])
}
