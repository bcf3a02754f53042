// -----------------------------------------------------------------------
// Search Handler - Query delegation to the external indexer
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// searchResultItem is one row in the search response
type searchResultItem struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// SearchHandler handles search HTTP requests
type SearchHandler struct {
	indexer interfaces.Indexer
	logger  arbor.ILogger
}

func NewSearchHandler(indexer interfaces.Indexer, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		indexer: indexer,
		logger:  logger,
	}
}

// SearchHandler handles GET /api/search?q=...&page=1..1000&limit=1..100
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.indexer == nil {
		WriteError(w, http.StatusServiceUnavailable, "search indexer unavailable", string(common.CodeDependencyUnavailable))
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteError(w, http.StatusBadRequest, "query parameter q is required", string(common.CodeInvalidRequest))
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 || page > 1000 {
		WriteError(w, http.StatusBadRequest, "page must be between 1 and 1000", string(common.CodeInvalidRequest))
		return
	}
	limit := queryInt(r, "limit", 10)
	if limit < 1 || limit > 100 {
		WriteError(w, http.StatusBadRequest, "limit must be between 1 and 100", string(common.CodeInvalidRequest))
		return
	}

	result, err := h.indexer.Search(r.Context(), query, page, limit)
	if err != nil {
		if h.logger != nil {
			h.logger.Error().Err(err).Str("query", query).Msg("Search failed")
		}
		WriteError(w, http.StatusServiceUnavailable, "search backend unavailable", string(common.CodeDependencyUnavailable))
		return
	}

	items := make([]searchResultItem, 0, len(result.Hits))
	for _, hit := range result.Hits {
		items = append(items, searchResultItem{
			URL:     hit.URL,
			Title:   hit.Title,
			Snippet: hit.Snippet,
			Score:   hit.Score,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"meta": map[string]interface{}{
			"total":    result.Total,
			"page":     page,
			"pageSize": limit,
		},
		"results": items,
	})
}

// SuggestHandler handles GET /api/search/suggest?prefix=...&limit=...
func (h *SearchHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.indexer == nil {
		WriteError(w, http.StatusServiceUnavailable, "search indexer unavailable", string(common.CodeDependencyUnavailable))
		return
	}

	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" {
		WriteError(w, http.StatusBadRequest, "query parameter prefix is required", string(common.CodeInvalidRequest))
		return
	}
	limit := queryInt(r, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	suggestions, err := h.indexer.Suggest(r.Context(), prefix, limit)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "search backend unavailable", string(common.CodeDependencyUnavailable))
		return
	}

	WriteData(w, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}
