package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/reperio/internal/interfaces"
)

// mockIndexer implements interfaces.Indexer for testing
type mockIndexer struct {
	searchFunc  func(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error)
	suggestFunc func(ctx context.Context, prefix string, limit int) ([]string, error)
}

func (m *mockIndexer) Index(ctx context.Context, doc *interfaces.IndexDocument) error { return nil }
func (m *mockIndexer) Delete(ctx context.Context, id string) error                    { return nil }
func (m *mockIndexer) Ping(ctx context.Context) error                                 { return nil }
func (m *mockIndexer) Close() error                                                   { return nil }

func (m *mockIndexer) Search(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, page, limit)
	}
	return &interfaces.SearchResult{}, nil
}

func (m *mockIndexer) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if m.suggestFunc != nil {
		return m.suggestFunc(ctx, prefix, limit)
	}
	return nil, nil
}

func TestSearchHandler_Success(t *testing.T) {
	indexer := &mockIndexer{
		searchFunc: func(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error) {
			if query != "badger" {
				t.Errorf("expected query badger, got %q", query)
			}
			return &interfaces.SearchResult{
				Total:    2,
				Page:     page,
				PageSize: limit,
				Hits: []interfaces.SearchHit{
					{URL: "https://example.com/a", Title: "A", Snippet: "about badger", Score: 2.5},
					{URL: "https://example.com/b", Title: "B", Snippet: "more badger", Score: 1.0},
				},
			}, nil
		},
	}

	handler := NewSearchHandler(indexer, nil)
	req := httptest.NewRequest("GET", "/api/search?q=badger&page=1&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Meta struct {
			Total    int `json:"total"`
			Page     int `json:"page"`
			PageSize int `json:"pageSize"`
		} `json:"meta"`
		Results []struct {
			URL   string  `json:"url"`
			Score float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Meta.Total != 2 || response.Meta.Page != 1 || response.Meta.PageSize != 10 {
		t.Errorf("unexpected meta: %+v", response.Meta)
	}
	if len(response.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(response.Results))
	}
	if response.Results[0].URL != "https://example.com/a" || response.Results[0].Score != 2.5 {
		t.Errorf("unexpected first result: %+v", response.Results[0])
	}
}

func TestSearchHandler_MissingQuery(t *testing.T) {
	handler := NewSearchHandler(&mockIndexer{}, nil)
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, httptest.NewRequest("GET", "/api/search", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "INVALID_REQUEST")
}

func TestSearchHandler_PageAndLimitBounds(t *testing.T) {
	handler := NewSearchHandler(&mockIndexer{}, nil)

	for _, target := range []string{
		"/api/search?q=x&page=0",
		"/api/search?q=x&page=1001",
		"/api/search?q=x&limit=0",
		"/api/search?q=x&limit=101",
	} {
		rec := httptest.NewRecorder()
		handler.SearchHandler(rec, httptest.NewRequest("GET", target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", target, rec.Code)
		}
	}
}

func TestSearchHandler_IndexerUnavailable(t *testing.T) {
	handler := NewSearchHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, httptest.NewRequest("GET", "/api/search?q=x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "DEPENDENCY_UNAVAILABLE")
}

func TestSearchHandler_BackendError(t *testing.T) {
	indexer := &mockIndexer{
		searchFunc: func(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	handler := NewSearchHandler(indexer, nil)
	rec := httptest.NewRecorder()
	handler.SearchHandler(rec, httptest.NewRequest("GET", "/api/search?q=x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestSuggestHandler(t *testing.T) {
	indexer := &mockIndexer{
		suggestFunc: func(ctx context.Context, prefix string, limit int) ([]string, error) {
			return []string{"badger", "badgerhold"}, nil
		},
	}
	handler := NewSearchHandler(indexer, nil)
	rec := httptest.NewRecorder()
	handler.SuggestHandler(rec, httptest.NewRequest("GET", "/api/search/suggest?prefix=bad", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if int(data["count"].(float64)) != 2 {
		t.Errorf("expected count 2, got %v", data["count"])
	}
}

func TestSuggestHandler_MissingPrefix(t *testing.T) {
	handler := NewSearchHandler(&mockIndexer{}, nil)
	rec := httptest.NewRecorder()
	handler.SuggestHandler(rec, httptest.NewRequest("GET", "/api/search/suggest", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
