package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
)

const spaShellHTML = `<html><head><title>app</title></head><body><div id="root"></div><script src="/static/js/main.chunk.js"></script></body></html>`

func newSpaHandler(t *testing.T) *SpaHandler {
	t.Helper()
	cfg := common.NewDefaultConfig()
	return NewSpaHandler(cfg, nil)
}

func TestDetectHandler_SpaShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(spaShellHTML))
	}))
	defer srv.Close()

	handler := newSpaHandler(t)
	body := `{"url":"` + srv.URL + `"}`
	rec := httptest.NewRecorder()
	handler.DetectHandler(rec, httptest.NewRequest("POST", "/api/spa/detect", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Success        bool                `json:"success"`
		HTTPStatusCode int                 `json:"httpStatusCode"`
		SpaDetection   models.SpaDetection `json:"spaDetection"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Success || response.HTTPStatusCode != 200 {
		t.Fatalf("unexpected response: %+v", response)
	}
	if !response.SpaDetection.IsSpa {
		t.Errorf("expected SPA shell to be detected, indicators: %v", response.SpaDetection.Indicators)
	}
}

func TestDetectHandler_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	handler := newSpaHandler(t)
	body := `{"url":"` + srv.URL + `"}`
	rec := httptest.NewRecorder()
	handler.DetectHandler(rec, httptest.NewRequest("POST", "/api/spa/detect", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var response struct {
		Success        bool `json:"success"`
		HTTPStatusCode int  `json:"httpStatusCode"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatal(err)
	}
	if response.Success {
		t.Error("expected failure for HTTP 410")
	}
	if response.HTTPStatusCode != http.StatusGone {
		t.Errorf("expected status code 410, got %d", response.HTTPStatusCode)
	}
}

func TestDetectHandler_RejectsInvalidURL(t *testing.T) {
	handler := newSpaHandler(t)
	rec := httptest.NewRecorder()
	handler.DetectHandler(rec, httptest.NewRequest("POST", "/api/spa/detect", strings.NewReader(`{"url":"nope"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "INVALID_REQUEST")
}

func TestRenderHandler_DirectFetchWithoutBrowserless(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>static</title></head><body><p>hello</p></body></html>`))
	}))
	defer srv.Close()

	handler := newSpaHandler(t)
	body := `{"url":"` + srv.URL + `","includeFullContent":true}`
	rec := httptest.NewRecorder()
	handler.RenderHandler(rec, httptest.NewRequest("POST", "/api/spa/render", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response struct {
		Success         bool   `json:"success"`
		RenderingMethod string `json:"renderingMethod"`
		IsSpa           bool   `json:"isSpa"`
		Content         string `json:"content"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatal(err)
	}
	if !response.Success {
		t.Fatal("expected success")
	}
	if response.RenderingMethod != models.RenderingDirectFetch {
		t.Errorf("expected direct fetch, got %s", response.RenderingMethod)
	}
	if response.IsSpa {
		t.Error("static page misclassified as SPA")
	}
	if !strings.Contains(response.Content, "hello") {
		t.Error("expected full content in response")
	}
}
