package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusHandler_MinimalWiring(t *testing.T) {
	handler := NewStatusHandler(nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, httptest.NewRequest("GET", "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["service"] != "reperio" {
		t.Errorf("expected service reperio, got %v", data["service"])
	}
	if data["status"] != "online" {
		t.Errorf("expected status online, got %v", data["status"])
	}
	if _, ok := data["version"].(string); !ok {
		t.Errorf("expected version string, got %v", data["version"])
	}
	// Optional sections stay absent when their dependency is not wired
	if _, ok := data["indexer"]; ok {
		t.Error("expected no indexer section without an indexer")
	}
}

func TestStatusHandler_ReportsIndexerAndJobs(t *testing.T) {
	handler := NewStatusHandler(nil, newTestJobStorage(t), nil, &mockIndexer{}, nil)

	rec := httptest.NewRecorder()
	handler.StatusHandler(rec, httptest.NewRequest("GET", "/api/status", nil))

	data := decodeData(t, rec)
	if data["indexer"] != "connected" {
		t.Errorf("expected indexer connected, got %v", data["indexer"])
	}
	jobs, ok := data["jobs"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected jobs stats, got %v", data["jobs"])
	}
	if int(jobs["total"].(float64)) != 0 {
		t.Errorf("expected empty queue, got %v", jobs["total"])
	}
}
