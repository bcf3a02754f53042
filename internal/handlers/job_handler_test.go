package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
)

func newTestJobStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()
	manager, err := badgerstore.NewManager(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "job-handler-test"),
	}, nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager.JobStorage()
}

func TestEnqueueHandler(t *testing.T) {
	handler := NewJobHandler(newTestJobStorage(t), nil)

	body := `{"jobType":"crawl","priority":2,"userId":"u-1","metadata":{"seed_url":"https://example.com"}}`
	rec := httptest.NewRecorder()
	handler.EnqueueHandler(rec, httptest.NewRequest("POST", "/api/jobs", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	jobID, _ := data["id"].(string)
	if jobID == "" {
		t.Fatalf("expected generated job id, got %v", data["id"])
	}
	if data["status"] != "queued" {
		t.Errorf("expected queued status, got %v", data["status"])
	}
	if data["job_type"] != "crawl" {
		t.Errorf("expected job_type crawl, got %v", data["job_type"])
	}
}

func TestEnqueueHandler_RejectsUnknownType(t *testing.T) {
	handler := NewJobHandler(newTestJobStorage(t), nil)

	rec := httptest.NewRecorder()
	handler.EnqueueHandler(rec, httptest.NewRequest("POST", "/api/jobs", strings.NewReader(`{"jobType":"mine-bitcoin"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}
	assertErrorCode(t, rec, "INVALID_REQUEST")
}

func TestGetHandler_RoundTrip(t *testing.T) {
	storage := newTestJobStorage(t)
	handler := NewJobHandler(storage, nil)

	rec := httptest.NewRecorder()
	handler.EnqueueHandler(rec, httptest.NewRequest("POST", "/api/jobs", strings.NewReader(`{"jobType":"cleanup"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue failed: %s", rec.Body.String())
	}
	jobID := decodeData(t, rec)["id"].(string)

	rec = httptest.NewRecorder()
	handler.GetHandler(rec, httptest.NewRequest("GET", "/api/jobs/get?id="+jobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	job, ok := data["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected job payload, got %v", data)
	}
	if job["id"] != jobID {
		t.Errorf("expected id %s, got %v", jobID, job["id"])
	}
}

func TestGetHandler_NotFound(t *testing.T) {
	handler := NewJobHandler(newTestJobStorage(t), nil)

	rec := httptest.NewRecorder()
	handler.GetHandler(rec, httptest.NewRequest("GET", "/api/jobs/get?id=job_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "NOT_FOUND")
}

func TestListHandler_ByStatus(t *testing.T) {
	storage := newTestJobStorage(t)
	handler := NewJobHandler(storage, nil)

	for _, body := range []string{`{"jobType":"crawl"}`, `{"jobType":"reindex"}`} {
		rec := httptest.NewRecorder()
		handler.EnqueueHandler(rec, httptest.NewRequest("POST", "/api/jobs", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("enqueue failed: %s", rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/jobs?status=queued", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if count := int(decodeData(t, rec)["count"].(float64)); count != 2 {
		t.Errorf("expected 2 queued jobs, got %d", count)
	}

	rec = httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/jobs?type=reindex", nil))
	if count := int(decodeData(t, rec)["count"].(float64)); count != 1 {
		t.Errorf("expected 1 reindex job, got %d", count)
	}
}

func TestListHandler_RequiresFilter(t *testing.T) {
	handler := NewJobHandler(newTestJobStorage(t), nil)

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/jobs", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
