package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"activityd/pkg/ingest"
	"activityd/pkg/models"
	"activityd/pkg/store"
	"activityd/pkg/validation"
)

func newTestAPI(t *testing.T) *mux.Router {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	validation.SetRules(validation.Rules{})

	c := ingest.NewCoordinator(64)
	c.Start()
	t.Cleanup(func() { c.Close(time.Second) })

	r := mux.NewRouter()
	New(c, nil, time.Second).Register(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetRecord(t *testing.T) {
	r := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"r1","payload":{"a":1}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body)
	}
	var rec models.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "r1" || rec.Version != 1 {
		t.Fatalf("rec = %+v", rec)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/records/r1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	// generated id when omitted
	w = doJSON(t, r, http.MethodPost, "/v1/records", `{"payload":{"b":2}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestDuplicateInsertConflict(t *testing.T) {
	r := newTestAPI(t)
	doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"r1","payload":{}}`)
	w := doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"r1","payload":{}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestUpdateWithVersionPrecondition(t *testing.T) {
	r := newTestAPI(t)
	doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"r1","payload":{"n":0}}`)

	w := doJSON(t, r, http.MethodPut, "/v1/records/r1", `{"payload":{"n":1},"expected_version":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body)
	}
	var rec models.Record
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Version != 2 {
		t.Fatalf("version = %d, want 2", rec.Version)
	}

	// stale version
	w = doJSON(t, r, http.MethodPut, "/v1/records/r1", `{"payload":{"n":9},"expected_version":1}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale update status = %d, want 409", w.Code)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	r := newTestAPI(t)
	w := doJSON(t, r, http.MethodPut, "/v1/records/nope", `{"payload":{}}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteRecord(t *testing.T) {
	r := newTestAPI(t)
	doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"r1","payload":{}}`)

	w := doJSON(t, r, http.MethodDelete, "/v1/records/r1?expected_version=2", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("stale delete status = %d, want 409", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/v1/records/r1?expected_version=1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/records/r1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", w.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	r := newTestAPI(t)
	w := doJSON(t, r, http.MethodPost, "/v1/records", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing payload status = %d, want 400", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	r := newTestAPI(t)
	doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"a","payload":{}}`)
	doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"b","payload":{}}`)

	w := doJSON(t, r, http.MethodGet, "/v1/records?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var out struct {
		Records []models.Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(out.Records))
	}
}

func TestQueueFullReturns429(t *testing.T) {
	if err := store.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	validation.SetRules(validation.Rules{})

	// worker not started and the queue prefilled
	c := ingest.NewCoordinator(1)
	if _, err := c.Queue().TryEnqueue(&models.PendingOperation{Kind: models.OpInsert, RecordID: "filler"}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	r := mux.NewRouter()
	New(c, nil, time.Second).Register(r)

	w := doJSON(t, r, http.MethodPost, "/v1/records", `{"id":"x","payload":{}}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "busy") {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestTasksEndpoints(t *testing.T) {
	r := newTestAPI(t)
	task := models.NewFetchTask("t1", "http://example.test", 3)
	if err := store.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/tasks/t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/tasks/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing task status = %d", w.Code)
	}
}

func TestTriggerFetchWithoutScheduler(t *testing.T) {
	r := newTestAPI(t)
	w := doJSON(t, r, http.MethodPost, "/v1/fetch", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestQueueStats(t *testing.T) {
	r := newTestAPI(t)
	w := doJSON(t, r, http.MethodGet, "/v1/queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Depth    int `json:"depth"`
		Capacity int `json:"capacity"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Capacity != 64 {
		t.Fatalf("capacity = %d", out.Capacity)
	}
}
