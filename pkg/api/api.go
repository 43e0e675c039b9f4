// Package api exposes the JSON endpoints for records, fetch tasks and
// queue introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"activityd/pkg/ingest"
	"activityd/pkg/logger"
	"activityd/pkg/models"
	"activityd/pkg/scheduler"
	"activityd/pkg/store"
	"activityd/pkg/utils"
	"activityd/pkg/validation"
)

// maxBodyBytes bounds request bodies read by the API.
const maxBodyBytes = 1 << 20

// API holds the handler dependencies.
type API struct {
	coord         *ingest.Coordinator
	sched         *scheduler.Scheduler
	submitTimeout time.Duration
}

// New builds the API. sched may be nil when polling is disabled.
func New(coord *ingest.Coordinator, sched *scheduler.Scheduler, submitTimeout time.Duration) *API {
	if submitTimeout <= 0 {
		submitTimeout = 5 * time.Second
	}
	return &API{coord: coord, sched: sched, submitTimeout: submitTimeout}
}

// Register attaches all routes to r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/records", a.createRecord).Methods(http.MethodPost)
	r.HandleFunc("/v1/records", a.listRecords).Methods(http.MethodGet)
	r.HandleFunc("/v1/records/{id}", a.getRecord).Methods(http.MethodGet)
	r.HandleFunc("/v1/records/{id}", a.updateRecord).Methods(http.MethodPut)
	r.HandleFunc("/v1/records/{id}", a.deleteRecord).Methods(http.MethodDelete)
	r.HandleFunc("/v1/tasks", a.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks/{id}", a.getTask).Methods(http.MethodGet)
	r.HandleFunc("/v1/fetch", a.triggerFetch).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue", a.queueStats).Methods(http.MethodGet)
}

// writeErr maps pipeline errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrAlreadyExists):
		utils.JSONError(w, http.StatusConflict, "record already exists")
	case errors.Is(err, store.ErrConflict):
		utils.JSONError(w, http.StatusConflict, "version conflict")
	case errors.Is(err, ingest.ErrQueueFull):
		utils.JSONError(w, http.StatusTooManyRequests, "server busy; try again")
	case errors.Is(err, ingest.ErrQueueClosed):
		utils.JSONError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		utils.JSONError(w, http.StatusGatewayTimeout, "write timed out")
	default:
		logger.Error("request_failed", "err", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type recordBody struct {
	ID              string          `json:"id"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion int64           `json:"expected_version"`
}

func decodeBody(r *http.Request, into *recordBody) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, into)
}

func (a *API) submit(ctx context.Context, op *models.PendingOperation) (*models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()
	return a.coord.Submit(ctx, op)
}

func (a *API) createRecord(w http.ResponseWriter, r *http.Request) {
	var body recordBody
	if err := decodeBody(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidatePayload(body.Payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := body.ID
	if id == "" {
		id = utils.GenID("rec")
	}
	rec, err := a.submit(r.Context(), &models.PendingOperation{
		Kind:     models.OpInsert,
		RecordID: id,
		Payload:  body.Payload,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("record_created", "id", rec.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, rec)
}

func (a *API) updateRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body recordBody
	if err := decodeBody(r, &body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidatePayload(body.Payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.submit(r.Context(), &models.PendingOperation{
		Kind:            models.OpUpdate,
		RecordID:        id,
		Payload:         body.Payload,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("record_updated", "id", rec.ID, "version", rec.Version)
	_ = utils.JSONWrite(w, http.StatusOK, rec)
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var expected int64
	if v := r.URL.Query().Get("expected_version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid expected_version")
			return
		}
		expected = n
	}
	_, err := a.submit(r.Context(), &models.PendingOperation{
		Kind:            models.OpDelete,
		RecordID:        id,
		ExpectedVersion: expected,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("record_deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := store.ReadRecord(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rec)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	recs, err := store.ListRecords(limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Records []*models.Record `json:"records"`
	}{Records: recs})
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := store.ListTasks(queryLimit(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.FetchTask{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Tasks []*models.FetchTask `json:"tasks"`
	}{Tasks: tasks})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := store.GetTask(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, t)
}

// triggerFetch requests an immediate feed cycle. The cycle runs
// asynchronously; 202 means the trigger was accepted, not that the
// fetch succeeded.
func (a *API) triggerFetch(w http.ResponseWriter, r *http.Request) {
	if a.sched == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "feed polling disabled")
		return
	}
	a.sched.Trigger()
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	q := a.coord.Queue()
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Depth    int    `json:"depth"`
		Capacity int    `json:"capacity"`
		Dropped  uint64 `json:"dropped"`
	}{Depth: q.Len(), Capacity: q.Cap(), Dropped: q.Dropped()})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 100
}
