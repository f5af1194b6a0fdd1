package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/jobs"
	"github.com/RebootGod/catalogsync/internal/kvstore"
	"github.com/RebootGod/catalogsync/internal/models"
)

type fakeEnqueuer struct {
	reqs []bulksync.Request
	err  error
}

func (e *fakeEnqueuer) EnqueueSync(_ context.Context, req bulksync.Request) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.reqs = append(e.reqs, req)
	return jobs.SyncTaskID(req.ProgressKey), nil
}

type fakeHistory struct {
	jobs  []*models.JobRecord
	limit int
}

func (h *fakeHistory) ListRecent(_ context.Context, limit int) ([]*models.JobRecord, error) {
	h.limit = limit
	return h.jobs, nil
}

type testEnv struct {
	srv      *Server
	tracker  *bulksync.Tracker
	enqueuer *fakeEnqueuer
	history  *fakeHistory
}

func newTestEnv() *testEnv {
	hub := NewWSHub()
	tracker := bulksync.NewTracker(kvstore.NewMemoryStore(), 0, hub)
	env := &testEnv{tracker: tracker, enqueuer: &fakeEnqueuer{}, history: &fakeHistory{}}
	env.srv = NewServer(Deps{
		Tracker:  tracker,
		Enqueuer: env.enqueuer,
		History:  env.history,
		Hub:      hub,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSubmitSync(t *testing.T) {
	env := newTestEnv()
	rec, out := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type":  "movies",
		"entity_ids":   []int64{3, 1, 3},
		"progress_key": "admin-1",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "admin-1", data["progress_key"])
	assert.Equal(t, "sync:admin-1", data["task_id"])

	require.Len(t, env.enqueuer.reqs, 1)
	got := env.enqueuer.reqs[0]
	assert.Equal(t, bulksync.EntityMovie, got.EntityType)
	assert.Equal(t, []int64{3, 1}, got.EntityIDs)
	assert.Equal(t, bulksync.DefaultBatchSize, got.BatchSize)
}

func TestSubmitSync_GeneratesProgressKey(t *testing.T) {
	env := newTestEnv()
	rec, out := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type": "series",
		"entity_ids":  []int64{1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	key := out["data"].(map[string]any)["progress_key"].(string)
	assert.Len(t, key, 36)
}

func TestSubmitSync_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body any
		code string
	}{
		{"unknown type", map[string]any{"entity_type": "books", "entity_ids": []int64{1}}, "invalid_request"},
		{"negative id", map[string]any{"entity_type": "movie", "entity_ids": []int64{-1}}, "invalid_request"},
		{"negative batch", map[string]any{"entity_type": "movie", "entity_ids": []int64{1}, "batch_size": -2}, "invalid_request"},
		{"unknown field", map[string]any{"entity_type": "movie", "ids": []int64{1}}, "invalid_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec, out := env.do(t, http.MethodPost, "/api/v1/sync", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", out["status"])
			assert.Equal(t, tt.code, out["error"].(map[string]any)["code"])
			assert.Empty(t, env.enqueuer.reqs)
		})
	}
}

func TestSubmitSync_AlreadyQueued(t *testing.T) {
	env := newTestEnv()
	env.enqueuer.err = jobs.ErrAlreadyQueued
	rec, _ := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type": "movie", "entity_ids": []int64{1}, "progress_key": "k",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitSync_EnqueueFailure(t *testing.T) {
	env := newTestEnv()
	env.enqueuer.err = errors.New("redis down")
	rec, _ := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type": "movie", "entity_ids": []int64{1}, "progress_key": "k",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitSync_ClearsStaleCancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	require.NoError(t, env.tracker.RequestCancel(ctx, "again"))

	rec, _ := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type": "movie", "entity_ids": []int64{1}, "progress_key": "again",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	cancelled, err := env.tracker.CancelRequested(ctx, "again")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestSubmitSync_RejectedResubmitKeepsPendingCancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	body := map[string]any{"entity_type": "movie", "entity_ids": []int64{1, 2}, "progress_key": "pending"}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/sync", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/sync/pending", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	env.enqueuer.err = jobs.ErrAlreadyQueued
	rec, _ = env.do(t, http.MethodPost, "/api/v1/sync", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	cancelled, err := env.tracker.CancelRequested(ctx, "pending")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestSubmitSync_ReservedProgressKey(t *testing.T) {
	env := newTestEnv()
	rec, out := env.do(t, http.MethodPost, "/api/v1/sync", map[string]any{
		"entity_type": "movie", "entity_ids": []int64{1}, "progress_key": "history",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", out["error"].(map[string]any)["code"])
	assert.Empty(t, env.enqueuer.reqs)
}

func TestGetSync(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, err := env.tracker.Initialize(ctx, "poll-me", bulksync.EntityMovie, 7, 2, 5)
	require.NoError(t, err)

	rec, out := env.do(t, http.MethodGet, "/api/v1/sync/poll-me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "poll-me", data["progress_key"])
	assert.Equal(t, float64(7), data["total"])
	assert.Equal(t, float64(7), data["waiting"])
	assert.Equal(t, "processing", data["status"])
	assert.Equal(t, false, data["completed"])
}

func TestGetSync_NotFound(t *testing.T) {
	env := newTestEnv()
	rec, out := env.do(t, http.MethodGet, "/api/v1/sync/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out["error"].(map[string]any)["code"])
}

func TestCancelSync(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	client := &WSClient{send: make(chan []byte, 4)}
	env.srv.WSHub().addClient(client)

	rec, _ := env.do(t, http.MethodDelete, "/api/v1/sync/queued-only", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var m WSMessage
	require.NoError(t, json.Unmarshal(<-client.send, &m))
	assert.Equal(t, EventSyncCancelRequested, m.Event)
	cancelled, err := env.tracker.CancelRequested(ctx, "queued-only")
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = env.tracker.Initialize(ctx, "done", bulksync.EntityMovie, 0, 0, 5)
	require.NoError(t, err)
	require.NoError(t, env.tracker.MarkCompleted(ctx, "done"))
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/sync/done", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncHistory(t *testing.T) {
	env := newTestEnv()
	env.history.jobs = []*models.JobRecord{{ProgressKey: "a", Status: models.JobCompleted}}

	rec, out := env.do(t, http.MethodGet, "/api/v1/sync/history?limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, env.history.limit)
	assert.Len(t, out["data"].([]any), 1)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/sync/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	rec, out := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestWSHub_TracksActiveSyncs(t *testing.T) {
	hub := NewWSHub()
	hub.PublishProgress(&bulksync.Record{ProgressKey: "a", Status: bulksync.StatusProcessing})
	hub.PublishProgress(&bulksync.Record{ProgressKey: "b", Status: bulksync.StatusProcessing})
	assert.Equal(t, 2, hub.ActiveSyncs())

	hub.PublishProgress(&bulksync.Record{ProgressKey: "a", Completed: true, Status: bulksync.StatusCompleted})
	assert.Equal(t, 1, hub.ActiveSyncs())

	client := &WSClient{send: make(chan []byte, 4)}
	hub.addClient(client)
	hub.sendActiveSyncs(client)
	msg := <-client.send
	var m WSMessage
	require.NoError(t, json.Unmarshal(msg, &m))
	assert.Equal(t, EventSyncProgress, m.Event)

	hub.removeClient(client)
	assert.Equal(t, 0, hub.ClientCount())
}
