package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/httputil"
	"github.com/RebootGod/catalogsync/internal/jobs"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// reservedProgressKeys would be shadowed by fixed routes under /api/v1/sync/.
var reservedProgressKeys = map[string]struct{}{"history": {}}

type submitSyncRequest struct {
	EntityType  string  `json:"entity_type"`
	EntityIDs   []int64 `json:"entity_ids"`
	ProgressKey string  `json:"progress_key"`
	BatchSize   int     `json:"batch_size"`
}

type submitSyncResponse struct {
	ProgressKey string `json:"progress_key"`
	TaskID      string `json:"task_id"`
}

func (s *Server) handleSubmitSync(w http.ResponseWriter, r *http.Request) {
	var body submitSyncRequest
	if err := httputil.ReadJSON(w, r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	entityType, err := bulksync.ParseEntityType(body.EntityType)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.ProgressKey == "" {
		body.ProgressKey = uuid.NewString()
	}
	if _, reserved := reservedProgressKeys[strings.TrimSpace(body.ProgressKey)]; reserved {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", "progress key "+body.ProgressKey+" is reserved")
		return
	}
	if body.BatchSize == 0 {
		body.BatchSize = s.defaultBatchSize
	}
	req, err := bulksync.NewRequest(entityType, body.EntityIDs, body.ProgressKey, body.BatchSize)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rec, err := s.tracker.Get(r.Context(), req.ProgressKey)
	if err != nil && !errors.Is(err, bulksync.ErrRecordNotFound) {
		log.Printf("API: progress lookup for %s failed: %v", req.ProgressKey, err)
	}
	staleCancel := rec == nil || rec.Completed

	taskID, err := s.enqueuer.EnqueueSync(r.Context(), req)
	if errors.Is(err, jobs.ErrAlreadyQueued) {
		httputil.WriteError(w, http.StatusConflict, "sync_in_progress", err.Error())
		return
	}
	if err != nil {
		log.Printf("API: enqueue sync %s failed: %v", req.ProgressKey, err)
		httputil.WriteError(w, http.StatusInternalServerError, "enqueue_failed", "could not queue sync")
		return
	}

	// Only now is it certain no earlier run owns the key, so a cancel flag
	// left behind must not stop the new one.
	if staleCancel {
		if err := s.tracker.ClearCancel(r.Context(), req.ProgressKey); err != nil {
			log.Printf("API: clearing cancel flag for %s failed: %v", req.ProgressKey, err)
		}
	}

	log.Printf("API: queued %s sync %s with %d ids", req.EntityType, req.ProgressKey, len(req.EntityIDs))
	httputil.WriteJSON(w, http.StatusAccepted, submitSyncResponse{ProgressKey: req.ProgressKey, TaskID: taskID})
}

func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, err := s.tracker.Get(r.Context(), key)
	if errors.Is(err, bulksync.ErrRecordNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "no progress for key "+key)
		return
	}
	if err != nil {
		log.Printf("API: get progress %s failed: %v", key, err)
		httputil.WriteError(w, http.StatusInternalServerError, "store_error", "could not load progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// handleCancelSync accepts keys without a record yet, so a queued run can
// be cancelled before the worker picks it up.
func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, err := s.tracker.Get(r.Context(), key)
	if err == nil && rec.Completed {
		httputil.WriteError(w, http.StatusConflict, "already_finished", "sync "+key+" already "+string(rec.Status))
		return
	}
	if err := s.tracker.RequestCancel(r.Context(), key); err != nil {
		log.Printf("API: cancel %s failed: %v", key, err)
		httputil.WriteError(w, http.StatusInternalServerError, "store_error", "could not request cancellation")
		return
	}
	log.Printf("API: cancellation requested for %s", key)
	s.wsHub.Broadcast(EventSyncCancelRequested, map[string]string{"progress_key": key})
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"progress_key": key, "cancel_requested": true})
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "history_disabled", "job history is not configured")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	jobsList, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		log.Printf("API: list history failed: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "store_error", "could not list history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobsList)
}
