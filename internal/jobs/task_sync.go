package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/models"
	"github.com/RebootGod/catalogsync/internal/repository"
)

// Runner executes one sync run; *bulksync.Job implements it.
type Runner interface {
	Run(ctx context.Context, req bulksync.Request) (*bulksync.Record, error)
}

// History keeps the durable audit row of each run.
type History interface {
	Create(ctx context.Context, job *models.JobRecord) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, counts repository.JobCounts, errMsg *string) error
}

type SyncHandler struct {
	runner  Runner
	history History
}

func NewSyncHandler(runner Runner, history History) *SyncHandler {
	return &SyncHandler{runner: runner, history: history}
}

func (h *SyncHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p SyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	entityType, err := bulksync.ParseEntityType(p.EntityType)
	if err != nil {
		entityType = bulksync.EntityType(p.EntityType)
	}
	req := bulksync.Request{
		EntityType:  entityType,
		EntityIDs:   p.EntityIDs,
		ProgressKey: p.ProgressKey,
		BatchSize:   p.BatchSize,
	}
	if req.BatchSize == 0 {
		req.BatchSize = bulksync.DefaultBatchSize
	}

	log.Printf("Job: sync %s starting (%d %s ids)", req.ProgressKey, len(req.EntityIDs), req.EntityType)
	jobID := h.startHistory(ctx, req)

	rec, runErr := h.runner.Run(ctx, req)
	h.finishHistory(ctx, jobID, rec, runErr)

	if runErr != nil {
		// The failure is already recorded; asynq must not retry it.
		if errors.Is(runErr, bulksync.ErrInvalidRequest) {
			log.Printf("Job: sync %s rejected: %v", req.ProgressKey, runErr)
		}
		return fmt.Errorf("sync %s: %v: %w", req.ProgressKey, runErr, asynq.SkipRetry)
	}
	return nil
}

func (h *SyncHandler) startHistory(ctx context.Context, req bulksync.Request) uuid.UUID {
	if h.history == nil {
		return uuid.Nil
	}
	job := &models.JobRecord{
		ID:          uuid.New(),
		ProgressKey: req.ProgressKey,
		EntityType:  string(req.EntityType),
		Total:       len(req.EntityIDs),
		Status:      models.JobRunning,
	}
	if err := h.history.Create(ctx, job); err != nil {
		log.Printf("Job: sync %s history create failed: %v", req.ProgressKey, err)
		return uuid.Nil
	}
	return job.ID
}

func (h *SyncHandler) finishHistory(ctx context.Context, jobID uuid.UUID, rec *bulksync.Record, runErr error) {
	if h.history == nil || jobID == uuid.Nil {
		return
	}
	status := models.JobCompleted
	var errMsg *string
	if runErr != nil {
		status = models.JobFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	var counts repository.JobCounts
	if rec != nil {
		counts = repository.JobCounts{Success: rec.Success, Failed: rec.Failed, Skipped: rec.Skipped}
	}
	if err := h.history.UpdateStatus(context.WithoutCancel(ctx), jobID, status, counts, errMsg); err != nil {
		log.Printf("Job: history update for %s failed: %v", jobID, err)
	}
}
