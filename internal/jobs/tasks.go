package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

const TaskSyncCatalog = "sync:catalog"

// ──────── Payloads ────────

type SyncPayload struct {
	EntityType  string  `json:"entity_type"`
	EntityIDs   []int64 `json:"entity_ids"`
	ProgressKey string  `json:"progress_key"`
	BatchSize   int     `json:"batch_size"`
}

func PayloadFromRequest(req bulksync.Request) SyncPayload {
	return SyncPayload{
		EntityType:  string(req.EntityType),
		EntityIDs:   req.EntityIDs,
		ProgressKey: req.ProgressKey,
		BatchSize:   req.BatchSize,
	}
}

// SyncTaskID is the unique asynq task id of the run owning progressKey.
func SyncTaskID(progressKey string) string {
	return "sync:" + progressKey
}

// SyncEnqueuer submits sync runs with one task per progress key.
type SyncEnqueuer struct {
	queue   *Queue
	timeout time.Duration
}

// NewSyncEnqueuer sizes the asynq task deadline one minute past the
// run's own timeout so the job records its failure first.
func NewSyncEnqueuer(q *Queue, runTimeout time.Duration) *SyncEnqueuer {
	if runTimeout <= 0 {
		runTimeout = bulksync.DefaultTimeout
	}
	return &SyncEnqueuer{queue: q, timeout: runTimeout + time.Minute}
}

func (e *SyncEnqueuer) EnqueueSync(ctx context.Context, req bulksync.Request) (string, error) {
	return e.queue.EnqueueUnique(ctx, TaskSyncCatalog, PayloadFromRequest(req), SyncTaskID(req.ProgressKey),
		asynq.MaxRetry(0), asynq.Timeout(e.timeout))
}

// ──────── Register all handlers ────────

func RegisterHandlers(q *Queue, runner Runner, history History) {
	q.RegisterHandler(TaskSyncCatalog, NewSyncHandler(runner, history))
}
