package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const defaultQueue = "default"

// ErrAlreadyQueued is returned when a run for the same progress key is
// still pending or active.
var ErrAlreadyQueued = errors.New("a sync with this progress key is already queued or running")

type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

func NewQueue(redisOpt asynq.RedisClientOpt, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 2
	}
	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				defaultQueue: 1,
			},
			ShutdownTimeout: 30 * time.Second,
		},
	)
	mux := asynq.NewServeMux()
	inspector := asynq.NewInspector(redisOpt)
	return &Queue{client: client, server: server, mux: mux, inspector: inspector}
}

// isTaskConflict checks whether the error indicates a task ID conflict,
// using errors.Is for unwrapped sentinel values and a string fallback.
func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// EnqueueUnique enqueues a task with a deterministic TaskID. A finished
// (completed or archived) task lingering under the same id is deleted
// first; a pending or active one yields ErrAlreadyQueued.
func (q *Queue) EnqueueUnique(ctx context.Context, taskType string, payload any, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opts = append(opts, asynq.TaskID(uniqueID), asynq.Queue(defaultQueue))
	task := asynq.NewTask(taskType, data, opts...)
	info, err := q.client.EnqueueContext(ctx, task)
	if err == nil {
		return info.ID, nil
	}
	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	existing, infoErr := q.inspector.GetTaskInfo(defaultQueue, uniqueID)
	if infoErr != nil {
		return "", fmt.Errorf("inspect task %s: %w", uniqueID, infoErr)
	}
	if existing.State != asynq.TaskStateCompleted && existing.State != asynq.TaskStateArchived {
		log.Printf("Queue: task %s (%s) is already %s", taskType, uniqueID, existing.State)
		return "", ErrAlreadyQueued
	}
	if delErr := q.inspector.DeleteTask(defaultQueue, uniqueID); delErr != nil {
		return "", fmt.Errorf("clear task %s: %w", uniqueID, delErr)
	}
	log.Printf("Queue: cleared %s task %s", existing.State, uniqueID)

	info, err = q.client.EnqueueContext(ctx, task)
	if err != nil {
		if isTaskConflict(err) {
			return "", ErrAlreadyQueued
		}
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return info.ID, nil
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

func (q *Queue) Start() error {
	log.Println("Queue: worker starting...")
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}
