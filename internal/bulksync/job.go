package bulksync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	DefaultBatchDelay = 500 * time.Millisecond
	DefaultTimeout    = time.Hour

	// finalizeTimeout bounds terminal writes, which run detached from the
	// (possibly expired) run context.
	finalizeTimeout = 10 * time.Second
)

// State is the lifecycle position of one run.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureHook is told about every run that ends in StatusFailed.
type FailureHook func(ctx context.Context, req Request, err error)

// Observer receives per-batch and per-run measurements.
type Observer interface {
	ObserveBatch(entityType EntityType, res BatchResult, elapsed time.Duration)
	ObserveRun(entityType EntityType, status Status)
}

type Options struct {
	BatchDelay                time.Duration
	Timeout                   time.Duration
	MaxConsecutiveUnavailable int
	OnFailure                 FailureHook
	Observer                  Observer
}

// Job executes synchronization runs. One Job serves any number of runs;
// each Run call owns its progress key for its whole duration.
type Job struct {
	tracker    *Tracker
	strategies Strategies
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewJob(tracker *Tracker, strategies Strategies, opts Options) *Job {
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConsecutiveUnavailable < 1 {
		opts.MaxConsecutiveUnavailable = DefaultMaxConsecutiveUnavailable
	}
	return &Job{tracker: tracker, strategies: strategies, opts: opts, sleep: sleepCtx}
}

// Tracker exposes the tracker so pollers share the job's store.
func (j *Job) Tracker() *Tracker {
	return j.tracker
}

// run carries the per-invocation state of Job.Run.
type run struct {
	job   *Job
	req   Request
	state State
}

func (r *run) transition(to State) {
	if r.state.terminal() {
		log.Printf("Sync: %s ignoring transition %s -> %s", r.req.ProgressKey, r.state, to)
		return
	}
	r.state = to
}

// Run processes req to completion and returns the final record. The
// returned error is non-nil only when the run ended as failed.
func (j *Job) Run(ctx context.Context, req Request) (*Record, error) {
	r := &run{job: j, req: req, state: StateCreated}

	ctx, cancel := context.WithTimeout(ctx, j.opts.Timeout)
	defer cancel()

	if err := req.Validate(); err != nil {
		return r.fail(ctx, err)
	}

	r.transition(StateInitializing)
	batches := Split(req.EntityIDs, req.BatchSize)
	total := len(req.EntityIDs)
	if _, err := j.tracker.Initialize(ctx, req.ProgressKey, req.EntityType, total, len(batches), req.BatchSize); err != nil {
		return r.fail(ctx, err)
	}

	log.Printf("Sync: %s started, %d %s ids in %d batches of %d",
		req.ProgressKey, total, req.EntityType, len(batches), req.BatchSize)

	proc := NewProcessor(j.strategies, j.opts.MaxConsecutiveUnavailable)
	for i, batch := range batches {
		batchIndex := i + 1
		if err := r.checkBoundary(ctx); err != nil {
			return r.fail(ctx, err)
		}
		r.transition(StateRunning)

		if err := j.tracker.RecordBatchStart(ctx, req.ProgressKey, batchIndex, batch); err != nil {
			return r.fail(ctx, err)
		}

		started := time.Now()
		res, procErr := proc.Process(ctx, req.EntityType, batch)
		if j.opts.Observer != nil {
			j.opts.Observer.ObserveBatch(req.EntityType, res, time.Since(started))
		}

		if err := r.recordResult(ctx, batchIndex, res); err != nil {
			// The batch's counters are lost from the record; MarkFailed will
			// fold its ids into failed, so keep the real split in the message.
			return r.fail(ctx, fmt.Errorf("batch %d result not saved (%d ok, %d failed, %d skipped): %w",
				batchIndex, res.Success, res.Failed, res.Skipped, err))
		}
		log.Printf("Sync: %s batch %d/%d done: %d ok, %d failed, %d skipped",
			req.ProgressKey, batchIndex, len(batches), res.Success, res.Failed, res.Skipped)

		if procErr != nil {
			return r.fail(ctx, procErr)
		}

		if batchIndex < len(batches) {
			if err := j.sleep(ctx, j.opts.BatchDelay); err != nil {
				return r.fail(ctx, err)
			}
		}
	}

	return r.complete(ctx)
}

// checkBoundary stops the run between batches on cancel or deadline.
func (r *run) checkBoundary(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := r.job.tracker.CancelRequested(ctx, r.req.ProgressKey)
	if err != nil {
		log.Printf("Sync: %s cancel check failed: %v", r.req.ProgressKey, err)
		return nil
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// recordResult stores a batch result even when the run context has just
// expired, so a partial batch is recorded before the run fails.
func (r *run) recordResult(ctx context.Context, batchIndex int, res BatchResult) error {
	if ctx.Err() != nil {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		ctx = c
	}
	return r.job.tracker.RecordBatchResult(ctx, r.req.ProgressKey, batchIndex, res)
}

// complete marks the run completed. When that write fails the run ends as
// failed instead, so the record still reaches a terminal state.
func (r *run) complete(ctx context.Context) (*Record, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := r.job.tracker.MarkCompleted(fctx, r.req.ProgressKey); err != nil {
		log.Printf("Sync: %s could not mark completed: %v", r.req.ProgressKey, err)
		return r.fail(ctx, fmt.Errorf("mark completed: %w", err))
	}
	r.transition(StateCompleted)
	rec, err := r.job.tracker.Get(fctx, r.req.ProgressKey)
	if err != nil {
		return nil, err
	}
	log.Printf("Sync: %s completed: %d ok, %d failed, %d skipped of %d",
		r.req.ProgressKey, rec.Success, rec.Failed, rec.Skipped, rec.Total)
	if r.job.opts.Observer != nil {
		r.job.opts.Observer.ObserveRun(r.req.EntityType, StatusCompleted)
	}
	return rec, nil
}

func (r *run) fail(ctx context.Context, cause error) (*Record, error) {
	r.transition(StateFailed)
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("sync timed out after %s: %w", r.job.opts.Timeout, cause)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log.Printf("Sync: %s failed: %v", r.req.ProgressKey, cause)
	if r.req.ProgressKey == "" {
		if r.job.opts.OnFailure != nil {
			r.job.opts.OnFailure(fctx, r.req, cause)
		}
		return nil, Fatal(cause)
	}
	if err := r.job.tracker.MarkFailed(fctx, r.req.ProgressKey, r.req.EntityType, len(r.req.EntityIDs), cause.Error()); err != nil {
		log.Printf("Sync: %s could not mark failed: %v", r.req.ProgressKey, err)
	}
	if r.job.opts.Observer != nil {
		r.job.opts.Observer.ObserveRun(r.req.EntityType, StatusFailed)
	}
	if r.job.opts.OnFailure != nil {
		r.job.opts.OnFailure(fctx, r.req, cause)
	}

	rec, err := r.job.tracker.Get(fctx, r.req.ProgressKey)
	if err != nil {
		rec = nil
	}
	return rec, Fatal(cause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
