package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/kvstore"
	"github.com/RebootGod/catalogsync/internal/models"
	"github.com/RebootGod/catalogsync/internal/repository"
)

const (
	DefaultReaperSchedule = "@every 5m"
	DefaultSweepSchedule  = "@every 10m"

	// staleGrace is added to the run timeout before a running row counts
	// as abandoned.
	staleGrace = 5 * time.Minute
	jobTimeout = time.Minute
)

// StaleJobs is the part of the job history the reaper needs.
type StaleJobs interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.JobRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, counts repository.JobCounts, errMsg *string) error
}

type Options struct {
	ReaperSchedule string
	SweepSchedule  string
	RunTimeout     time.Duration
}

// Scheduler runs the periodic maintenance jobs: reaping runs whose worker
// died and sweeping expired progress entries from stores without native
// expiry.
type Scheduler struct {
	cron    *cron.Cron
	jobs    StaleJobs
	tracker *bulksync.Tracker
	sweeper kvstore.Sweeper
	opts    Options
	now     func() time.Time
}

// New builds a scheduler. jobs and sweeper may be nil, disabling the
// reaper and the sweeper respectively.
func New(jobs StaleJobs, tracker *bulksync.Tracker, sweeper kvstore.Sweeper, opts Options) *Scheduler {
	if opts.ReaperSchedule == "" {
		opts.ReaperSchedule = DefaultReaperSchedule
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = DefaultSweepSchedule
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = bulksync.DefaultTimeout
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	return &Scheduler{cron: c, jobs: jobs, tracker: tracker, sweeper: sweeper, opts: opts, now: time.Now}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.jobs != nil {
		if _, err := s.cron.AddFunc(s.opts.ReaperSchedule, s.runReap); err != nil {
			return fmt.Errorf("reaper schedule %q: %w", s.opts.ReaperSchedule, err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(s.opts.SweepSchedule, s.runSweep); err != nil {
			return fmt.Errorf("sweep schedule %q: %w", s.opts.SweepSchedule, err)
		}
	}
	s.cron.Start()
	log.Printf("[scheduler] started (reaper %q, sweeper %q)", s.opts.ReaperSchedule, s.opts.SweepSchedule)
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] scheduler stopped")
}

func (s *Scheduler) runReap() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if n, err := s.Reap(ctx); err != nil {
		log.Printf("[scheduler] reaper error: %v", err)
	} else if n > 0 {
		log.Printf("[scheduler] reaped %d stale sync runs", n)
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("[scheduler] sweep error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] swept %d expired progress entries", n)
	}
}

// Reap marks runs that stayed running past their timeout as failed, in the
// job history and, when still processing, in the progress store.
func (s *Scheduler) Reap(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-(s.opts.RunTimeout + staleGrace))
	stale, err := s.jobs.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		msg := fmt.Sprintf("worker lost: run still marked running at %s", s.now().UTC().Format(time.RFC3339))
		counts := s.failProgress(ctx, job, msg)
		if err := s.jobs.UpdateStatus(ctx, job.ID, models.JobFailed, counts, &msg); err != nil {
			log.Printf("[scheduler] error failing job %s: %v", job.ID, err)
			continue
		}
		log.Printf("[scheduler] sync %s (%s) marked failed", job.ProgressKey, job.ID)
		reaped++
	}
	return reaped, nil
}

func (s *Scheduler) failProgress(ctx context.Context, job *models.JobRecord, msg string) repository.JobCounts {
	if s.tracker == nil {
		return repository.JobCounts{}
	}
	rec, err := s.tracker.Get(ctx, job.ProgressKey)
	switch {
	case errors.Is(err, bulksync.ErrRecordNotFound):
		return repository.JobCounts{}
	case err != nil:
		log.Printf("[scheduler] error loading progress %s: %v", job.ProgressKey, err)
		return repository.JobCounts{}
	case !rec.Completed:
		if err := s.tracker.MarkFailed(ctx, job.ProgressKey, rec.EntityType, rec.Total, msg); err != nil {
			log.Printf("[scheduler] error failing progress %s: %v", job.ProgressKey, err)
		} else if updated, err := s.tracker.Get(ctx, job.ProgressKey); err == nil {
			rec = updated
		}
	}
	return repository.JobCounts{Success: rec.Success, Failed: rec.Failed, Skipped: rec.Skipped}
}
