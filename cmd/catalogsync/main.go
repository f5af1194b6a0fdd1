package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/RebootGod/catalogsync/internal/api"
	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/catalog"
	"github.com/RebootGod/catalogsync/internal/config"
	"github.com/RebootGod/catalogsync/internal/db"
	"github.com/RebootGod/catalogsync/internal/jobs"
	"github.com/RebootGod/catalogsync/internal/kvstore"
	"github.com/RebootGod/catalogsync/internal/metadata"
	"github.com/RebootGod/catalogsync/internal/metrics"
	"github.com/RebootGod/catalogsync/internal/notifications"
	"github.com/RebootGod/catalogsync/internal/repository"
	"github.com/RebootGod/catalogsync/internal/scheduler"
	"github.com/RebootGod/catalogsync/internal/version"
)

func main() {
	ver := version.Load()
	log.Printf("catalogsync %s starting...", ver.Version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	settingsRepo := repository.NewSettingsRepository(database.DB)
	cfg.MergeFromDB(ctx, settingsRepo)

	store, closeStore, err := openProgressStore(ctx, cfg)
	if err != nil {
		log.Fatalf("progress store: %v", err)
	}
	defer closeStore()

	movieRepo := repository.NewMovieRepository(database.DB)
	seriesRepo := repository.NewSeriesRepository(database.DB)
	jobRepo := repository.NewJobRepository(database.DB)

	tmdb := metadata.NewTMDBClient(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.RequestsPerSecond, cfg.TMDB.Burst)
	if cfg.TMDB.APIKey == "" {
		log.Println("warning: TMDB_API_KEY is not set, every sync will fail")
	}

	hub := api.NewWSHub()
	tracker := bulksync.NewTracker(store, cfg.Sync.ProgressTTL, hub)
	m := metrics.New()
	alerter := notifications.NewAlerter(notifications.NewWebhookSender(), notifications.Channel{
		Type: cfg.Alerts.WebhookType,
		URL:  cfg.Alerts.WebhookURL,
	}, notifications.DefaultAlertCooldown)

	job := bulksync.NewJob(tracker, catalog.NewStrategies(tmdb, movieRepo, seriesRepo), bulksync.Options{
		BatchDelay:                cfg.Sync.BatchDelay,
		Timeout:                   cfg.Sync.Timeout,
		MaxConsecutiveUnavailable: cfg.Sync.MaxConsecutiveUnavailable,
		OnFailure:                 alerter.SyncFailed,
		Observer:                  m,
	})

	queue := jobs.NewQueue(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.WorkerConcurrency)
	jobs.RegisterHandlers(queue, job, jobRepo)
	if err := queue.Start(); err != nil {
		log.Fatalf("queue start failed: %v", err)
	}

	var sweeper kvstore.Sweeper
	if s, ok := store.(kvstore.Sweeper); ok {
		sweeper = s
	}
	sched := scheduler.New(jobRepo, tracker, sweeper, scheduler.Options{
		ReaperSchedule: cfg.ReaperSchedule,
		SweepSchedule:  cfg.SweepSchedule,
		RunTimeout:     cfg.Sync.Timeout,
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}

	srv := api.NewServer(api.Deps{
		Tracker:          tracker,
		Enqueuer:         jobs.NewSyncEnqueuer(queue, cfg.Sync.Timeout),
		History:          jobRepo,
		Hub:              hub,
		Metrics:          m.Handler(),
		DefaultBatchSize: cfg.Sync.BatchSize,
	})

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	sched.Stop()
	queue.Stop()
}

// openProgressStore selects the progress backend named by PROGRESS_BACKEND.
func openProgressStore(ctx context.Context, cfg *config.Config) (kvstore.Store, func(), error) {
	switch cfg.Progress.Backend {
	case config.BackendBolt:
		s, err := kvstore.NewBoltStore(cfg.Progress.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("progress store: bolt at %s", cfg.Progress.BoltPath)
		return s, func() { s.Close() }, nil
	case config.BackendMemory:
		log.Println("progress store: in-memory (single process only)")
		return kvstore.NewMemoryStore(), func() {}, nil
	default:
		s, err := kvstore.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("progress store: redis at %s", cfg.Redis.Addr)
		return s, func() { s.Close() }, nil
	}
}
