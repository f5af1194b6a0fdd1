package config

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config holds the process configuration, read from the environment (and
// an optional .env file) and then refined from the system_settings table.
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	Redis    RedisConfig
	TMDB     TMDBConfig
	Sync     SyncConfig
	Progress ProgressConfig
	Alerts   AlertConfig

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
	ReaperSchedule    string `env:"REAPER_SCHEDULE" envDefault:"@every 5m"`
	SweepSchedule     string `env:"SWEEP_SCHEDULE" envDefault:"@every 10m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type TMDBConfig struct {
	APIKey            string  `env:"TMDB_API_KEY"`
	BaseURL           string  `env:"TMDB_BASE_URL"`
	RequestsPerSecond float64 `env:"TMDB_REQUESTS_PER_SECOND" envDefault:"4"`
	Burst             int     `env:"TMDB_BURST" envDefault:"4"`
}

type SyncConfig struct {
	BatchSize                 int           `env:"SYNC_BATCH_SIZE" envDefault:"5"`
	BatchDelay                time.Duration `env:"SYNC_BATCH_DELAY" envDefault:"500ms"`
	Timeout                   time.Duration `env:"SYNC_TIMEOUT" envDefault:"1h"`
	ProgressTTL               time.Duration `env:"SYNC_PROGRESS_TTL" envDefault:"2h"`
	MaxConsecutiveUnavailable int           `env:"SYNC_MAX_CONSECUTIVE_UNAVAILABLE" envDefault:"5"`
}

const (
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

type ProgressConfig struct {
	Backend  string `env:"PROGRESS_BACKEND" envDefault:"redis"`
	BoltPath string `env:"PROGRESS_BOLT_PATH" envDefault:"data/progress.db"`
}

type AlertConfig struct {
	WebhookURL  string `env:"ALERT_WEBHOOK_URL"`
	WebhookType string `env:"ALERT_WEBHOOK_TYPE" envDefault:"generic"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Progress.Backend = strings.ToLower(strings.TrimSpace(cfg.Progress.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if c.Sync.BatchSize < 1 {
		problems = append(problems, "SYNC_BATCH_SIZE must be positive")
	}
	if c.Sync.BatchDelay < 0 {
		problems = append(problems, "SYNC_BATCH_DELAY must not be negative")
	}
	if c.Sync.Timeout <= 0 {
		problems = append(problems, "SYNC_TIMEOUT must be positive")
	}
	if c.Sync.ProgressTTL <= 0 {
		problems = append(problems, "SYNC_PROGRESS_TTL must be positive")
	}
	if c.Sync.MaxConsecutiveUnavailable < 1 {
		problems = append(problems, "SYNC_MAX_CONSECUTIVE_UNAVAILABLE must be positive")
	}
	if c.TMDB.RequestsPerSecond <= 0 {
		problems = append(problems, "TMDB_REQUESTS_PER_SECOND must be positive")
	}
	if c.WorkerConcurrency < 1 {
		problems = append(problems, "WORKER_CONCURRENCY must be positive")
	}
	switch c.Progress.Backend {
	case BackendRedis, BackendMemory:
	case BackendBolt:
		if c.Progress.BoltPath == "" {
			problems = append(problems, "PROGRESS_BOLT_PATH is required for the bolt backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown PROGRESS_BACKEND %q", c.Progress.Backend))
	}
	switch c.Alerts.WebhookType {
	case "generic", "discord", "slack":
	default:
		problems = append(problems, fmt.Sprintf("unknown ALERT_WEBHOOK_TYPE %q", c.Alerts.WebhookType))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SettingsSource provides the system_settings rows.
type SettingsSource interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// MergeFromDB applies overrides stored in system_settings. Unparseable
// values are logged and ignored.
func (c *Config) MergeFromDB(ctx context.Context, settings SettingsSource) {
	values, err := settings.GetAll(ctx)
	if err != nil {
		log.Printf("config: skipping DB merge: %v", err)
		return
	}

	for key, value := range values {
		if value == "" {
			continue
		}
		switch key {
		case "tmdb_api_key":
			c.TMDB.APIKey = value
		case "alert_webhook_url":
			c.Alerts.WebhookURL = value
		case "sync_batch_size":
			if v, err := cast.ToIntE(value); err == nil && v > 0 {
				c.Sync.BatchSize = v
			} else {
				log.Printf("config: ignoring sync_batch_size %q", value)
			}
		case "sync_batch_delay":
			if d, err := parseDelay(value); err == nil && d >= 0 {
				c.Sync.BatchDelay = d
			} else {
				log.Printf("config: ignoring sync_batch_delay %q", value)
			}
		}
	}
}

// parseDelay accepts Go durations ("750ms") and bare milliseconds ("750").
func parseDelay(s string) (time.Duration, error) {
	if ms, err := cast.ToInt64E(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return cast.ToDurationE(s)
}
