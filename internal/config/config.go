// Package config loads the service configuration from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds every setting the service needs. Values come from the
// environment, optionally seeded from a .env file by the entrypoint.
type Config struct {
	Port     string `env:"PORT, default=8080"`
	Env      string `env:"ENV, default=production"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	DatabaseURL string `env:"DATABASE_URL, required"`
	RedisURL    string `env:"REDIS_URL, default=redis://localhost:6379"`

	Strava   Strava
	Import   Import
	Jobs     Jobs
	Telegram Telegram
	Coach    Coach
	HR       HeartRate

	WebhookDeadline time.Duration `env:"WEBHOOK_DEADLINE, default=5s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
}

type Strava struct {
	ClientID     string        `env:"STRAVA_CLIENT_ID"`
	ClientSecret string        `env:"STRAVA_CLIENT_SECRET"`
	RedirectURI  string        `env:"STRAVA_REDIRECT_URI"`
	VerifyToken  string        `env:"STRAVA_VERIFY_TOKEN"`
	CallbackURI  string        `env:"STRAVA_CALLBACK_URI"`
	Subscribe    bool          `env:"STRAVA_SUBSCRIBE, default=false"`
	RateLimit    int           `env:"STRAVA_RATE_LIMIT, default=200"`
	RateWindow   time.Duration `env:"STRAVA_RATE_WINDOW, default=15m"`
}

type Import struct {
	Days        int           `env:"IMPORT_DAYS, default=60"`
	PageSize    int           `env:"IMPORT_PAGE_SIZE, default=100"`
	ListDelay   time.Duration `env:"IMPORT_LIST_DELAY, default=1s"`
	ItemDelay   time.Duration `env:"IMPORT_ITEM_DELAY, default=5s"`
	ProgressTTL time.Duration `env:"PROGRESS_TTL, default=24h"`

	BackfillDays  int           `env:"BACKFILL_DAYS, default=7"`
	BackfillDelay time.Duration `env:"BACKFILL_DELAY, default=3s"`
}

type Jobs struct {
	Workers   int `env:"JOB_WORKERS, default=2"`
	QueueSize int `env:"JOB_QUEUE_SIZE, default=100"`
}

type Telegram struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
}

type Coach struct {
	URL    string `env:"COACH_URL"`
	APIKey string `env:"COACH_API_KEY"`
}

type HeartRate struct {
	Resting float64 `env:"HR_RESTING, default=60"`
	Max     float64 `env:"HR_MAX, default=190"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &c, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.HR.Max <= c.HR.Resting {
		return fmt.Errorf("HR_MAX (%v) must be greater than HR_RESTING (%v)", c.HR.Max, c.HR.Resting)
	}
	if c.Import.PageSize <= 0 {
		return fmt.Errorf("IMPORT_PAGE_SIZE must be positive, got %d", c.Import.PageSize)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	return nil
}

// IsTest reports whether the service runs under the test environment.
func (c *Config) IsTest() bool {
	return c.Env == "test"
}
