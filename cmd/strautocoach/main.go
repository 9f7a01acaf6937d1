package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	// Autoloads .env file to supply environment variables
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lildude/strautocoach/internal/analysis"
	"github.com/lildude/strautocoach/internal/cache"
	"github.com/lildude/strautocoach/internal/calendar"
	"github.com/lildude/strautocoach/internal/client"
	"github.com/lildude/strautocoach/internal/config"
	"github.com/lildude/strautocoach/internal/database"
	"github.com/lildude/strautocoach/internal/feedback"
	"github.com/lildude/strautocoach/internal/handlers/connect"
	"github.com/lildude/strautocoach/internal/handlers/imports"
	"github.com/lildude/strautocoach/internal/handlers/webhook"
	"github.com/lildude/strautocoach/internal/importer"
	"github.com/lildude/strautocoach/internal/ingest"
	"github.com/lildude/strautocoach/internal/jobs"
	"github.com/lildude/strautocoach/internal/logger"
	"github.com/lildude/strautocoach/internal/metrics"
	"github.com/lildude/strautocoach/internal/middleware"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/notify"
	"github.com/lildude/strautocoach/internal/progress"
	"github.com/lildude/strautocoach/internal/store"
	"github.com/lildude/strautocoach/internal/strava"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("unable to load configuration")
	}
	log := logger.NewLogger(cfg.LogLevel)

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := database.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("closing database")
		}
	}()

	rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	reg := metrics.SetupPrometheus()
	m := metrics.NewManager("server", reg)
	st := store.New(db)

	oc := strava.OAuthConfig(cfg.Strava.ClientID, cfg.Strava.ClientSecret, cfg.Strava.RedirectURI)
	clients := &strava.ClientSource{
		OAuth:   oc,
		Limiter: strava.NewRedisLimiter(rc.Client(), cfg.Strava.RateLimit, cfg.Strava.RateWindow),
		Tokens:  st,
		OnUsage: func(u strava.RateUsage) {
			m.SetRateUsage(u.ShortUsage, u.ShortLimit, u.DailyUsage, u.DailyLimit)
		},
	}
	fetchers := ingest.FetcherSourceFunc(func(ctx context.Context, u *model.User) (ingest.Fetcher, error) {
		c, err := clients.ClientFor(ctx, u)
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	dispatcher := jobs.NewDispatcher(cfg.Jobs.Workers, cfg.Jobs.QueueSize, log.WithField("component", "jobs"), m)

	hooks, err := buildHooks(cfg, st, log)
	if err != nil {
		return err
	}
	svc := ingest.NewService(st, fetchers, dispatcher, hooks, log.WithField("component", "ingest"), m)

	imp := importer.New(st, fetchers, svc, progress.NewStore(rc, cfg.Import.ProgressTTL), importer.Config{
		Days:          cfg.Import.Days,
		PageSize:      cfg.Import.PageSize,
		ListDelay:     cfg.Import.ListDelay,
		ItemDelay:     cfg.Import.ItemDelay,
		BackfillDays:  cfg.Import.BackfillDays,
		BackfillDelay: cfg.Import.BackfillDelay,
	}, log.WithField("component", "importer"), m)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthz(db, rc)).Methods(http.MethodGet)
	webhook.NewHandler(st, imp, svc, dispatcher, cfg.Strava.VerifyToken, cfg.WebhookDeadline, log.WithField("component", "webhook")).SetupRoutes(router)
	connect.NewHandler(oc, rc, st, imp, log.WithField("component", "connect")).SetupRoutes(router)
	if cfg.AdminToken != "" {
		imports.NewHandler(st, imp, dispatcher, log.WithField("component", "imports")).SetupRoutes(router, middleware.RequireToken(cfg.AdminToken))
	} else {
		log.Warn("ADMIN_TOKEN not set, import routes are disabled")
	}

	handler := middleware.Recover(log)(middleware.LogRequests(log)(middleware.Instrument(m)(router)))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Leaves room for the webhook critical path.
		WriteTimeout: cfg.WebhookDeadline + 10*time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting server on port %s", cfg.Port)
		serveErr <- srv.Serve(ln)
	}()

	// Strava validates a new subscription against GET /webhook, so the
	// server has to be accepting connections first.
	if cfg.Strava.Subscribe {
		if err := subscribe(ctx, cfg, log); err != nil {
			log.WithError(err).Error("unable to subscribe to the Strava webhook")
		}
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	return shutdown(srv, imp, dispatcher, log)
}

// shutdown stops taking requests, then lets running imports and queued
// jobs finish until the timeout.
func shutdown(srv *http.Server, imp *importer.Importer, dispatcher *jobs.Dispatcher, log logrus.FieldLogger) error {
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := srv.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := imp.Stop(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("importer: %w", err))
	}
	if err := dispatcher.Stop(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("job dispatcher: %w", err))
	}
	return errs
}

func buildHooks(cfg *config.Config, st *store.Store, log *logrus.Logger) (ingest.Hooks, error) {
	var hooks ingest.Hooks
	hc := &http.Client{Timeout: 60 * time.Second}

	if cfg.Coach.URL != "" {
		coach, err := feedback.NewCoach(cfg.Coach.URL, cfg.Coach.APIKey, hc)
		if err != nil {
			return hooks, err
		}
		profile := analysis.HRProfile{Resting: cfg.HR.Resting, Max: cfg.HR.Max}
		gen := feedback.NewGenerator(st, coach, profile, log.WithField("component", "feedback"))
		gen.Planner = calendar.NewService(&http.Client{Timeout: 30 * time.Second})
		hooks.Feedback = gen
	} else {
		log.Info("COACH_URL not set, feedback is disabled")
	}

	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, st, hc, log.WithField("component", "notify"))
		if err != nil {
			return hooks, err
		}
		hooks.Notifier = tg
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, notifications are disabled")
	}
	return hooks, nil
}

func subscribe(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	base, err := url.Parse(strava.BaseURL)
	if err != nil {
		return err
	}
	rc := client.NewClient(base, &http.Client{Timeout: 30 * time.Second})
	created, err := strava.EnsureSubscription(ctx, rc, strava.SubscriptionConfig{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		CallbackURL:  cfg.Strava.CallbackURI,
		VerifyToken:  cfg.Strava.VerifyToken,
	})
	if err != nil {
		return err
	}
	if created {
		log.WithField("callback_url", cfg.Strava.CallbackURI).Info("subscribed to the Strava webhook")
	}
	return nil
}

func healthz(db *gorm.DB, rc *cache.RedisCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err == nil {
			err = rc.Client().Ping(ctx).Err()
		}
		if err != nil {
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}
