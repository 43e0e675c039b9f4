// Package app wires configuration, storage, the write pipeline, the
// feed scheduler and the HTTP server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"activityd/pkg/config"
	"activityd/pkg/ingest"
	"activityd/pkg/logger"
	"activityd/pkg/notify"
	"activityd/pkg/scheduler"
	"activityd/pkg/store"
	"activityd/pkg/validation"
)

// drainGrace bounds how long shutdown waits for the write queue.
const drainGrace = 10 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	coord    *ingest.Coordinator
	sched    *scheduler.Scheduler
	notifier *notify.Notifier

	srv           *http.Server
	stopRetention context.CancelFunc
}

// New initializes everything that must be ready before the listener
// accepts traffic: config validation, validation rules, the store and
// its schema. A store init failure is fatal here, before any request
// can be served.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	validation.SetRules(validation.Rules{
		Required:        append([]string{}, cfg.Validation.Required...),
		MaxPayloadBytes: cfg.Validation.MaxPayloadBytes.Int64(),
	})

	if err := store.Open(cfg.Storage.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Storage.DBPath, err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{cfg: cfg, version: version, commit: commit, buildDate: buildDate}
	a.coord = ingest.NewCoordinator(cfg.Queue.Capacity)

	if cfg.Notify.Enabled && cfg.Notify.URL != "" {
		a.notifier = notify.New(cfg.Notify.URL, cfg.Notify.ChatID,
			cfg.Notify.Timeout.Or(5*time.Second), cfg.Notify.MaxAttempts)
	}

	if cfg.Fetch.FeedURL != "" {
		a.sched = scheduler.New(scheduler.Options{
			FeedURL:      cfg.Fetch.FeedURL,
			User:         cfg.Fetch.User,
			Limit:        cfg.Fetch.Limit,
			PollInterval: cfg.Fetch.PollInterval.Or(30 * time.Second),
			Timeout:      cfg.Fetch.Timeout.Or(10 * time.Second),
			MaxAttempts:  cfg.Fetch.MaxAttempts,
			BackoffBase:  cfg.Fetch.Backoff.Base.Or(100 * time.Millisecond),
			BackoffMax:   cfg.Fetch.Backoff.Max.Or(30 * time.Second),
		}, a.coord, a.notifier)
	}

	return a, nil
}

// Run starts the pipeline and the HTTP server and blocks until ctx is
// cancelled or a fatal server error occurs. Shutdown order: stop the
// listener, stop the scheduler, drain the write queue, close the store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	a.coord.Start()
	if a.sched != nil {
		a.sched.Start(ctx)
	}

	stopRet, err := startRetention(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.stopRetention = stopRet

	errCh := a.startHTTP(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			runErr = err
		}
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	logger.Info("shutdown_started")

	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if !a.coord.Close(drainGrace) {
		logger.Warn("queue_drain_incomplete")
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "err", err)
	}
	logger.Info("shutdown_complete")
}
