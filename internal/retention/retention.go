// Package retention prunes old records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"activityd/pkg/config"
	"activityd/pkg/logger"
	"activityd/pkg/metrics"
	"activityd/pkg/store"
)

// Start launches the retention scheduler if enabled. Returns a cancel
// func stopping the goroutine.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if cfg.Period.Or(0) <= 0 {
		return nil, fmt.Errorf("retention enabled without a period")
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Or(0).String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce prunes records and terminal fetch task rows older than the
// configured period in batches until no more qualify. Task rows grow by
// one per poll cycle, so they age out on the same schedule as records.
func RunOnce(cfg config.RetentionConfig) error {
	cutoff := time.Now().UTC().Add(-cfg.Period.Or(0)).UnixNano()
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	var records int64
	for {
		n, err := store.PruneRecords(cutoff, batch)
		if err != nil {
			return err
		}
		records += n
		metrics.RecordsPruned.Add(float64(n))
		if n < int64(batch) {
			break
		}
	}
	var tasks int64
	for {
		n, err := store.PruneTasks(cutoff, batch)
		if err != nil {
			return err
		}
		tasks += n
		metrics.TasksPruned.Add(float64(n))
		if n < int64(batch) {
			break
		}
	}
	logger.Info("retention_run_done", "records", records, "tasks", tasks)
	return nil
}
