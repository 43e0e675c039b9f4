package app

import (
	"context"
	"fmt"
	"net/url"

	"activityd/internal/retention"
	"activityd/pkg/config"
)

// validateConfig rejects configurations that cannot possibly run before
// anything is opened or started.
func validateConfig(cfg *config.Config) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	if cfg.Fetch.FeedURL != "" {
		if _, err := url.ParseRequestURI(cfg.Fetch.FeedURL); err != nil {
			return fmt.Errorf("invalid fetch.feed_url: %w", err)
		}
	}
	if cfg.Notify.Enabled && cfg.Notify.URL == "" {
		return fmt.Errorf("notify.enabled requires notify.url")
	}
	if cfg.Retention.Enabled && cfg.Retention.Period.Or(0) <= 0 {
		return fmt.Errorf("retention.enabled requires retention.period")
	}
	return nil
}

// startRetention hands off to the retention scheduler.
func startRetention(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	return retention.Start(ctx, cfg.Retention)
}
