package app

import (
	"testing"
	"time"

	"activityd/pkg/config"
)

func baseConfig() *config.Config {
	var cfg config.Config
	cfg.Storage.DBPath = "/tmp/test.db"
	return &cfg
}

func TestValidateConfigAccepts(t *testing.T) {
	if err := validateConfig(baseConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*config.Config)
	}{
		{"missing db path", func(c *config.Config) { c.Storage.DBPath = "" }},
		{"bad port", func(c *config.Config) { c.Server.Port = 99999 }},
		{"tls cert without key", func(c *config.Config) { c.Server.TLS.CertFile = "/x.crt" }},
		{"bad feed url", func(c *config.Config) { c.Fetch.FeedURL = "::not-a-url" }},
		{"notify without url", func(c *config.Config) { c.Notify.Enabled = true }},
		{"retention without period", func(c *config.Config) { c.Retention.Enabled = true }},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		tc.mut(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateConfigRetentionOK(t *testing.T) {
	cfg := baseConfig()
	cfg.Retention.Enabled = true
	cfg.Retention.Period = config.Duration(24 * time.Hour)
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("retention config rejected: %v", err)
	}
}
