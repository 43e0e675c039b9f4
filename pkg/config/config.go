package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "/data/activityd.db", "SQLite database file path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies ACTIVITYD_* environment overrides onto the
// provided cfg and reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				envUsed = true
				*dst = n
			}
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			var d Duration
			if err := yamlStringInto(v, &d); err == nil {
				envUsed = true
				*dst = d
			}
		}
	}

	if v := os.Getenv("ACTIVITYD_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		str("ACTIVITYD_ADDRESS", &cfg.Server.Address)
		num("ACTIVITYD_PORT", &cfg.Server.Port)
	}

	str("ACTIVITYD_DB_PATH", &cfg.Storage.DBPath)
	str("ACTIVITYD_TLS_CERT", &cfg.Server.TLS.CertFile)
	str("ACTIVITYD_TLS_KEY", &cfg.Server.TLS.KeyFile)
	str("ACTIVITYD_LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv("ACTIVITYD_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("ACTIVITYD_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	num("ACTIVITYD_RATE_BURST", &cfg.Security.RateLimit.Burst)
	if v := os.Getenv("ACTIVITYD_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("ACTIVITYD_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}

	num("ACTIVITYD_QUEUE_CAPACITY", &cfg.Queue.Capacity)
	dur("ACTIVITYD_SUBMIT_TIMEOUT", &cfg.Queue.SubmitTimeout)

	str("ACTIVITYD_FEED_URL", &cfg.Fetch.FeedURL)
	str("ACTIVITYD_FEED_USER", &cfg.Fetch.User)
	num("ACTIVITYD_FEED_LIMIT", &cfg.Fetch.Limit)
	dur("ACTIVITYD_POLL_INTERVAL", &cfg.Fetch.PollInterval)
	dur("ACTIVITYD_FETCH_TIMEOUT", &cfg.Fetch.Timeout)
	num("ACTIVITYD_FETCH_MAX_ATTEMPTS", &cfg.Fetch.MaxAttempts)
	dur("ACTIVITYD_BACKOFF_BASE", &cfg.Fetch.Backoff.Base)
	dur("ACTIVITYD_BACKOFF_MAX", &cfg.Fetch.Backoff.Max)

	if v := os.Getenv("ACTIVITYD_NOTIFY_ENABLED"); v != "" {
		envUsed = true
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Notify.Enabled = true
		default:
			cfg.Notify.Enabled = false
		}
	}
	str("ACTIVITYD_NOTIFY_URL", &cfg.Notify.URL)
	str("ACTIVITYD_NOTIFY_CHAT_ID", &cfg.Notify.ChatID)

	return envUsed
}

// yamlStringInto parses a scalar string through the yaml unmarshaler so
// env values accept the same syntax as the config file ("100ms", "15").
func yamlStringInto(raw string, out any) error {
	return yaml.Unmarshal([]byte(strings.TrimSpace(raw)), out)
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. A missing file is not fatal; env and defaults
// still apply. A file that exists but fails to parse is an error, so a
// typo never silently drops the whole config. Returns the effective
// config and whether env was used.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = &Config{}
	default:
		return nil, false, err
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the ACTIVITYD_CONFIG env var when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("ACTIVITYD_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
