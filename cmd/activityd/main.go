package main

import (
	"context"
	"log"
	"net"
	"strconv"

	"github.com/joho/godotenv"

	"activityd/internal/app"
	"activityd/pkg/config"
	"activityd/pkg/logger"
	"activityd/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over env/config when explicitly provided
	if setFlags["addr"] {
		if h, p, err := net.SplitHostPort(addrVal); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = addrVal
		}
	}
	if setFlags["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = dbVal
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.New(cfg, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, cfg.Storage.DBPath, 0)
	}
}
