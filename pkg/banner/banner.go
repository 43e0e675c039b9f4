package banner

import (
	"fmt"

	"activityd/pkg/config"
)

const banner = `
 █████╗  ██████╗████████╗██╗██╗   ██╗██╗████████╗██╗   ██╗██████╗
██╔══██╗██╔════╝╚══██╔══╝██║██║   ██║██║╚══██╔══╝╚██╗ ██╔╝██╔══██╗
███████║██║        ██║   ██║██║   ██║██║   ██║    ╚████╔╝ ██║  ██║
██╔══██║██║        ██║   ██║╚██╗ ██╔╝██║   ██║     ╚██╔╝  ██║  ██║
██║  ██║╚██████╗   ██║   ██║ ╚████╔╝ ██║   ██║      ██║   ██████╔╝
╚═╝  ╚═╝ ╚═════╝   ╚═╝   ╚═╝  ╚═══╝  ╚═╝   ╚═╝      ╚═╝   ╚═════╝
`

// Print writes the startup banner with the effective runtime info.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Storage.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/records         - Insert a record (JSON: id, payload)")
	fmt.Println("GET  /v1/records?limit=n - List records")
	fmt.Println("GET  /v1/tasks           - List fetch tasks")
	fmt.Println("POST /v1/fetch           - Trigger an immediate feed cycle")

	fmt.Println("\n== Production? ================================================")
	if n := len(cfg.Security.APIKeys.Backend); n > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Backend API keys: MISSING (API is open)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Fetch.FeedURL != "" {
		fmt.Printf("- Feed: %s (every %s)\n", cfg.Fetch.FeedURL, cfg.Fetch.PollInterval.Or(0))
	} else {
		fmt.Println("- Feed: disabled (set fetch.feed_url)")
	}
	if cfg.Notify.Enabled && cfg.Notify.URL != "" {
		fmt.Println("- Notifications: enabled")
	} else {
		fmt.Println("- Notifications: disabled")
	}
	if cfg.Retention.Enabled {
		fmt.Printf("- Retention: enabled (cron=%s)\n", cfg.Retention.Cron)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
