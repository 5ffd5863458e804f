package banner

import (
	"fmt"

	"chatsyncd/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(cfg *config.Config, addr, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("Data dir:  %s\n", cfg.Server.DataDir)
	if cfg.Server.DesktopPath != "" {
		fmt.Printf("Desktop:   %s\n", cfg.Server.DesktopPath)
	} else {
		fmt.Println("Desktop:   bridge disabled")
	}
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /chat-sync/status - Service status")
	fmt.Println("POST /chat-sync/sync - Incremental sync for one topic")
	fmt.Println("POST /chat-sync/batch-sync - Sync many topics in one call")
	fmt.Println("GET  /chat-sync/history/{agentId}/{topicId} - Read a topic log")

	fmt.Println("\n== Production? =================================================")
	if cfg.Security.AdminUsername != "" {
		fmt.Println("- Credentials: configured")
	} else {
		fmt.Println("- Credentials: MISSING (all requests accepted; set admin_username/admin_password)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Retention.Enabled {
		if cfg.Retention.Cron != "" {
			fmt.Printf("- Maintenance: enabled (cron=%s)\n", cfg.Retention.Cron)
		} else {
			fmt.Println("- Maintenance: enabled")
		}
	} else {
		fmt.Println("- Maintenance: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
