package app

import (
	"fmt"
	"os"

	"chatsyncd/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.DataDir == "" {
		return fmt.Errorf("data directory is empty: set --data flag, CHATSYNC_DATA_DIR env, or server.data_dir in config")
	}

	// the desktop path is optional, but when set it must exist: a typo here
	// would silently serve empty histories
	if p := cfg.Server.DesktopPath; p != "" {
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			return fmt.Errorf("desktop path not accessible: %s", p)
		}
	}

	// TLS cert/key presence check if one is set
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if (cfg.Security.AdminUsername == "") != (cfg.Security.AdminPassword == "") {
		return fmt.Errorf("incomplete credentials: both security.admin_username and security.admin_password must be set")
	}

	return nil
}
