// Package app wires the server components together and owns their
// lifecycle: store, bridge, HTTP surface and the maintenance scheduler.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatsyncd/internal/retention"
	"chatsyncd/pkg/bridge"
	"chatsyncd/pkg/config"
	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	addr      string
	version   string
	commit    string
	buildDate string

	store  *store.Store
	bridge *bridge.Bridge

	srv *http.Server
}

// New initializes resources that do not require a running context (store,
// bridge, config validation). It does not start the HTTP server; call Run
// to start it and block until shutdown.
func New(cfg *config.Config, addr, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Server.DataDir, err)
	}

	a := &App{cfg: cfg, addr: addr, version: version, commit: commit, buildDate: buildDate, store: st}
	if cfg.Server.DesktopPath != "" {
		a.bridge = bridge.New(cfg.Server.DesktopPath)
		logger.Info("bridge_enabled", "path", cfg.Server.DesktopPath)
	}
	return a, nil
}

// Run starts the maintenance scheduler and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) shutdown() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}
}
