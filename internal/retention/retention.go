// Package retention runs the periodic maintenance pass over the data
// directory: sweeping temp files orphaned by crashed atomic writes and,
// optionally, purging topic logs that have gone stale. The schedule is a
// cron expression evaluated with gronx.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"chatsyncd/pkg/config"
	"chatsyncd/pkg/logger"
)

const defaultTempMaxAge = time.Hour

// Start starts the maintenance scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	ret := cfg.Retention

	// if maintenance is not enabled, return no-op cancel
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "dir", cfg.Server.DataDir, "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, cronExpr string) {
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

// RunOnce performs one maintenance pass: it removes *.tmp files older than
// the configured age from the data directory and, when the bridge is
// enabled, from the desktop tree, and when max_topic_age is set it purges
// topic logs whose newest message is older than that. The temp sweep never
// touches durable logs.
func RunOnce(cfg *config.Config) error {
	if err := sweepTemps(cfg); err != nil {
		return err
	}
	return purgeStaleTopics(cfg)
}

func sweepTemps(cfg *config.Config) error {
	maxAge := cfg.Retention.TempMaxAge.Duration()
	if maxAge <= 0 {
		maxAge = defaultTempMaxAge
	}
	roots := []string{cfg.Server.DataDir}
	if cfg.Server.DesktopPath != "" {
		roots = append(roots, filepath.Join(cfg.Server.DesktopPath, "AppData"))
	}

	cutoff := time.Now().Add(-maxAge)
	swept := 0
	for _, root := range roots {
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".tmp") {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().After(cutoff) {
				return nil
			}
			if cfg.Retention.DryRun {
				logger.Info("retention_would_sweep", "path", path)
				return nil
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("retention_sweep_failed", "path", path, "error", err)
				return nil
			}
			swept++
			return nil
		})
		if err != nil {
			return err
		}
	}
	logger.Info("retention_run_done", "swept", swept, "dry_run", cfg.Retention.DryRun)
	return nil
}

// purgeStaleTopics removes topic directories under the data dir whose log's
// newest message timestamp is older than max_topic_age. The registry entry
// is left alone; a purged topic can be re-created by the next sync.
func purgeStaleTopics(cfg *config.Config) error {
	maxAge := cfg.Retention.MaxTopicAge.Duration()
	if maxAge <= 0 || cfg.Server.DataDir == "" {
		return nil
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	agents, err := os.ReadDir(cfg.Server.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	purged := 0
	for _, agent := range agents {
		if !agent.IsDir() {
			continue
		}
		topicsDir := filepath.Join(cfg.Server.DataDir, agent.Name(), "topics")
		topics, err := os.ReadDir(topicsDir)
		if err != nil {
			continue
		}
		for _, topic := range topics {
			if !topic.IsDir() {
				continue
			}
			dir := filepath.Join(topicsDir, topic.Name())
			newest, err := newestTimestamp(filepath.Join(dir, "history.json"))
			if err != nil || newest == 0 || newest >= cutoff {
				continue
			}
			if cfg.Retention.DryRun {
				logger.Info("retention_would_purge", "dir", dir, "newest", newest)
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("retention_purge_failed", "dir", dir, "error", err)
				continue
			}
			purged++
		}
	}
	if purged > 0 {
		logger.Info("retention_topics_purged", "count", purged)
	}
	return nil
}

func newestTimestamp(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var msgs []struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &msgs); err != nil {
		return 0, err
	}
	var newest int64
	for _, m := range msgs {
		if m.Timestamp > newest {
			newest = m.Timestamp
		}
	}
	return newest, nil
}
