package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"VKMBot/core/audio"
	"VKMBot/logger"
	"VKMBot/quota"
	"VKMBot/server"
	"VKMBot/storage"
)

const (
	orphanSweepInterval = 10 * time.Minute
	orphanMaxAge        = time.Hour
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP and WebSocket bot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := mustLoadConfig()
	defer logger.Sync()
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set to run the server")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return err
	}

	store, closeStore, err := newQuotaStore(cfg, true)
	if err != nil {
		return err
	}
	defer closeStore()

	results, closeCache, err := newResultCache(ctx, cfg, cfg.CacheBackend)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher, err := storage.NewPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	processor := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	plugins := newPluginManager(cfg, processor)
	executor := newExecutor(cfg, plugins, processor)
	if n, err := executor.SweepOrphans(0); err == nil && n > 0 {
		logger.Info("[Server] removed files left by a previous run", logger.Int("count", n))
	}
	go sweepOrphans(ctx, executor.SweepOrphans)

	quotaManager := quota.NewManager(store, cfg.FreeDailyLimit, cfg.PremiumDailyLimit)
	hub := server.NewHub()
	presenter := server.NewWSPresenter(hub, publisher)
	coordinator := newCoordinator(cfg, plugins, results, quotaManager, executor, presenter)
	go sweepSessions(ctx, coordinator, cfg.SearchCacheTTL)

	return server.New(cfg, coordinator, quotaManager, hub).Start(ctx)
}

func sweepOrphans(ctx context.Context, sweep func(time.Duration) (int, error)) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweep(orphanMaxAge); err != nil {
				logger.Warn("[Server] orphan sweep failed", logger.ErrorField(err))
			}
		}
	}
}

// sweepSessions drops coordinator sessions whose result sets have expired.
func sweepSessions(ctx context.Context, coordinator interface{ SweepSessions(time.Duration) int }, idle time.Duration) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := coordinator.SweepSessions(idle); n > 0 {
				logger.Debug("[Server] idle sessions swept", logger.Int("count", n))
			}
		}
	}
}
