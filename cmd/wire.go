package cmd

import (
	"context"
	"fmt"
	"time"

	"VKMBot/cache"
	"VKMBot/config"
	"VKMBot/core/audio"
	"VKMBot/core/plugin"
	"VKMBot/core/youtube"
	"VKMBot/core/ytdlp"
	"VKMBot/db"
	"VKMBot/logger"
	"VKMBot/pipeline"
	"VKMBot/quota"
	"VKMBot/repository"
	"VKMBot/retrieval"
)

const cacheSweepInterval = time.Minute

// mustLoadConfig loads and validates configuration and starts the logger.
func mustLoadConfig() *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
	})
	if err := cfg.Validate(); err != nil {
		logger.Fatal("[Config] invalid configuration", logger.ErrorField(err))
	}
	return cfg
}

// newPluginManager registers the yt-dlp plugin and, for the native backend,
// the kkdai/youtube fetcher on top of it.
func newPluginManager(cfg *config.Config, processor *audio.FFmpegProcessor) *plugin.MusicPluginManager {
	ytdlpClient := ytdlp.New(ytdlp.Options{
		Executable: cfg.YtdlpPath,
		FFmpegPath: cfg.FFmpegPath,
		RatePerSec: cfg.ProviderRatePerSec,
	})

	defaultSource := ytdlp.Source
	if cfg.FetchBackend == "native" {
		defaultSource = youtube.Source
	}
	manager := plugin.NewMusicPluginManager(defaultSource)
	manager.Register(ytdlpClient)
	if cfg.FetchBackend == "native" {
		manager.Register(youtube.New(ytdlpClient, processor))
	}
	logger.Info("[Wire] music plugins ready",
		logger.String("default", defaultSource),
		logger.Any("sources", manager.Sources()))
	return manager
}

func newExecutor(cfg *config.Config, provider plugin.MusicPlugin, prober audio.Prober) *retrieval.Executor {
	return retrieval.NewExecutor(provider, retrieval.Options{
		WorkDir:        cfg.WorkDir,
		Format:         cfg.AudioFormat,
		Bitrate:        cfg.BitrateFor(false),
		PremiumBitrate: cfg.BitrateFor(true),
		Prober:         prober,
	})
}

// newResultCache returns the configured result cache and its closer.
func newResultCache(ctx context.Context, cfg *config.Config, backend string) (cache.ResultCache, func(), error) {
	switch backend {
	case "redis":
		if err := cache.ConnectRedis(cfg); err != nil {
			return nil, nil, err
		}
		return cache.NewRedisResultCache(cache.RedisClient, cfg.SearchCacheTTL), func() { cache.CloseRedis() }, nil
	case "memory":
		mem := cache.NewMemoryResultCache(cfg.SearchCacheTTL)
		sweepCtx, cancel := context.WithCancel(ctx)
		mem.StartSweeper(sweepCtx, cacheSweepInterval)
		return mem, cancel, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// newQuotaStore opens the database store, or an in-process one when
// persistent is false.
func newQuotaStore(cfg *config.Config, persistent bool) (quota.Store, func(), error) {
	if !persistent {
		return quota.NewMemoryStore(), func() {}, nil
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(db.GormDB); err != nil {
		db.CloseGormDB()
		return nil, nil, err
	}
	return repository.NewGormQuotaRepository(db.GormDB), func() { db.CloseGormDB() }, nil
}

func newCoordinator(cfg *config.Config, searcher pipeline.Searcher, results cache.ResultCache,
	gate pipeline.QuotaGate, fetcher pipeline.Fetcher, presenter pipeline.Presenter) *pipeline.Coordinator {
	return pipeline.NewCoordinator(searcher, results, gate, fetcher, presenter, pipeline.Config{
		MaxResults:      cfg.SearchMaxResults,
		Retries:         cfg.DownloadRetries,
		RetryBackoff:    cfg.RetryBackoff,
		DownloadTimeout: cfg.DownloadTimeout,
	})
}
