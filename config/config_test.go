package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 5, cfg.FreeDailyLimit)
	assert.Equal(t, 100, cfg.PremiumDailyLimit)
	assert.Equal(t, 5, cfg.SearchMaxResults)
	assert.Equal(t, 30*time.Minute, cfg.SearchCacheTTL)
	assert.Equal(t, 1, cfg.DownloadRetries)
	assert.Equal(t, "192k", cfg.AudioBitrate)
	assert.Equal(t, "mp3", cfg.AudioFormat)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FREE_DAILY_LIMIT", "3")
	t.Setenv("SEARCH_CACHE_TTL", "90")
	t.Setenv("DOWNLOAD_TIMEOUT", "45s")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("PROVIDER_RATE_PER_SEC", "0.5")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, 3, cfg.FreeDailyLimit)
	assert.Equal(t, 90*time.Second, cfg.SearchCacheTTL)
	assert.Equal(t, 45*time.Second, cfg.DownloadTimeout)
	assert.True(t, cfg.MinioUseSSL)
	assert.InDelta(t, 0.5, cfg.ProviderRatePerSec, 1e-9)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	cfg := FromEnv()
	cfg.SearchMaxResults = 11
	cfg.FreeDailyLimit = 0
	cfg.CacheBackend = "memcached"
	cfg.DownloadRetries = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEARCH_MAX_RESULTS")
	assert.Contains(t, err.Error(), "FREE_DAILY_LIMIT")
	assert.Contains(t, err.Error(), "CACHE_BACKEND")
	assert.Contains(t, err.Error(), "DOWNLOAD_RETRIES")
}

func TestBitrateFor(t *testing.T) {
	cfg := &Config{AudioBitrate: "192k", PremiumAudioBitrate: "320k"}
	assert.Equal(t, "320k", cfg.BitrateFor(true))
	assert.Equal(t, "192k", cfg.BitrateFor(false))

	cfg.PremiumAudioBitrate = ""
	assert.Equal(t, "192k", cfg.BitrateFor(true))
}
