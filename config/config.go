package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// HTTP transport
	BotAddr   string
	JWTSecret string

	// Retrieval
	WorkDir             string
	YtdlpPath           string
	FFmpegPath          string
	FFprobePath         string
	AudioFormat         string
	AudioBitrate        string // e.g. "192k"
	PremiumAudioBitrate string
	SearchMaxResults    int
	FetchBackend        string // ytdlp | native
	ProviderRatePerSec  float64
	DownloadTimeout     time.Duration
	DownloadRetries     int
	RetryBackoff        time.Duration

	// Quota
	FreeDailyLimit    int
	PremiumDailyLimit int

	// Result cache
	CacheBackend   string // redis | memory
	SearchCacheTTL time.Duration

	// Database
	DBDriver   string // mysql | sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string
	MinioLinkTTL   time.Duration

	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() *Config {
	return &Config{
		BotAddr:   getEnv("BOT_ADDR", ":8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		WorkDir:             getEnv("WORK_DIR", "downloads"),
		YtdlpPath:           getEnv("YTDLP_PATH", ""),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),
		AudioFormat:         getEnv("AUDIO_FORMAT", "mp3"),
		AudioBitrate:        getEnv("AUDIO_BITRATE", "192k"),
		PremiumAudioBitrate: getEnv("PREMIUM_AUDIO_BITRATE", "320k"),
		SearchMaxResults:    getEnvInt("SEARCH_MAX_RESULTS", 5),
		FetchBackend:        getEnv("FETCH_BACKEND", "ytdlp"),
		ProviderRatePerSec:  getEnvFloat("PROVIDER_RATE_PER_SEC", 2),
		DownloadTimeout:     getEnvDuration("DOWNLOAD_TIMEOUT", 5*time.Minute),
		DownloadRetries:     getEnvInt("DOWNLOAD_RETRIES", 1),
		RetryBackoff:        getEnvDuration("DOWNLOAD_RETRY_BACKOFF", 2*time.Second),

		FreeDailyLimit:    getEnvInt("FREE_DAILY_LIMIT", 5),
		PremiumDailyLimit: getEnvInt("PREMIUM_DAILY_LIMIT", 100),

		CacheBackend:   getEnv("CACHE_BACKEND", "redis"),
		SearchCacheTTL: getEnvDuration("SEARCH_CACHE_TTL", 30*time.Minute),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "vkmbot"),
		SQLitePath: getEnv("SQLITE_PATH", "vkmbot.db"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "vkmbot"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioLinkTTL:   getEnvDuration("MINIO_LINK_TTL", time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.WorkDir == "" {
		errs = append(errs, errors.New("WORK_DIR must not be empty"))
	}
	if c.SearchMaxResults < 1 || c.SearchMaxResults > 10 {
		errs = append(errs, fmt.Errorf("SEARCH_MAX_RESULTS must be within 1..10, got %d", c.SearchMaxResults))
	}
	if c.FreeDailyLimit < 1 {
		errs = append(errs, fmt.Errorf("FREE_DAILY_LIMIT must be positive, got %d", c.FreeDailyLimit))
	}
	if c.PremiumDailyLimit < c.FreeDailyLimit {
		errs = append(errs, fmt.Errorf("PREMIUM_DAILY_LIMIT (%d) must not be below FREE_DAILY_LIMIT (%d)", c.PremiumDailyLimit, c.FreeDailyLimit))
	}
	if c.DownloadRetries < 0 {
		errs = append(errs, fmt.Errorf("DOWNLOAD_RETRIES must not be negative, got %d", c.DownloadRetries))
	}
	if c.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_TIMEOUT must be positive"))
	}
	if c.SearchCacheTTL <= 0 {
		errs = append(errs, errors.New("SEARCH_CACHE_TTL must be positive"))
	}
	if c.ProviderRatePerSec <= 0 {
		errs = append(errs, errors.New("PROVIDER_RATE_PER_SEC must be positive"))
	}
	switch c.CacheBackend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	switch c.FetchBackend {
	case "ytdlp", "native":
	default:
		errs = append(errs, fmt.Errorf("unknown FETCH_BACKEND %q", c.FetchBackend))
	}
	return errors.Join(errs...)
}

// BitrateFor returns the audio bitrate for a tier name.
func (c *Config) BitrateFor(premium bool) string {
	if premium && c.PremiumAudioBitrate != "" {
		return c.PremiumAudioBitrate
	}
	return c.AudioBitrate
}
