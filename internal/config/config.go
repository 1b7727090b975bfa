package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Sources
	NewsAPIKey        string
	NewsAPIBaseURL    string
	DevToBaseURL      string
	HackerNewsBaseURL string
	SourcesFile       string

	// Fetch
	FetchTimeout       time.Duration
	SourceTimeout      time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	RSSRequestInterval time.Duration
	HNItemInterval     time.Duration

	// Ingest
	IngestInterval    time.Duration
	IngestMaxArticles int

	// Cache
	CacheTTL time.Duration

	// Admin
	AdminJWTSecret string
	RateLimitAdmin int

	// Logging
	LogRetentionDays int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はカレントディレクトリの .env を環境変数へ読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.NewsAPIKey = os.Getenv("NEWS_API_KEY")
	cfg.NewsAPIBaseURL = getEnvString("NEWSAPI_BASE_URL", "https://newsapi.org/v2")
	cfg.DevToBaseURL = getEnvString("DEVTO_BASE_URL", "https://dev.to/api")
	cfg.HackerNewsBaseURL = getEnvString("HACKERNEWS_BASE_URL", "https://hacker-news.firebaseio.com/v0")
	cfg.SourcesFile = os.Getenv("SOURCES_FILE")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.SourceTimeout = getEnvDuration("SOURCE_TIMEOUT", 2*time.Minute)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 8)
	cfg.RSSRequestInterval = getEnvDuration("RSS_REQUEST_INTERVAL", time.Second)
	cfg.HNItemInterval = getEnvDuration("HN_ITEM_INTERVAL", 100*time.Millisecond)
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", time.Hour)
	cfg.IngestMaxArticles = getEnvInt("INGEST_MAX_ARTICLES", 200)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 15*time.Minute)
	cfg.AdminJWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	cfg.RateLimitAdmin = getEnvInt("RATE_LIMIT_ADMIN", 10)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// HasNewsAPI はNewsAPIの認証情報が設定されているかを返す。
func (c *Config) HasNewsAPI() bool {
	return c.NewsAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
