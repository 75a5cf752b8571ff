package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the search service
type Config struct {
	Server     ServerConfig
	Upload     UploadConfig
	Search     SearchConfig
	Session    SessionConfig
	Storage    StorageConfig
	Fetch      FetchConfig
	Politeness PolitenessConfig
}

type ServerConfig struct {
	Addr            string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// UploadConfig holds the limits enforced on incoming documents
type UploadConfig struct {
	AllowedExtensions []string
	MaxTotalBytes     int64
	MaxFileBytes      int64
	MaxFiles          int
}

// SearchConfig holds occurrence search defaults
type SearchConfig struct {
	DefaultWindowSize int
	ParallelWorkers   int
}

// SessionConfig controls session lifetime and the cookie carrying its token
type SessionConfig struct {
	CookieName    string
	TTL           time.Duration
	SweepInterval time.Duration
	SecureCookie  bool
}

// StorageConfig selects and configures the session storage backend
type StorageConfig struct {
	Backend       string // memory, file, bolt, redis
	DataDir       string
	BoltPath      string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// FetchConfig holds remote document fetching configuration
type FetchConfig struct {
	RequestTimeout time.Duration
	MaxRetries     uint64
	RetryBase      time.Duration
	MaxURLs        int
	Concurrency    int
	UserAgent      string
}

// PolitenessConfig holds per-host politeness settings for the fetcher
type PolitenessConfig struct {
	MinDelay            time.Duration
	Burst               int
	RobotsCacheDuration time.Duration
	EnableRobotsCheck   bool
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            GetStringEnv("SERVER_ADDR", ":8080"),
			LogLevel:        GetStringEnv("LOG_LEVEL", "info"),
			ReadTimeout:     GetDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    GetDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: GetDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Upload: UploadConfig{
			AllowedExtensions: GetListEnv("UPLOAD_EXTENSIONS", []string{".txt"}),
			MaxTotalBytes:     GetInt64Env("UPLOAD_MAX_TOTAL_BYTES", 25*1024*1024),
			MaxFileBytes:      GetInt64Env("UPLOAD_MAX_FILE_BYTES", 25*1024*1024),
			MaxFiles:          GetIntEnv("UPLOAD_MAX_FILES", 100),
		},
		Search: SearchConfig{
			DefaultWindowSize: GetIntEnv("SEARCH_DEFAULT_WINDOW", 3),
			ParallelWorkers:   GetIntEnv("SEARCH_PARALLEL_WORKERS", 4),
		},
		Session: SessionConfig{
			CookieName:    GetStringEnv("SESSION_COOKIE_NAME", "kwic_session"),
			TTL:           GetDurationEnv("SESSION_TTL", 1*time.Hour),
			SweepInterval: GetDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			SecureCookie:  GetBoolEnv("SESSION_SECURE_COOKIE", false),
		},
		Storage: StorageConfig{
			Backend:       GetStringEnv("STORAGE_BACKEND", "memory"),
			DataDir:       GetStringEnv("STORAGE_DATA_DIR", "./data/sessions"),
			BoltPath:      GetStringEnv("STORAGE_BOLT_PATH", "./data/sessions.db"),
			RedisURL:      GetStringEnv("REDIS_URL", "localhost:6379"),
			RedisPassword: GetStringEnv("REDIS_PASSWORD", ""),
			RedisDB:       GetIntEnv("REDIS_DB", 0),
			RedisPrefix:   GetStringEnv("REDIS_PREFIX", "kwic:session:"),
		},
		Fetch: FetchConfig{
			RequestTimeout: GetDurationEnv("FETCH_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     uint64(GetIntEnv("FETCH_MAX_RETRIES", 3)),
			RetryBase:      GetDurationEnv("FETCH_RETRY_BASE", 500*time.Millisecond),
			MaxURLs:        GetIntEnv("FETCH_MAX_URLS", 20),
			Concurrency:    GetIntEnv("FETCH_CONCURRENCY", 4),
			UserAgent:      GetStringEnv("FETCH_USER_AGENT", "KWIC-Search/1.0"),
		},
		Politeness: PolitenessConfig{
			MinDelay:            GetDurationEnv("POLITENESS_MIN_DELAY", 1*time.Second),
			Burst:               GetIntEnv("POLITENESS_BURST", 1),
			RobotsCacheDuration: GetDurationEnv("POLITENESS_ROBOTS_CACHE_DURATION", 24*time.Hour),
			EnableRobotsCheck:   GetBoolEnv("POLITENESS_ENABLE_ROBOTS_CHECK", true),
		},
	}
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetListEnv splits a comma separated value, trimming blanks
func GetListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
