package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
	RemoteMemory   = "memory"

	minScanWindow = 300 * time.Millisecond
	maxScanWindow = 2000 * time.Millisecond
)

type Config struct {
	Port             string
	AllowedOrigin    string
	LocalDBPath      string
	StoreID          string
	RemoteBaseURL    string
	RemoteAPIKey     string
	RemoteTimeout    time.Duration
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SessionSecret    string
	ManagerPIN       string
	ScanWindow       time.Duration
	AutoSyncSchedule string
	SyncLockTTL      time.Duration
	LogLevel         string
	LogFile          string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	timeout, err := strconv.Atoi(getEnv("REMOTE_TIMEOUT_SECONDS", "10"))
	if err != nil || timeout < 1 {
		timeout = 10
	}
	scanMS, err := strconv.Atoi(getEnv("SCAN_WINDOW_MS", "1500"))
	if err != nil {
		scanMS = 1500
	}
	lockTTL, err := strconv.Atoi(getEnv("SYNC_LOCK_TTL_SECONDS", "120"))
	if err != nil || lockTTL < 5 {
		lockTTL = 120
	}

	cfg := Config{
		Port:             getEnv("PORT", "8787"),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		LocalDBPath:      getEnv("LOCAL_DB_PATH", "kasirsync.db"),
		StoreID:          strings.TrimSpace(os.Getenv("DEFAULT_STORE_ID")),
		RemoteBaseURL:    strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")),
		RemoteAPIKey:     strings.TrimSpace(os.Getenv("REMOTE_API_KEY")),
		RemoteTimeout:    time.Duration(timeout) * time.Second,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		SessionSecret:    strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		ManagerPIN:       strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		ScanWindow:       ClampScanWindow(time.Duration(scanMS) * time.Millisecond),
		AutoSyncSchedule: getEnv("AUTO_SYNC_SCHEDULE", "@every 1m"),
		SyncLockTTL:      time.Duration(lockTTL) * time.Second,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf("127.0.0.1:%s", c.Port)
}

// RemoteKind picks the system of record: the REST API when configured, then a
// direct database connection, otherwise the seeded in-process demo backend.
func (c Config) RemoteKind() string {
	switch {
	case c.RemoteBaseURL != "":
		return RemoteHTTP
	case c.DatabaseURL != "":
		return RemotePostgres
	default:
		return RemoteMemory
	}
}

func ClampScanWindow(d time.Duration) time.Duration {
	if d < minScanWindow {
		return minScanWindow
	}
	if d > maxScanWindow {
		return maxScanWindow
	}
	return d
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
