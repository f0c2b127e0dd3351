package app

import (
	"os"
	"strings"
	"time"

	"github.com/noetl/core/internal/platform/envutil"
)

// Config is the server/worker process's startup configuration, read from
// the environment the way the teacher's internal/app.LoadConfig does --
// small env-var helpers, no config-mapping library (SPEC_FULL.md AMBIENT
// STACK: "Configuration").
type Config struct {
	LogMode string

	Port int

	PostgresDSN string

	RedisAddr string

	CatalogDir string

	IDNodeID int64

	SweepInterval time.Duration
	OfflineAfter  time.Duration

	ExecutionLockTTL time.Duration
}

func LoadConfig() Config {
	return Config{
		LogMode:          strings.TrimSpace(os.Getenv("LOG_MODE")),
		Port:             envutil.Int("PORT", 8080),
		PostgresDSN:      getEnv("NOETL_POSTGRES_DSN", "host=localhost user=noetl password=noetl dbname=noetl port=5432 sslmode=disable"),
		RedisAddr:        getEnv("NOETL_REDIS_ADDR", ""),
		CatalogDir:       getEnv("NOETL_CATALOG_DIR", "./catalog"),
		IDNodeID:         int64(envutil.Int("NOETL_ID_NODE_ID", 1)),
		SweepInterval:    time.Duration(envutil.Int("NOETL_SWEEP_INTERVAL_SECONDS", 15)) * time.Second,
		OfflineAfter:     time.Duration(envutil.Int("NOETL_OFFLINE_AFTER_SECONDS", 45)) * time.Second,
		ExecutionLockTTL: time.Duration(envutil.Int("NOETL_EXECUTION_LOCK_TTL_SECONDS", 10)) * time.Second,
	}
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
