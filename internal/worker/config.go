package worker

import (
	"os"
	"time"

	"github.com/noetl/core/internal/platform/envutil"
)

// Config is the worker pool's startup configuration (§4.3 step 1). Name must
// be stable across restarts of the same logical worker so re-registration
// and heartbeats target the same runtime row.
type Config struct {
	Name         string
	ServerURL    string
	URI          string
	Capacity     int
	Capabilities []string
	Hostname     string
	PID          int

	HeartbeatInterval time.Duration
	LeaseDuration     time.Duration
	PollInterval      time.Duration
	GraceWindow       time.Duration
	HeartbeatRetries  int
}

// DefaultConfig fills every interval named explicitly in §4.3 and reads
// capacity/name from the environment, mirroring the teacher's
// getEnvInt("WORKER_CONCURRENCY", 4) pattern (internal/jobs/worker/worker.go).
func DefaultConfig() Config {
	host, _ := os.Hostname()
	return Config{
		Name:              host,
		Hostname:          host,
		PID:               os.Getpid(),
		Capacity:          envutil.Int("WORKER_POOL_CAPACITY", 4),
		HeartbeatInterval: time.Duration(envutil.Int("WORKER_HEARTBEAT_INTERVAL_SECONDS", 15)) * time.Second,
		LeaseDuration:     time.Duration(envutil.Int("WORKER_LEASE_DURATION_SECONDS", 60)) * time.Second,
		PollInterval:      time.Duration(envutil.Int("WORKER_POLL_INTERVAL_SECONDS", 1)) * time.Second,
		GraceWindow:       time.Duration(envutil.Int("WORKER_CANCEL_GRACE_SECONDS", 10)) * time.Second,
		HeartbeatRetries:  envutil.Int("WORKER_HEARTBEAT_MAX_RETRIES", 5),
	}
}
