package runtime

import (
	"context"
	"time"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/platform/logger"
)

// Sweeper is the server background task described in §4.5: it keeps the
// liveness registry honest by marking stale components offline and
// refreshing the server's own heartbeat row. Grounded on the teacher's
// Worker.runLoop ticker shape (internal/jobs/worker/worker.go) -- a single
// goroutine woken on a fixed interval, selecting on ctx.Done() to stop
// cleanly -- generalized from job claiming to registry maintenance.
type Sweeper struct {
	registry     *Registry
	log          *logger.Logger
	interval     time.Duration
	offlineAfter time.Duration
	selfName     string
	selfURI      string
	selfCapacity int
}

// SweeperOption configures optional Sweeper behavior.
type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

func WithOfflineAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.offlineAfter = d }
}

func WithSelfURI(uri string) SweeperOption {
	return func(s *Sweeper) { s.selfURI = uri }
}

// NewSweeper constructs a Sweeper with the spec's defaults: sweep_interval
// 15s, offline_after 45s.
func NewSweeper(registry *Registry, log *logger.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry:     registry,
		log:          log.With("component", "RuntimeSweeper"),
		interval:     15 * time.Second,
		offlineAfter: 45 * time.Second,
		selfName:     SelfName(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweeper loop until ctx is cancelled. It never returns an
// error: per §4.5, loss of the sweeper only delays liveness transitions, so
// every failure is logged and the loop continues.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	offline, err := s.registry.repo.SweepOffline(ctx, s.offlineAfter)
	if err != nil {
		s.log.Error("sweep offline failed", "error", err.Error())
	} else if offline > 0 {
		s.log.Info("marked runtime components offline", "count", offline)
	}

	selfErr := s.registry.repo.UpsertSelfHeartbeat(ctx, &noetl.RuntimeComponent{
		Name:     s.selfName,
		Kind:     noetl.RuntimeKindServerAPI,
		URI:      s.selfURI,
		Capacity: s.selfCapacity,
	})
	if selfErr != nil {
		s.log.Error("self heartbeat upsert failed", "error", selfErr.Error())
		return
	}
	s.log.Debug("sweep tick committed", "self", s.selfName)
}
