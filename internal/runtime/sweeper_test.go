package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/platform/logger"
	"github.com/noetl/core/internal/runtime"
	"github.com/noetl/core/internal/store/postgres"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One named in-memory database per test, so rows (and seqIDs(1) runtime
	// IDs) from one test never leak into another.
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, postgres.AutoMigrate(db))
	return db
}

func seqIDs(start int64) func() int64 {
	next := start
	return func() int64 {
		id := next
		next++
		return id
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("test")
	require.NoError(t, err)
	return l
}

func TestRegistry_RegisterAndHeartbeat(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewRuntimeRepo(db, seqIDs(1))
	reg := runtime.NewRegistry(repo)
	ctx := context.Background()

	_, err := reg.Register(ctx, runtime.RegisterInput{
		Name: "worker-1", Kind: noetl.RuntimeKindWorkerPool, Capacity: 4, Hostname: "h1", PID: 123,
	})
	require.NoError(t, err)

	found, err := reg.Heartbeat(ctx, noetl.RuntimeKindWorkerPool, "worker-1")
	require.NoError(t, err)
	require.True(t, found)

	online, err := reg.ListOnline(ctx, noetl.RuntimeKindWorkerPool)
	require.NoError(t, err)
	require.Len(t, online, 1)
	require.Equal(t, "worker-1", online[0].Name)
}

func TestSweeper_TickMarksStaleOfflineAndHeartbeatsSelf(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewRuntimeRepo(db, seqIDs(1))
	reg := runtime.NewRegistry(repo)
	ctx := context.Background()

	_, err := reg.Register(ctx, runtime.RegisterInput{Name: "stale-worker", Kind: noetl.RuntimeKindWorkerPool})
	require.NoError(t, err)
	require.NoError(t, db.Model(&noetl.RuntimeComponent{}).
		Where("name = ?", "stale-worker").
		Update("heartbeat", time.Now().Add(-time.Hour)).Error)

	sweeper := runtime.NewSweeper(reg, testLogger(t),
		runtime.WithSweepInterval(time.Hour), // never fires again within the test
		runtime.WithOfflineAfter(time.Minute),
	)

	done := make(chan struct{})
	tickCtx, cancel := context.WithCancel(ctx)
	go func() {
		sweeper.Start(tickCtx)
		close(done)
	}()
	// Start's first tick runs with tickCtx, so cancel only once that tick
	// has committed its own heartbeat row (the last thing a tick writes).
	require.Eventually(t, func() bool {
		servers, err := reg.ListOnline(ctx, noetl.RuntimeKindServerAPI)
		return err == nil && len(servers) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	online, err := reg.ListOnline(ctx, noetl.RuntimeKindWorkerPool)
	require.NoError(t, err)
	require.Empty(t, online, "stale worker must be swept offline")

	servers, err := reg.ListOnline(ctx, noetl.RuntimeKindServerAPI)
	require.NoError(t, err)
	require.Len(t, servers, 1, "sweeper must upsert its own heartbeat row")
}
