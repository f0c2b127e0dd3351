package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/store/postgres"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One named in-memory database per test: a single shared one would keep
	// earlier tests' rows, and seqIDs(1) would then collide on queue_id.
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

func TestQueueRepo_EnqueueIsIdempotentOnDedupKey(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewQueueRepo(db, seqIDs(1))
	ctx := context.Background()

	spec := postgres.JobSpec{
		ExecutionID:    100,
		NodeID:         "step_a",
		Action:         []byte(`{"kind":"http"}`),
		MaxAttempts:    3,
		ClientDedupKey: "step_a:attempt1",
	}

	id1, dup1, err := repo.Enqueue(ctx, spec)
	require.NoError(t, err)
	require.False(t, dup1)

	id2, dup2, err := repo.Enqueue(ctx, spec)
	require.NoError(t, err)
	require.True(t, dup2)
	require.Equal(t, id1, id2)
}

func TestQueueRepo_AckIsIdempotentOnDoneRow(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewQueueRepo(db, seqIDs(1))
	ctx := context.Background()

	id, _, err := repo.Enqueue(ctx, postgres.JobSpec{ExecutionID: 1, NodeID: "a", MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, db.Model(&noetl.QueueEntry{}).Where("queue_id = ?", id).Updates(map[string]interface{}{
		"status": noetl.QueueLeased, "worker_id": "w1", "lease_until": time.Now().Add(time.Minute),
	}).Error)

	require.NoError(t, repo.Ack(ctx, id, "w1", []byte(`{"ok":true}`)))
	// second ack for an already-done row must be a no-op, not an error.
	require.NoError(t, repo.Ack(ctx, id, "w1", []byte(`{"ok":true}`)))

	entry, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, noetl.QueueDone, entry.Status)
}

func TestQueueRepo_AckRejectsWorkerMismatch(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewQueueRepo(db, seqIDs(1))
	ctx := context.Background()

	id, _, err := repo.Enqueue(ctx, postgres.JobSpec{ExecutionID: 1, NodeID: "a", MaxAttempts: 1})
	require.NoError(t, err)
	require.NoError(t, db.Model(&noetl.QueueEntry{}).Where("queue_id = ?", id).Updates(map[string]interface{}{
		"status": noetl.QueueLeased, "worker_id": "w1", "lease_until": time.Now().Add(time.Minute),
	}).Error)

	err = repo.Ack(ctx, id, "w2", nil)
	require.Error(t, err)
}

func TestQueueRepo_FailWithoutRetryGoesDead(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewQueueRepo(db, seqIDs(1))
	ctx := context.Background()

	id, _, err := repo.Enqueue(ctx, postgres.JobSpec{ExecutionID: 1, NodeID: "a", MaxAttempts: 3})
	require.NoError(t, err)
	require.NoError(t, db.Model(&noetl.QueueEntry{}).Where("queue_id = ?", id).Updates(map[string]interface{}{
		"status": noetl.QueueLeased, "worker_id": "w1", "attempts": 1, "lease_until": time.Now().Add(time.Minute),
	}).Error)

	outcome, err := repo.Fail(ctx, id, "w1", "boom", false, 0, false)
	require.NoError(t, err)
	require.Equal(t, noetl.QueueDead, outcome.NewStatus)
}

func TestQueueRepo_FailWithRetryRequeues(t *testing.T) {
	db := openTestDB(t)
	repo := postgres.NewQueueRepo(db, seqIDs(1))
	ctx := context.Background()

	id, _, err := repo.Enqueue(ctx, postgres.JobSpec{ExecutionID: 1, NodeID: "a", MaxAttempts: 3})
	require.NoError(t, err)
	require.NoError(t, db.Model(&noetl.QueueEntry{}).Where("queue_id = ?", id).Updates(map[string]interface{}{
		"status": noetl.QueueLeased, "worker_id": "w1", "attempts": 1, "lease_until": time.Now().Add(time.Minute),
	}).Error)

	outcome, err := repo.Fail(ctx, id, "w1", "transient", true, 5*time.Second, false)
	require.NoError(t, err)
	require.Equal(t, noetl.QueueQueued, outcome.NewStatus)
	require.True(t, outcome.AvailableAt.After(time.Now()))
}

// TestQueueRepo_Lease_Postgres exercises the fairness/SKIP LOCKED lease
// query, which relies on Postgres-only syntax (window functions combined
// with FOR UPDATE OF ... SKIP LOCKED) that sqlite cannot execute. It runs
// only when NOETL_TEST_POSTGRES_DSN is set, matching how the teacher gates
// its own Postgres-only repo tests.
func TestQueueRepo_Lease_Postgres(t *testing.T) {
	dsn := os.Getenv("NOETL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set NOETL_TEST_POSTGRES_DSN to run the Postgres-backed lease fairness test")
	}
	db, err := postgres.Open(dsn)
	require.NoError(t, err)
	repo := postgres.NewQueueRepo(db, seqIDs(time.Now().UnixNano()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			_, _, err := repo.Enqueue(ctx, postgres.JobSpec{
				ExecutionID: int64(100 + i),
				NodeID:      "a",
				MaxAttempts: 1,
			})
			require.NoError(t, err)
		}
	}

	leased, err := repo.Lease(ctx, "worker-1", 3, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 3)

	seen := map[int64]bool{}
	for _, e := range leased {
		seen[e.ExecutionID] = true
	}
	require.Len(t, seen, 3, "fair lease must interleave across executions, not drain one")
}
