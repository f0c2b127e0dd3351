package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/platform/apierr"
)

// JobSpec is the input to enqueue/enqueue_batch/scheduled_enqueue.
type JobSpec struct {
	ExecutionID       int64
	ParentExecutionID *int64
	NodeID            string
	Action            []byte // serialized step config with resolved inputs
	MaxAttempts       int
	AvailableAt       time.Time
	ClientDedupKey    string
	Meta              []byte
}

// FailOutcome describes the result of a fail() call to the engine.
type FailOutcome struct {
	NewStatus   string
	Attempts    int
	AvailableAt time.Time
}

// QueueRepo is the durable job ledger: the only coordination channel
// between the engine and workers. Grounded on the teacher's JobRunRepo
// ClaimNextRunnable pattern (internal/data/repos/jobs/job_run.go), adapted
// from single-row claim to multi-row fair lease.
type QueueRepo interface {
	Enqueue(ctx context.Context, spec JobSpec) (queueID int64, duplicate bool, err error)
	EnqueueBatch(ctx context.Context, specs []JobSpec) (queueIDs []int64, err error)
	ScheduledEnqueue(ctx context.Context, spec JobSpec, at time.Time) (int64, error)
	Lease(ctx context.Context, workerID string, max int, leaseDuration time.Duration) ([]noetl.QueueEntry, error)
	Ack(ctx context.Context, queueID int64, workerID string, result []byte) error
	Fail(ctx context.Context, queueID int64, workerID string, errMsg string, retry bool, retryDelay time.Duration, permanent bool) (FailOutcome, error)
	SweepExpiredLeases(ctx context.Context) (requeued int, dead int, err error)
	RenewLease(ctx context.Context, queueID int64, workerID string, extension time.Duration) error
	GetByID(ctx context.Context, queueID int64) (*noetl.QueueEntry, error)
	// AdvanceNextStaged moves the earliest still-staged (far-future
	// available_at) queued row for (executionID, nodeID) to now, freeing
	// the next async-iterator slot as an earlier sibling completes.
	AdvanceNextStaged(ctx context.Context, executionID int64, nodeID string) (advanced bool, err error)
}

type queueRepo struct {
	db *gorm.DB
	ids func() int64
}

// NewQueueRepo builds a QueueRepo. idFunc mints queue_id values (the
// Identifier Service); the repo never lets Postgres assign IDs so the same
// ID space is usable in logs/events emitted before the row commits.
func NewQueueRepo(db *gorm.DB, idFunc func() int64) QueueRepo {
	return &queueRepo{db: db, ids: idFunc}
}

func (r *queueRepo) Enqueue(ctx context.Context, spec JobSpec) (int64, bool, error) {
	if spec.AvailableAt.IsZero() {
		spec.AvailableAt = time.Now()
	}
	if spec.MaxAttempts <= 0 {
		spec.MaxAttempts = 1
	}
	entry := &noetl.QueueEntry{
		QueueID:           r.ids(),
		ExecutionID:       spec.ExecutionID,
		ParentExecutionID: spec.ParentExecutionID,
		NodeID:            spec.NodeID,
		Action:            spec.Action,
		Status:            noetl.QueueQueued,
		MaxAttempts:       spec.MaxAttempts,
		AvailableAt:       spec.AvailableAt,
		ClientDedupKey:    spec.ClientDedupKey,
		Meta:              spec.Meta,
	}

	if spec.ClientDedupKey != "" {
		var existing noetl.QueueEntry
		err := r.db.WithContext(ctx).
			Where("execution_id = ? AND client_dedup_key = ?", spec.ExecutionID, spec.ClientDedupKey).
			First(&existing).Error
		if err == nil {
			return existing.QueueID, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, apierr.Retriable("queue: dedup lookup", err)
		}
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return 0, false, apierr.Retriable("queue: enqueue", err)
	}
	return entry.QueueID, false, nil
}

func (r *queueRepo) EnqueueBatch(ctx context.Context, specs []JobSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &queueRepo{db: tx, ids: r.ids}
		for _, spec := range specs {
			id, _, err := txRepo.Enqueue(ctx, spec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *queueRepo) ScheduledEnqueue(ctx context.Context, spec JobSpec, at time.Time) (int64, error) {
	spec.AvailableAt = at
	id, _, err := r.Enqueue(ctx, spec)
	return id, err
}

// Lease atomically selects up to max queued, due, non-paused rows, fair
// across executions via a per-execution rank, and marks them leased. The
// CTE assigns rank(execution_id, available_at, queue_id); the outer query
// orders by that rank first so no single hot execution can fill the batch
// before others get a turn, then locks rows FOR UPDATE SKIP LOCKED so
// concurrent lease calls never double-assign a row.
func (r *queueRepo) Lease(ctx context.Context, workerID string, max int, leaseDuration time.Duration) ([]noetl.QueueEntry, error) {
	if max <= 0 {
		return nil, nil
	}
	now := time.Now()
	leaseUntil := now.Add(leaseDuration)

	var claimed []noetl.QueueEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		err := tx.Raw(`
			WITH ranked AS (
				SELECT queue_id,
				       row_number() OVER (PARTITION BY execution_id ORDER BY available_at, queue_id) AS rnk
				FROM queue
				WHERE status = ? AND available_at <= ?
			)
			SELECT q.queue_id
			FROM queue q
			JOIN ranked r ON r.queue_id = q.queue_id
			WHERE q.execution_id NOT IN (
				SELECT execution_id FROM execution WHERE status = ?
			)
			ORDER BY r.rnk, q.execution_id
			FOR UPDATE OF q SKIP LOCKED
			LIMIT ?
		`, noetl.QueueQueued, now, noetl.ExecutionPaused, max).Scan(&ids).Error
		if err != nil {
			return fmt.Errorf("queue: lease candidate select: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&noetl.QueueEntry{}).
			Where("queue_id IN ?", ids).
			Updates(map[string]interface{}{
				"status":      noetl.QueueLeased,
				"worker_id":   workerID,
				"lease_until": leaseUntil,
				"attempts":    gorm.Expr("attempts + 1"),
				"updated_at":  now,
			}).Error; err != nil {
			return fmt.Errorf("queue: lease claim update: %w", err)
		}
		return tx.Where("queue_id IN ?", ids).Order("queue_id ASC").Find(&claimed).Error
	})
	if err != nil {
		return nil, apierr.Retriable("queue: lease", err)
	}
	return claimed, nil
}

func (r *queueRepo) Ack(ctx context.Context, queueID int64, workerID string, result []byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry noetl.QueueEntry
		err := tx.Where("queue_id = ?", queueID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("queue row not found", err)
		}
		if err != nil {
			return apierr.Retriable("queue: ack lookup", err)
		}
		if entry.Status == noetl.QueueDone {
			return nil // idempotent duplicate ack
		}
		if entry.Status != noetl.QueueLeased || entry.WorkerID != workerID {
			return apierr.Conflict("ack rejected: lease expired or worker mismatch", nil)
		}
		return tx.Model(&noetl.QueueEntry{}).Where("queue_id = ?", queueID).Updates(map[string]interface{}{
			"status":     noetl.QueueDone,
			"updated_at": time.Now(),
		}).Error
	})
}

func (r *queueRepo) Fail(ctx context.Context, queueID int64, workerID, errMsg string, retry bool, retryDelay time.Duration, permanent bool) (FailOutcome, error) {
	var outcome FailOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry noetl.QueueEntry
		err := tx.Where("queue_id = ?", queueID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("queue row not found", err)
		}
		if err != nil {
			return apierr.Retriable("queue: fail lookup", err)
		}
		if entry.Status != noetl.QueueLeased || entry.WorkerID != workerID {
			return apierr.Conflict("fail rejected: lease expired or worker mismatch", nil)
		}

		now := time.Now()
		if permanent || !retry || entry.Attempts >= entry.MaxAttempts {
			outcome = FailOutcome{NewStatus: noetl.QueueDead, Attempts: entry.Attempts}
			return tx.Model(&noetl.QueueEntry{}).Where("queue_id = ?", queueID).Updates(map[string]interface{}{
				"status":     noetl.QueueDead,
				"updated_at": now,
			}).Error
		}
		availableAt := now.Add(retryDelay)
		outcome = FailOutcome{NewStatus: noetl.QueueQueued, Attempts: entry.Attempts, AvailableAt: availableAt}
		return tx.Model(&noetl.QueueEntry{}).Where("queue_id = ?", queueID).Updates(map[string]interface{}{
			"status":       noetl.QueueQueued,
			"available_at": availableAt,
			"worker_id":    "",
			"lease_until":  nil,
			"updated_at":   now,
		}).Error
	})
	if err != nil {
		return FailOutcome{}, err
	}
	_ = errMsg // surfaced by caller into action_failed event, not stored on the row itself
	return outcome, nil
}

func (r *queueRepo) SweepExpiredLeases(ctx context.Context) (int, int, error) {
	now := time.Now()
	var requeued, dead int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []noetl.QueueEntry
		err := tx.Where("status = ? AND lease_until < ?", noetl.QueueLeased, now).Find(&expired).Error
		if err != nil {
			return fmt.Errorf("queue: sweep select: %w", err)
		}
		for _, e := range expired {
			if e.Attempts >= e.MaxAttempts {
				dead++
				if err := tx.Model(&noetl.QueueEntry{}).Where("queue_id = ?", e.QueueID).Updates(map[string]interface{}{
					"status": noetl.QueueDead, "updated_at": now,
				}).Error; err != nil {
					return err
				}
				continue
			}
			requeued++
			if err := tx.Model(&noetl.QueueEntry{}).Where("queue_id = ?", e.QueueID).Updates(map[string]interface{}{
				"status": noetl.QueueQueued, "worker_id": "", "lease_until": nil, "available_at": now, "updated_at": now,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, apierr.Retriable("queue: sweep expired leases", err)
	}
	return requeued, dead, nil
}

func (r *queueRepo) RenewLease(ctx context.Context, queueID int64, workerID string, extension time.Duration) error {
	res := r.db.WithContext(ctx).Model(&noetl.QueueEntry{}).
		Where("queue_id = ? AND worker_id = ? AND status = ?", queueID, workerID, noetl.QueueLeased).
		Updates(map[string]interface{}{
			"lease_until": time.Now().Add(extension),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return apierr.Retriable("queue: renew lease", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierr.Conflict("lease renewal rejected: row no longer leased to this worker", nil)
	}
	return nil
}

func (r *queueRepo) GetByID(ctx context.Context, queueID int64) (*noetl.QueueEntry, error) {
	var e noetl.QueueEntry
	err := r.db.WithContext(ctx).Where("queue_id = ?", queueID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("queue row not found", err)
	}
	if err != nil {
		return nil, apierr.Retriable("queue: get by id", err)
	}
	return &e, nil
}

func (r *queueRepo) AdvanceNextStaged(ctx context.Context, executionID int64, nodeID string) (bool, error) {
	var staged noetl.QueueEntry
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND node_id = ? AND status = ? AND available_at >= ?",
			executionID, nodeID, noetl.QueueQueued, noetl.FarFutureAvailableAt).
		Order("queue_id ASC").
		First(&staged).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apierr.Retriable("queue: advance next staged", err)
	}
	res := r.db.WithContext(ctx).Model(&noetl.QueueEntry{}).
		Where("queue_id = ? AND status = ?", staged.QueueID, noetl.QueueQueued).
		Update("available_at", time.Now())
	if res.Error != nil {
		return false, apierr.Retriable("queue: advance next staged update", res.Error)
	}
	return res.RowsAffected > 0, nil
}
