package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noetl/core/internal/domain/noetl"
)

// RuntimeRepo is the liveness registry: server/worker_pool/broker rows,
// upserted on registration, refreshed on heartbeat, swept to offline when
// stale. Grounded on the teacher's Heartbeat/UpdateFieldsUnlessStatus
// pattern in JobRunRepo, generalized from a single job row to a registry
// keyed on (kind, name).
type RuntimeRepo interface {
	Register(ctx context.Context, c *noetl.RuntimeComponent) (int64, error)
	Heartbeat(ctx context.Context, kind, name string) (found bool, err error)
	Deregister(ctx context.Context, kind, name string) error
	SweepOffline(ctx context.Context, offlineAfter time.Duration) (int, error)
	UpsertSelfHeartbeat(ctx context.Context, c *noetl.RuntimeComponent) error
	ListOnline(ctx context.Context, kind string) ([]noetl.RuntimeComponent, error)
}

type runtimeRepo struct {
	db  *gorm.DB
	ids func() int64
}

func NewRuntimeRepo(db *gorm.DB, idFunc func() int64) RuntimeRepo {
	return &runtimeRepo{db: db, ids: idFunc}
}

func (r *runtimeRepo) Register(ctx context.Context, c *noetl.RuntimeComponent) (int64, error) {
	if c.RuntimeID == 0 {
		c.RuntimeID = r.ids()
	}
	c.Status = noetl.RuntimeStatusOnline
	c.Heartbeat = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"uri", "status", "capabilities", "capacity", "labels", "runtime", "heartbeat", "updated_at",
		}),
	}).Create(c).Error
	if err != nil {
		return 0, fmt.Errorf("runtime: register: %w", err)
	}
	return c.RuntimeID, nil
}

func (r *runtimeRepo) Heartbeat(ctx context.Context, kind, name string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&noetl.RuntimeComponent{}).
		Where("kind = ? AND name = ?", kind, name).
		Updates(map[string]interface{}{
			"heartbeat":  time.Now(),
			"status":     noetl.RuntimeStatusOnline,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("runtime: heartbeat: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *runtimeRepo) Deregister(ctx context.Context, kind, name string) error {
	return r.db.WithContext(ctx).Where("kind = ? AND name = ?", kind, name).Delete(&noetl.RuntimeComponent{}).Error
}

func (r *runtimeRepo) SweepOffline(ctx context.Context, offlineAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-offlineAfter)
	res := r.db.WithContext(ctx).Model(&noetl.RuntimeComponent{}).
		Where("heartbeat < ? AND status != ?", cutoff, noetl.RuntimeStatusOffline).
		Updates(map[string]interface{}{"status": noetl.RuntimeStatusOffline, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("runtime: sweep offline: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *runtimeRepo) UpsertSelfHeartbeat(ctx context.Context, c *noetl.RuntimeComponent) error {
	_, err := r.Register(ctx, c)
	return err
}

func (r *runtimeRepo) ListOnline(ctx context.Context, kind string) ([]noetl.RuntimeComponent, error) {
	var out []noetl.RuntimeComponent
	err := r.db.WithContext(ctx).Where("kind = ? AND status = ?", kind, noetl.RuntimeStatusOnline).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("runtime: list online: %w", err)
	}
	return out, nil
}
