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

// ExecutionRepo persists Execution rows. Grounded on the teacher's
// JobRunRepo (internal/data/repos/jobs/job_run.go): a thin interface over
// GORM with explicit field-set updates rather than full-struct saves.
type ExecutionRepo interface {
	Create(ctx context.Context, e *noetl.Execution) error
	GetByID(ctx context.Context, id int64) (*noetl.Execution, error)
	UpdateStatus(ctx context.Context, id int64, status string, endTime *time.Time) error
	ExistsAndPaused(ctx context.Context, id int64) (exists bool, paused bool, err error)
}

type executionRepo struct {
	db *gorm.DB
}

func NewExecutionRepo(db *gorm.DB) ExecutionRepo {
	return &executionRepo{db: db}
}

func (r *executionRepo) Create(ctx context.Context, e *noetl.Execution) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("execution: create: %w", err)
	}
	return nil
}

func (r *executionRepo) GetByID(ctx context.Context, id int64) (*noetl.Execution, error) {
	var e noetl.Execution
	err := r.db.WithContext(ctx).Where("execution_id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("execution not found", err)
	}
	if err != nil {
		return nil, apierr.Retriable("execution: get by id", err)
	}
	return &e, nil
}

func (r *executionRepo) UpdateStatus(ctx context.Context, id int64, status string, endTime *time.Time) error {
	updates := map[string]interface{}{"status": status, "updated_at": time.Now()}
	if endTime != nil {
		updates["end_time"] = *endTime
	}
	res := r.db.WithContext(ctx).Model(&noetl.Execution{}).Where("execution_id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("execution: update status: %w", res.Error)
	}
	return nil
}

func (r *executionRepo) ExistsAndPaused(ctx context.Context, id int64) (bool, bool, error) {
	var e noetl.Execution
	err := r.db.WithContext(ctx).Select("status").Where("execution_id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("execution: exists and paused: %w", err)
	}
	return true, e.Status == noetl.ExecutionPaused, nil
}
