package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/platform/apierr"
)

// EventRepo is the append-only Event Store. Insert is idempotent on
// (execution_id, client_dedup_key): a duplicate submission returns the
// original row instead of erroring, per §4.1 emit_event and §8's
// idempotence law.
type EventRepo interface {
	Insert(ctx context.Context, e *noetl.Event) (stored *noetl.Event, duplicate bool, err error)
	ListByExecution(ctx context.Context, executionID int64) ([]noetl.Event, error)
	ListChain(ctx context.Context, rootEventID int64) ([]noetl.Event, error)
}

type eventRepo struct {
	db *gorm.DB
}

func NewEventRepo(db *gorm.DB) EventRepo {
	return &eventRepo{db: db}
}

func (r *eventRepo) Insert(ctx context.Context, e *noetl.Event) (*noetl.Event, bool, error) {
	if e.ClientDedupKey == "" {
		if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
			return nil, false, apierr.Retriable("event: insert", err)
		}
		return e, false, nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "execution_id"}, {Name: "client_dedup_key"}},
			DoNothing: true,
		}).
		Create(e).Error
	if err != nil {
		return nil, false, apierr.Retriable("event: insert with dedup", err)
	}
	if e.EventID != 0 {
		return e, false, nil
	}

	var existing noetl.Event
	err = r.db.WithContext(ctx).
		Where("execution_id = ? AND client_dedup_key = ?", e.ExecutionID, e.ClientDedupKey).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apierr.Fatal("event: dedup insert reported conflict but no row found", err)
	}
	if err != nil {
		return nil, false, apierr.Retriable("event: fetch deduped row", err)
	}
	return &existing, true, nil
}

func (r *eventRepo) ListByExecution(ctx context.Context, executionID int64) ([]noetl.Event, error) {
	var events []noetl.Event
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("event_id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("event: list by execution: %w", err)
	}
	return events, nil
}

// ListChain walks a retry/pagination chain starting at rootEventID in
// parent_event_id order, used to aggregate retry.on_success sequences.
func (r *eventRepo) ListChain(ctx context.Context, rootEventID int64) ([]noetl.Event, error) {
	var events []noetl.Event
	err := r.db.WithContext(ctx).
		Raw(`
			WITH RECURSIVE chain AS (
				SELECT * FROM event WHERE event_id = ?
				UNION ALL
				SELECT e.* FROM event e JOIN chain c ON e.parent_event_id = c.event_id
			)
			SELECT * FROM chain ORDER BY event_id ASC
		`, rootEventID).Scan(&events).Error
	if err != nil {
		return nil, fmt.Errorf("event: list chain: %w", err)
	}
	return events, nil
}
