package engine

import (
	"context"

	"github.com/noetl/core/internal/store/postgres"
)

// RebuildProjection reconstructs an ExecutionProjection by replaying the
// event log in event_id order (§8 round-trip law: "Replaying the event log
// of a completed execution reconstructs a projection equivalent... to the
// one held at completion"). Used on cold start and whenever a projection is
// evicted from the in-process cache.
func RebuildProjection(ctx context.Context, events postgres.EventRepo, executionID int64) (*ExecutionProjection, error) {
	history, err := events.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	proj := NewExecutionProjection(executionID)
	for i := range history {
		applyEvent(proj, &history[i])
	}
	return proj, nil
}
