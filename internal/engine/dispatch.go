package engine

import (
	"context"
	"fmt"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/store/postgres"
)

// dispatchIterator expands a loop step into child queue jobs (§4.1 iterator
// evaluation steps 1-6).
func (e *Engine) dispatchIterator(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, scope noetl.Value) error {
	iterations, err := ResolveLoop(step.Loop, scope, e.svc.Templater)
	if err != nil {
		return fmt.Errorf("engine: resolve loop for step %s: %w", step.ID, err)
	}
	total := len(iterations)
	mode := step.Loop.EffectiveMode()
	concurrency := step.Loop.EffectiveConcurrency()

	if _, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventIteratorStarted, step.ID, noetl.Null(),
		noetl.Map(map[string]noetl.Value{
			"total":       noetl.Int(int64(total)),
			"mode":        noetl.String(mode),
			"concurrency": noetl.Int(int64(concurrency)),
			"chunk_size":  noetl.Int(int64(step.Loop.Chunk)),
		}), noetl.Null()); err != nil {
		return err
	}

	s := proj.Step(step.ID)
	s.Iterator = &IteratorState{Total: total, ResultsByIndex: map[int]noetl.Value{}}

	if total == 0 {
		return e.emitIteratorCompleted(ctx, proj, step.ID)
	}

	now := e.svc.Clock.Now()
	specs := make([]postgres.JobSpec, 0, total)
	for _, it := range iterations {
		elemScope := withEnumeratedElement(scope, step.Loop.Iterator, it.Index, it.Item, step.Loop.Enumerate)
		action := encodeJSON(noetl.Map(map[string]noetl.Value{
			"tool_kind": noetl.String(step.Tool.Kind),
			"tool_spec": step.Tool.Spec,
			"call":      elemScope.Get("call"),
			"element":   it.Item,
		}))
		meta := encodeJSON(noetl.Map(map[string]noetl.Value{
			"iterator": noetl.Map(map[string]noetl.Value{
				"index":         noetl.Int(int64(it.Index)),
				"total":         noetl.Int(int64(total)),
				"iterator_name": noetl.String(step.Loop.Iterator),
				"mode":          noetl.String(mode),
			}),
		}))
		availableAt := now
		if mode == "sequential" {
			if it.Index > 0 {
				availableAt = noetl.FarFutureAvailableAt
			}
		} else {
			availableAt = AvailableAtForIteration(mode, it.Index, concurrency, now)
		}
		execID := proj.ExecutionID
		specs = append(specs, postgres.JobSpec{
			ExecutionID:       execID,
			ParentExecutionID: &execID,
			NodeID:            step.ID,
			Action:            action,
			MaxAttempts:       onErrorMaxAttempts(step.Retry),
			AvailableAt:       availableAt,
			Meta:              meta,
		})
	}
	_, err = e.svc.Queue.EnqueueBatch(ctx, specs)
	return err
}

// advanceAsyncSlot advances the next staged iteration job to "now" when a
// slot frees up, enforcing the async concurrency cap without a semaphore
// row per §4.2's "equivalent implementations (semaphore rows) are
// permitted" note — this implementation advances available_at instead.
func (e *Engine) advanceAsyncSlot(ctx context.Context, proj *ExecutionProjection, stepID string, completedIndex int) error {
	s := proj.Step(stepID)
	if s.Iterator == nil {
		return nil
	}
	if !s.Iterator.Done() {
		if _, err := e.svc.Queue.AdvanceNextStaged(ctx, proj.ExecutionID, stepID); err != nil {
			return err
		}
	}
	return e.maybeCompleteIterator(ctx, proj, stepID)
}

func (e *Engine) emitIteratorCompleted(ctx context.Context, proj *ExecutionProjection, stepID string) error {
	s := proj.Step(stepID)
	items := []noetl.Value{}
	var errs []noetl.Value
	if s.Iterator != nil {
		for _, v := range s.Iterator.AggregatedItems() {
			items = append(items, v)
		}
		for _, ie := range s.Iterator.Errors {
			errs = append(errs, noetl.Map(map[string]noetl.Value{
				"index":   noetl.Int(int64(ie.Index)),
				"message": noetl.String(ie.Message),
			}))
		}
	}
	data := noetl.Map(map[string]noetl.Value{
		"items":  noetl.Array(items...),
		"count":  noetl.Int(int64(len(items))),
		"errors": noetl.Array(errs...),
	})
	_, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventIteratorCompleted, stepID, data, noetl.Null(), noetl.Null())
	return err
}

// maybeCompleteIterator checks the join condition (completed+failed==total)
// and emits iterator_completed exactly once, guarded by the projection's
// atomic compare-and-set (§4.4).
func (e *Engine) maybeCompleteIterator(ctx context.Context, proj *ExecutionProjection, stepID string) error {
	if !proj.TryEmitIteratorCompleted(stepID) {
		return nil
	}
	return e.emitIteratorCompleted(ctx, proj, stepID)
}
