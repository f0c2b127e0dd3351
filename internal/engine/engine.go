// Package engine is the orchestration engine: the single writer to the
// queue. It ingests events, rebuilds per-execution projections, evaluates
// the playbook DSL, and issues queue operations and synthetic events.
package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/platform/apierr"
	"github.com/noetl/core/internal/store/postgres"
)

// Engine is the heart of the orchestration core (§4.1). One Engine is
// constructed per server process; projections are held in memory and owned
// exclusively by the per-execution lock (§5).
type Engine struct {
	svc Services

	projMu      sync.Mutex
	projections map[int64]*ExecutionProjection

	evalGroup singleflight.Group
}

func New(svc Services) *Engine {
	return &Engine{svc: svc, projections: map[int64]*ExecutionProjection{}}
}

func (e *Engine) projectionFor(ctx context.Context, executionID int64) (*ExecutionProjection, error) {
	e.projMu.Lock()
	proj, ok := e.projections[executionID]
	e.projMu.Unlock()
	if ok {
		return proj, nil
	}
	proj, err := RebuildProjection(ctx, e.svc.Events, executionID)
	if err != nil {
		return nil, err
	}
	e.projMu.Lock()
	e.projections[executionID] = proj
	e.projMu.Unlock()
	return proj, nil
}

// EmitEvent is the engine's primary entry point (§4.1). It persists the
// event, folds it into the execution's projection, and evaluates whatever
// dispatch decisions follow. Idempotent on (execution_id, client_dedup_key).
func (e *Engine) EmitEvent(ctx context.Context, ev *noetl.Event) (*noetl.Event, error) {
	if ev.ExecutionID == 0 {
		return nil, apierr.Validation("event missing execution_id", nil)
	}
	if ev.EventType == "" {
		return nil, apierr.Validation("event missing event_type", nil)
	}
	if ev.EventID == 0 {
		ev.EventID = e.svc.IDs()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.svc.Clock.Now()
	}

	if ev.EventType != noetl.EventExecutionStart {
		exists, _, err := e.svc.Executions.ExistsAndPaused(ctx, ev.ExecutionID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apierr.NotFound(fmt.Sprintf("unknown execution %d", ev.ExecutionID), nil)
		}
	}

	release, err := e.svc.Lock.Acquire(ctx, ev.ExecutionID)
	if err != nil {
		return nil, apierr.Retriable("engine: acquire execution lock", err)
	}
	defer release()

	stored, duplicate, err := e.svc.Events.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return stored, nil
	}

	proj, err := e.projectionFor(ctx, ev.ExecutionID)
	if err != nil {
		return stored, err
	}
	applyEvent(proj, stored)

	if err := e.onEvent(ctx, proj, stored); err != nil {
		e.svc.Log.Error("engine: dispatch failed", "execution_id", ev.ExecutionID, "event_type", ev.EventType, "error", err.Error())
		return stored, err
	}
	return stored, nil
}

// EvaluateExecution recomputes dispatch decisions for the current
// projection. It is safe to call repeatedly: concurrent callers for the
// same execution_id collapse onto a single recompute via singleflight,
// since the operation is declared idempotent by §4.1.
func (e *Engine) EvaluateExecution(ctx context.Context, executionID int64) error {
	_, err, _ := e.evalGroup.Do(fmt.Sprintf("%d", executionID), func() (interface{}, error) {
		proj, err := e.projectionFor(ctx, executionID)
		if err != nil {
			return nil, err
		}
		playbook, err := e.loadPlaybookFor(proj)
		if err != nil {
			return nil, err
		}
		for stepID := range playbook.Steps {
			if err := e.tryDispatchStep(ctx, proj, playbook, stepID); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (e *Engine) loadPlaybookFor(proj *ExecutionProjection) (*dsl.Playbook, error) {
	// catalog_id is read from the projection's global context, where
	// applyEvent hoists it on execution_start, and resolved through the
	// PlaybookLoader on every call.
	catalogID := proj.Context.Get("catalog_id").String()
	return e.svc.Playbooks.Load(catalogID)
}

// onEvent is the per-event-type dispatch table.
func (e *Engine) onEvent(ctx context.Context, proj *ExecutionProjection, ev *noetl.Event) error {
	switch ev.EventType {
	case noetl.EventExecutionStart:
		playbook, err := e.loadPlaybookFor(proj)
		if err != nil {
			return err
		}
		return e.tryDispatchStep(ctx, proj, playbook, playbook.Start)

	case noetl.EventActionCompleted:
		return e.handleActionCompleted(ctx, proj, ev)

	case noetl.EventActionFailed:
		return e.handleActionFailed(ctx, proj, ev)

	case noetl.EventIterationCompleted, noetl.EventIterationFailed:
		return e.maybeCompleteIterator(ctx, proj, ev.NodeID)

	case noetl.EventStepCompleted, noetl.EventIteratorCompleted, noetl.EventRetrySequenceCompleted:
		// A loop step's join (iterator_completed) and an on_success
		// pagination chain's aggregation (retry_sequence_completed) both
		// mark the step DONE in applyEvent, exactly like step_completed;
		// they must also route downstream and re-check execution
		// completion the same way, or their successors never dispatch and
		// a terminal loop/pagination step never closes the execution.
		playbook, err := e.loadPlaybookFor(proj)
		if err != nil {
			return err
		}
		return e.routeFrom(ctx, proj, playbook, ev.NodeID)
	}
	return nil
}

// tryDispatchStep gates and, if ready, enqueues a step instance. A step
// whose projection shows done=true is silently dropped (idempotence).
func (e *Engine) tryDispatchStep(ctx context.Context, proj *ExecutionProjection, playbook *dsl.Playbook, stepID string) error {
	if stepID == "" || proj.IsStepDone(stepID) {
		return nil
	}
	step, ok := playbook.Steps[stepID]
	if !ok {
		return apierr.Validation(fmt.Sprintf("unknown step %q referenced by playbook", stepID), nil)
	}

	scope := proj.Scope(stepID)
	truthy, err := e.svc.Templater.Truthy(step.When, scope)
	if err != nil {
		return fmt.Errorf("engine: evaluate when for step %s: %w", stepID, err)
	}
	if !truthy {
		proj.SetStatus(stepID, StepParked)
		return nil
	}

	if err := e.applyBind(proj, step, scope); err != nil {
		return fmt.Errorf("engine: apply bind for step %s: %w", stepID, err)
	}
	// Re-read scope: bind may have just hoisted values this step's own
	// tool/loop rendering (and every downstream step, via the now-updated
	// global context) needs to see.
	scope = proj.Scope(stepID)

	if step.Loop != nil {
		return e.dispatchIterator(ctx, proj, step, scope)
	}
	return e.dispatchSingle(ctx, proj, step, scope, nil)
}

// applyBind evaluates a step's `bind` assignments against its current scope
// and deep-merges the results into the execution's global context (§4.1:
// "bind (variable assignments hoisted to context)"), so both this step's own
// tool/next/case rendering and every downstream step's scope can read them.
func (e *Engine) applyBind(proj *ExecutionProjection, step *dsl.Step, scope noetl.Value) error {
	if len(step.Bind) == 0 {
		return nil
	}
	bound := make(map[string]noetl.Value, len(step.Bind))
	for name, expr := range step.Bind {
		rendered, err := e.svc.Templater.Render(expr, scope)
		if err != nil {
			return fmt.Errorf("bind %q: %w", name, err)
		}
		bound[name] = rendered
	}
	proj.MergeContext(noetl.Map(bound))
	return nil
}

func (e *Engine) dispatchSingle(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, scope noetl.Value, meta *postgres.JobSpec) error {
	action := encodeJSON(noetl.Map(map[string]noetl.Value{
		"tool_kind": noetl.String(step.Tool.Kind),
		"tool_spec": step.Tool.Spec,
		"call":      scope.Get("call"),
	}))

	spec := postgres.JobSpec{
		ExecutionID: proj.ExecutionID,
		NodeID:      step.ID,
		Action:      action,
		MaxAttempts: onErrorMaxAttempts(step.Retry),
		AvailableAt: e.svc.Clock.Now(),
	}
	if meta != nil {
		spec.ParentExecutionID = meta.ParentExecutionID
		spec.Meta = meta.Meta
	}

	if _, _, err := e.svc.Queue.Enqueue(ctx, spec); err != nil {
		return err
	}
	proj.SetStatus(step.ID, StepReady)
	_, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventStepStarted, step.ID, nil, nil, nil)
	return err
}

func onErrorMaxAttempts(r *dsl.Retry) int {
	if r != nil && r.OnError != nil && r.OnError.MaxAttempts > 0 {
		return r.OnError.MaxAttempts
	}
	return 1
}

// emitInternal builds and persists a synthetic event while the execution
// lock is already held by the caller (EmitEvent / dispatch path), applying
// it to the same in-memory projection without re-acquiring the lock.
func (e *Engine) emitInternal(ctx context.Context, executionID int64, eventType, nodeID string, result, data, meta noetl.Value) (*noetl.Event, error) {
	ev := &noetl.Event{
		EventID:     e.svc.IDs(),
		ExecutionID: executionID,
		EventType:   eventType,
		NodeID:      nodeID,
		Timestamp:   e.svc.Clock.Now(),
	}
	if !result.IsNull() {
		ev.Result = encodeJSON(result)
	}
	if !data.IsNull() {
		ev.Data = encodeJSON(data)
	}
	if !meta.IsNull() {
		ev.Meta = encodeJSON(meta)
	}
	stored, _, err := e.svc.Events.Insert(ctx, ev)
	if err != nil {
		return nil, err
	}
	proj, err := e.projectionFor(ctx, executionID)
	if err != nil {
		return stored, err
	}
	applyEvent(proj, stored)
	return stored, e.onEvent(ctx, proj, stored)
}

// routeFrom evaluates a completed step's `next` array (edge/fan/else
// precedence) and its `case` rules (additional event-based dispatches),
// then dispatches every resulting target per §4.1.
func (e *Engine) routeFrom(ctx context.Context, proj *ExecutionProjection, playbook *dsl.Playbook, fromStep string) error {
	step := playbook.Steps[fromStep]
	if step == nil {
		return nil
	}
	scope := proj.Scope(fromStep)
	dispatches, err := dsl.RouteAll(step, scope, e.svc.Templater)
	if err != nil {
		return fmt.Errorf("engine: route from %s: %w", fromStep, err)
	}
	if len(dispatches) == 0 {
		return e.maybeCompleteExecution(ctx, proj)
	}
	for _, d := range dispatches {
		proj.MergeCall(d.Step, d.Args)
		if err := e.tryDispatchStep(ctx, proj, playbook, d.Step); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) maybeCompleteExecution(ctx context.Context, proj *ExecutionProjection) error {
	status := proj.ExecutionStatus()
	if status != noetl.ExecutionCompleted && status != noetl.ExecutionFailed {
		return nil
	}
	now := e.svc.Clock.Now()
	if err := e.svc.Executions.UpdateStatus(ctx, proj.ExecutionID, status, &now); err != nil {
		return err
	}
	_, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventExecutionComplete, "", noetl.Null(),
		noetl.Map(map[string]noetl.Value{"status": noetl.String(status)}), noetl.Null())
	return err
}

// AbortExecution handles an execution_abort request: transitions to PAUSED
// and prevents further leasing (the queue's lease query already filters on
// execution status).
func (e *Engine) AbortExecution(ctx context.Context, executionID int64) error {
	_, err := e.EmitEvent(ctx, &noetl.Event{ExecutionID: executionID, EventType: noetl.EventExecutionAbort})
	if err != nil {
		return err
	}
	return e.svc.Executions.UpdateStatus(ctx, executionID, noetl.ExecutionPaused, nil)
}
