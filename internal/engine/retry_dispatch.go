package engine

import (
	"context"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/store/postgres"
	"github.com/noetl/core/internal/templating"
)

// handleActionCompleted is reached on every action_completed event. It
// routes to one of three outcomes depending on what the job represented:
// an iterator child, an on_success pagination continuation, or a plain
// step whose completion should route downstream.
func (e *Engine) handleActionCompleted(ctx context.Context, proj *ExecutionProjection, ev *noetl.Event) error {
	meta := decodeJSON(ev.Meta)
	iter := meta.Get("iterator")
	retryMeta := meta.Get("retry")

	if !iter.IsNull() && iter.Kind() == noetl.KindMap {
		if _, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventIterationCompleted, ev.NodeID,
			decodeJSON(ev.Result), noetl.Null(), meta); err != nil {
			return err
		}
		return e.advanceAsyncSlot(ctx, proj, ev.NodeID, int(iter.Get("index").Int()))
	}

	if !retryMeta.IsNull() && retryMeta.Get("type").String() == "on_success" {
		return e.continueOnSuccessChain(ctx, proj, ev, retryMeta)
	}

	playbook, err := e.loadPlaybookFor(proj)
	if err != nil {
		return err
	}
	step := playbook.Steps[ev.NodeID]
	if step != nil && step.Retry != nil && step.Retry.OnSuccess != nil {
		return e.startOnSuccessChain(ctx, proj, step, ev)
	}

	_, err = e.emitInternal(ctx, proj.ExecutionID, noetl.EventStepCompleted, ev.NodeID, decodeJSON(ev.Result), noetl.Null(), noetl.Null())
	return err
}

// handleActionFailed is reached on every action_failed event. Iterator
// children get their own independent retry sequence and, on exhaustion,
// report iteration_failed to the join rather than failing the whole
// execution; plain steps consult retry.on_error and either re-enqueue with
// backoff or emit step_failed.
func (e *Engine) handleActionFailed(ctx context.Context, proj *ExecutionProjection, ev *noetl.Event) error {
	meta := decodeJSON(ev.Meta)
	iter := meta.Get("iterator")
	data := decodeJSON(ev.Data)
	errMsg := data.Get("error").String()

	playbook, err := e.loadPlaybookFor(proj)
	if err != nil {
		return err
	}
	step := playbook.Steps[ev.NodeID]

	retried, err := e.maybeRetryOnError(ctx, proj, step, ev, meta)
	if err != nil {
		return err
	}
	if retried {
		return nil
	}

	if !iter.IsNull() && iter.Kind() == noetl.KindMap {
		if _, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventIterationFailed, ev.NodeID,
			noetl.Null(), noetl.Map(map[string]noetl.Value{"error": noetl.String(errMsg)}), meta); err != nil {
			return err
		}
		return e.advanceAsyncSlot(ctx, proj, ev.NodeID, int(iter.Get("index").Int()))
	}

	proj.SetStatus(ev.NodeID, StepDead)
	_, err = e.emitInternal(ctx, proj.ExecutionID, noetl.EventStepFailed, ev.NodeID,
		noetl.Null(), noetl.Map(map[string]noetl.Value{"error": noetl.String(errMsg)}), noetl.Null())
	if err != nil {
		return err
	}
	if step != nil && step.OnError == "continue" {
		return nil
	}
	return e.maybeCompleteExecution(ctx, proj)
}

// maybeRetryOnError consults retry.on_error and, if a retry is warranted,
// enqueues the next attempt with computed backoff (§4.1 on_error retry).
func (e *Engine) maybeRetryOnError(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, ev *noetl.Event, meta noetl.Value) (bool, error) {
	if step == nil || step.Retry == nil || step.Retry.OnError == nil {
		return false, nil
	}
	policy := step.Retry.OnError
	s := proj.Step(ev.NodeID)
	attemptNumber := s.Retry.OnErrorAttempt + 1

	whenTruthy := true
	if policy.When != "" {
		var err error
		whenTruthy, err = e.svc.Templater.Truthy(policy.When, proj.Scope(ev.NodeID))
		if err != nil {
			return false, err
		}
	}
	if !shouldRetryOnError(policy, attemptNumber, whenTruthy) {
		return false, nil
	}

	delay := computeBackoff(policy, attemptNumber, e.svc.Rand)
	s.Retry.OnErrorAttempt = attemptNumber
	proj.SetStatus(ev.NodeID, StepRetryPending)

	retryMeta := encodeJSON(noetl.Map(map[string]noetl.Value{
		"retry": noetl.Map(map[string]noetl.Value{
			"attempt_number":  noetl.Int(int64(attemptNumber + 1)),
			"parent_event_id": noetl.Int(ev.EventID),
			"type":            noetl.String("on_error"),
			"will_retry":      noetl.Bool(true),
		}),
	}))

	action := encodeJSON(noetl.Map(map[string]noetl.Value{
		"tool_kind": noetl.String(step.Tool.Kind),
		"tool_spec": step.Tool.Spec,
		"call":      proj.Scope(ev.NodeID).Get("call"),
	}))
	_, _, err := e.svc.Queue.Enqueue(ctx, postgres.JobSpec{
		ExecutionID: proj.ExecutionID,
		NodeID:      step.ID,
		Action:      action,
		MaxAttempts: policy.MaxAttempts,
		AvailableAt: e.svc.Clock.Now().Add(delay),
		Meta:        retryMeta,
	})
	return true, err
}

// startOnSuccessChain begins a retry.on_success pagination/polling
// sequence (§4.1 on_success retry). The chain root event anchors
// aggregation when the chain terminates.
func (e *Engine) startOnSuccessChain(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, ev *noetl.Event) error {
	policy := step.Retry.OnSuccess
	scope := responseScope(proj.Scope(step.ID), decodeJSON(ev.Result))
	whileTrue, err := e.svc.Templater.Truthy(policy.While, scope)
	if err != nil {
		return err
	}
	s := proj.Step(step.ID)
	s.Retry.ChainRootEventID = ev.EventID
	s.Retry.OnSuccessAttempt = 1

	if !whileTrue || policy.MaxAttempts <= 1 {
		return e.finishOnSuccessChain(ctx, proj, step, ev.EventID)
	}
	return e.enqueueOnSuccessContinuation(ctx, proj, step, ev.EventID, scope, 2)
}

// continueOnSuccessChain handles a completed continuation attempt.
func (e *Engine) continueOnSuccessChain(ctx context.Context, proj *ExecutionProjection, ev *noetl.Event, meta noetl.Value) error {
	playbook, err := e.loadPlaybookFor(proj)
	if err != nil {
		return err
	}
	step := playbook.Steps[ev.NodeID]
	if step == nil || step.Retry == nil || step.Retry.OnSuccess == nil {
		_, err := e.emitInternal(ctx, proj.ExecutionID, noetl.EventStepCompleted, ev.NodeID, decodeJSON(ev.Result), noetl.Null(), noetl.Null())
		return err
	}
	policy := step.Retry.OnSuccess
	s := proj.Step(step.ID)
	attempt := s.Retry.OnSuccessAttempt + 1
	s.Retry.OnSuccessAttempt = attempt

	scope := responseScope(proj.Scope(step.ID), decodeJSON(ev.Result))
	whileTrue, err := e.svc.Templater.Truthy(policy.While, scope)
	if err != nil {
		return err
	}
	if !whileTrue || attempt >= policy.MaxAttempts {
		return e.finishOnSuccessChain(ctx, proj, step, s.Retry.ChainRootEventID)
	}
	return e.enqueueOnSuccessContinuation(ctx, proj, step, s.Retry.ChainRootEventID, scope, attempt+1)
}

func (e *Engine) enqueueOnSuccessContinuation(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, rootEventID int64, scope noetl.Value, nextAttempt int) error {
	policy := step.Retry.OnSuccess
	renderedSpec, err := renderNextCall(policy.NextCall, scope, e.svc.Templater, step.Tool.Spec)
	if err != nil {
		return err
	}
	meta := encodeJSON(noetl.Map(map[string]noetl.Value{
		"retry": noetl.Map(map[string]noetl.Value{
			"attempt_number":  noetl.Int(int64(nextAttempt)),
			"parent_event_id": noetl.Int(rootEventID),
			"type":            noetl.String("on_success"),
		}),
	}))
	action := encodeJSON(noetl.Map(map[string]noetl.Value{
		"tool_kind": noetl.String(step.Tool.Kind),
		"tool_spec": renderedSpec,
		"call":      scope.Get("call"),
	}))
	_, _, err = e.svc.Queue.Enqueue(ctx, postgres.JobSpec{
		ExecutionID: proj.ExecutionID,
		NodeID:      step.ID,
		Action:      action,
		MaxAttempts: policy.MaxAttempts,
		AvailableAt: e.svc.Clock.Now(),
		Meta:        meta,
	})
	return err
}

// finishOnSuccessChain walks the retry chain from rootEventID and
// aggregates per the collect strategy (§4.1).
func (e *Engine) finishOnSuccessChain(ctx context.Context, proj *ExecutionProjection, step *dsl.Step, rootEventID int64) error {
	events, err := e.svc.Events.ListChain(ctx, rootEventID)
	if err != nil {
		return err
	}
	attemptResults := make([][]byte, 0, len(events))
	for _, e := range events {
		if e.EventType == noetl.EventActionCompleted {
			attemptResults = append(attemptResults, e.Result)
		}
	}

	policy := step.Retry.OnSuccess
	var aggregated []byte
	switch policy.Collect {
	case dsl.CollectAppend:
		aggregated, err = templating.CollectAppend(policy.MergePath, attemptResults)
	case dsl.CollectAll:
		aggregated, err = templating.CollectAll(attemptResults)
	default: // replace: last attempt wins
		if len(attemptResults) > 0 {
			aggregated = attemptResults[len(attemptResults)-1]
		} else {
			aggregated = []byte("null")
		}
	}
	if err != nil {
		return err
	}

	_, err = e.emitInternal(ctx, proj.ExecutionID, noetl.EventRetrySequenceCompleted, step.ID,
		decodeJSON(aggregated), noetl.Map(map[string]noetl.Value{
			"aggregated_result": decodeJSON(aggregated),
		}), noetl.Null())
	return err
}

func responseScope(scope noetl.Value, response noetl.Value) noetl.Value {
	base := scope.MapValue()
	merged := make(map[string]noetl.Value, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	merged["response"] = response
	return noetl.Map(merged)
}

func renderNextCall(nc dsl.NextCall, scope noetl.Value, eval templating.Evaluator, baseSpec noetl.Value) (noetl.Value, error) {
	out := baseSpec
	for _, part := range []struct {
		key string
		val noetl.Value
	}{{"params", nc.Params}, {"body", nc.Body}, {"headers", nc.Headers}} {
		if part.val.IsNull() {
			continue
		}
		rendered, err := renderValue(part.val, scope, eval)
		if err != nil {
			return noetl.Null(), err
		}
		out = noetl.DeepMerge(out, noetl.Map(map[string]noetl.Value{part.key: rendered}))
	}
	return out, nil
}

func renderValue(v noetl.Value, scope noetl.Value, eval templating.Evaluator) (noetl.Value, error) {
	switch v.Kind() {
	case noetl.KindString:
		return eval.Render(v.String(), scope)
	case noetl.KindMap:
		out := make(map[string]noetl.Value, len(v.MapValue()))
		for k, inner := range v.MapValue() {
			rendered, err := renderValue(inner, scope, eval)
			if err != nil {
				return noetl.Null(), err
			}
			out[k] = rendered
		}
		return noetl.Map(out), nil
	case noetl.KindArray:
		out := make([]noetl.Value, len(v.Array()))
		for i, inner := range v.Array() {
			rendered, err := renderValue(inner, scope, eval)
			if err != nil {
				return noetl.Null(), err
			}
			out[i] = rendered
		}
		return noetl.Array(out...), nil
	default:
		return v, nil
	}
}
