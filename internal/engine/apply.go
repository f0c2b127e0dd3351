package engine

import (
	"encoding/json"

	"github.com/noetl/core/internal/domain/noetl"
)

func decodeJSON(raw []byte) noetl.Value {
	if len(raw) == 0 {
		return noetl.Null()
	}
	var native interface{}
	if err := json.Unmarshal(raw, &native); err != nil {
		return noetl.Null()
	}
	return noetl.FromNative(native)
}

func encodeJSON(v noetl.Value) []byte {
	b, _ := json.Marshal(v.Native())
	return b
}

// applyEvent folds one persisted event into the in-memory projection. It
// must be idempotent: replaying the same event twice (same event_id) has no
// additional effect beyond the first application, since the caller only
// invokes applyEvent once per newly-inserted event.
func applyEvent(proj *ExecutionProjection, ev *noetl.Event) {
	data := decodeJSON(ev.Data)
	proj.LastEventID = ev.EventID

	switch ev.EventType {
	case noetl.EventExecutionStart:
		proj.Status = noetl.ExecutionStarted
		if workload := data.Get("workload"); !workload.IsNull() {
			proj.Context = noetl.DeepMerge(proj.Context, noetl.Map(map[string]noetl.Value{"workload": workload}))
		}
		if catalogID := data.Get("catalog_id"); !catalogID.IsNull() {
			proj.Context = noetl.DeepMerge(proj.Context, noetl.Map(map[string]noetl.Value{"catalog_id": catalogID}))
		}

	case noetl.EventStepStarted:
		proj.SetStatus(ev.NodeID, StepReady)

	case noetl.EventActionStarted:
		proj.SetStatus(ev.NodeID, StepLeased)

	case noetl.EventActionCompleted:
		// Terminal routing/aggregation handled by the engine's dispatch
		// pass (see retry_dispatch.go handleActionCompleted); here we only record
		// the raw result so replay reconstructs the same state.
		s := proj.Step(ev.NodeID)
		s.Result = data

	case noetl.EventActionFailed:
		// Retry bookkeeping handled by the dispatch pass; nothing to
		// apply structurally beyond what RetryState already tracks.

	case noetl.EventStepCompleted:
		proj.MarkDone(ev.NodeID, decodeJSON(ev.Result), ev.EventID)

	case noetl.EventStepFailed:
		proj.SetStatus(ev.NodeID, StepDead)

	case noetl.EventIteratorStarted:
		s := proj.Step(ev.NodeID)
		s.Iterator = &IteratorState{
			Total:          int(data.Get("total").Int()),
			ResultsByIndex: map[int]noetl.Value{},
		}

	case noetl.EventIterationCompleted, noetl.EventIterationFailed:
		meta := decodeJSON(ev.Meta).Get("iterator")
		index := int(meta.Get("index").Int())
		// iteration_completed carries the child's tool result in the result
		// slot; iteration_failed carries {error} in data.
		result := data
		if ev.EventType == noetl.EventIterationCompleted {
			result = decodeJSON(ev.Result)
		}
		proj.RecordIterationResult(ev.NodeID, index, ev.EventType == noetl.EventIterationFailed, result, data.Get("error").String())

	case noetl.EventIteratorCompleted:
		proj.MarkDone(ev.NodeID, data, ev.EventID)

	case noetl.EventRetrySequenceCompleted:
		proj.MarkDone(ev.NodeID, data, ev.EventID)

	case noetl.EventExecutionComplete:
		if status := data.Get("status").String(); status != "" {
			proj.Status = status
		} else {
			proj.Status = noetl.ExecutionCompleted
		}

	case noetl.EventExecutionAbort:
		proj.Status = noetl.ExecutionPaused
	}
}
