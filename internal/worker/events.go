package worker

import (
	"context"

	"github.com/noetl/core/internal/domain/noetl"
)

func (p *Pool) emitActionStarted(ctx context.Context, job leasedJob) error {
	return p.client.EmitEvent(ctx, map[string]interface{}{
		"execution_id": job.ExecutionID,
		"event_type":   noetl.EventActionStarted,
		"node_id":      job.NodeID,
		"context":      buildContext(job, "", noetl.Null(), noetl.Null(), noetl.Null()).Native(),
	})
}

func (p *Pool) emitActionCompleted(ctx context.Context, job leasedJob, data noetl.Value) error {
	return p.client.EmitEvent(ctx, map[string]interface{}{
		"execution_id": job.ExecutionID,
		"event_type":   noetl.EventActionCompleted,
		"node_id":      job.NodeID,
		"result":       data.Native(),
		"data":         data.Native(),
		"meta":         job.Meta.Native(),
	})
}

// emitActionFailed reports the truncated (§7, 500 chars) error message.
// has_stack_trace is always false here: the worker never forwards a raw Go
// stack trace inline, only the message; a deployment wanting the untruncated
// cause would query it from wherever the executor itself logs it, which this
// core does not model.
func (p *Pool) emitActionFailed(ctx context.Context, job leasedJob, message, reason string) error {
	return p.client.EmitEvent(ctx, map[string]interface{}{
		"execution_id": job.ExecutionID,
		"event_type":   noetl.EventActionFailed,
		"node_id":      job.NodeID,
		"data": map[string]interface{}{
			"error":           message,
			"reason":          reason,
			"has_stack_trace": false,
		},
		"meta": job.Meta.Native(),
	})
}
