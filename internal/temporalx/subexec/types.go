// Package subexec bridges the `playbooks` tool executor to a Temporal child
// workflow: a step whose tool.kind is "playbooks" starts a child execution
// in the orchestration engine and this workflow polls it to completion,
// reporting back through the same tick-loop shape the teacher uses for its
// job_run workflow (internal/temporalx/jobrun/workflow.go), generalized
// from a single job_run row to an execution_id tracked by the engine.
package subexec

import "time"

const (
	WorkflowName  = "subexec_run"
	ActivityTick  = "subexec_tick"
	SignalAbort   = "subexec_abort"
)

// TickResult reports the child execution's state after one activity tick.
type TickResult struct {
	ExecutionID int64      `json:"execution_id"`
	Status      string     `json:"status"`
	WaitUntil   *time.Time `json:"wait_until,omitempty"`
}
