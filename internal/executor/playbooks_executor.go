package executor

import (
	"context"
	"fmt"
	"strconv"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/temporalx"
	"github.com/noetl/core/internal/temporalx/subexec"
)

// StartChildExecution begins a sub-playbook's execution and returns its
// execution_id. The playbooks tool executor never touches the queue or
// event store directly; it asks the engine (through this function, wired
// by internal/app) to do the equivalent of a `POST /executions/run` call.
type StartChildExecution func(ctx context.Context, catalogID string, payload noetl.Value) (executionID int64, err error)

// PlaybooksExecutor implements tool.kind "playbooks": it starts a child
// execution and blocks until it reaches a terminal state by driving a
// Temporal child workflow (internal/temporalx/subexec) keyed on the child's
// execution_id, rather than polling in-process. Grounded on the teacher's
// jobrun tick-loop bridge, generalized to executions instead of job_run
// rows (see internal/temporalx/subexec).
type PlaybooksExecutor struct {
	StartChild StartChildExecution
	Temporal   temporalsdkclient.Client
}

func NewPlaybooksExecutor(start StartChildExecution, tc temporalsdkclient.Client) *PlaybooksExecutor {
	return &PlaybooksExecutor{StartChild: start, Temporal: tc}
}

func (e *PlaybooksExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	if e.StartChild == nil {
		return Result{}, fmt.Errorf("playbooks executor: not wired with a child-execution starter")
	}
	catalogID := spec.Get("path").String()
	if catalogID == "" {
		catalogID = spec.Get("catalog_id").String()
	}
	if catalogID == "" {
		return Result{}, fmt.Errorf("playbooks executor: spec.path is required")
	}

	childID, err := e.StartChild(ctx, catalogID, spec.Get("payload"))
	if err != nil {
		return Result{}, fmt.Errorf("playbooks executor: start child execution: %w", err)
	}

	data := noetl.Map(map[string]noetl.Value{
		"execution_id": noetl.Int(childID),
	})

	if e.Temporal == nil {
		// Temporal disabled: the child still runs through the ordinary
		// queue/event machinery, but nothing here blocks for completion.
		return Result{Data: data}, nil
	}

	cfg := temporalx.LoadConfig()
	workflowID := strconv.FormatInt(childID, 10)
	run, err := e.Temporal.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.TaskQueue,
	}, subexec.WorkflowName)
	if err != nil {
		return Result{}, fmt.Errorf("playbooks executor: start subexec workflow: %w", err)
	}

	if err := run.Get(ctx, nil); err != nil {
		return Result{Data: data}, fmt.Errorf("playbooks executor: child execution %d did not complete: %w", childID, err)
	}
	return Result{Data: data}, nil
}

// AbortChild sends the abort signal to the subexec workflow for childID.
// The workflow reads that signal only while the child is PAUSED, where it
// ends the current wait early and polls again; the workflow keeps running.
// Nothing in this module calls AbortChild.
func AbortChild(ctx context.Context, tc temporalsdkclient.Client, childID int64) error {
	if tc == nil {
		return nil
	}
	workflowID := strconv.FormatInt(childID, 10)
	return tc.SignalWorkflow(ctx, workflowID, "", subexec.SignalAbort, nil)
}
