package subexec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/noetl/core/internal/domain/noetl"
)

// Workflow ticks a child execution started by the `playbooks` tool executor
// until it reaches a terminal status, reporting failures back to the
// parent step's action_failed/action_completed event. Grounded on the
// teacher's jobrun.Workflow tick loop: same continue-as-new bound against
// history growth, same "poll, sleep until wait_until, repeat" shape,
// generalized from a job_run row's status to an execution's status.
func Workflow(ctx workflow.Context) error {
	executionIDStr := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	executionID, err := strconv.ParseInt(executionIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("subexec: workflow id %q is not an execution id: %w", executionIDStr, err)
	}

	const (
		defaultPollInterval  = 2 * time.Second
		pausedPollInterval   = 2 * time.Minute
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
	})

	abortCh := workflow.GetSignalChannel(ctx, SignalAbort)
	tickCount := 0

	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, executionID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case noetl.ExecutionCompleted:
			return nil
		case noetl.ExecutionFailed:
			return fmt.Errorf("child execution %d failed", executionID)
		case noetl.ExecutionPaused:
			waitForAbortOrPoll(ctx, abortCh, pausedPollInterval)
			if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
		default:
			if d := nextWait(ctx, out.WaitUntil, defaultPollInterval); d > 0 {
				if err := workflow.Sleep(ctx, d); err != nil {
					return err
				}
			}
			if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
		}
	}
}

func waitForAbortOrPoll(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v any
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
}

func nextWait(ctx workflow.Context, waitUntil *time.Time, def time.Duration) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return def
	}
	now := workflow.Now(ctx)
	if waitUntil.Before(now) {
		return def
	}
	d := waitUntil.Sub(now)
	if d <= 0 {
		return def
	}
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if ticks >= maxTicks && maxTicks > 0 {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
