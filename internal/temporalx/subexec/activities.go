package subexec

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/platform/logger"
	"github.com/noetl/core/internal/store/postgres"
)

// Activities implements the single activity the subexec workflow calls:
// read the child execution's current status. All state transitions for the
// child run through the engine's own event/queue machinery, driven by the
// worker pool leasing the child's queue rows -- the activity's only job is
// to observe and report, unlike the teacher's jobrun.Activities.Tick, which
// itself invoked the handler. Grounded on that file's heartbeat-and-load
// shape, simplified because the "work" here already happens elsewhere.
type Activities struct {
	Log        *logger.Logger
	Executions postgres.ExecutionRepo
}

func (a *Activities) Tick(ctx context.Context, executionID int64) (TickResult, error) {
	res := TickResult{ExecutionID: executionID}
	if a == nil || a.Executions == nil {
		return res, fmt.Errorf("subexec: activity not configured")
	}

	activity.RecordHeartbeat(ctx)

	exec, err := a.Executions.GetByID(ctx, executionID)
	if err != nil {
		return res, err
	}

	res.Status = exec.Status
	if exec.Status != noetl.ExecutionCompleted && exec.Status != noetl.ExecutionFailed && a.Log != nil {
		a.Log.Debug("subexec tick", "execution_id", executionID, "status", exec.Status)
	}
	return res, nil
}
