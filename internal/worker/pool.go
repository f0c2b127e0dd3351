package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/executor"
	"github.com/noetl/core/internal/platform/logger"
)

// Pool is one worker pool process: it registers once, then runs the
// heartbeat loop and the lease loop concurrently until ctx is cancelled.
// Grounded on the teacher's Worker (internal/jobs/worker/worker.go): the
// same register-once / independent-goroutine-loops / heartbeat shape, with
// the DB claim replaced by an HTTP lease and the DB heartbeat replaced by an
// HTTP heartbeat.
type Pool struct {
	cfg       Config
	client    *Client
	executors *executor.Registry
	log       *logger.Logger
	sem       *semaphore.Weighted
	workerID  string
}

func NewPool(cfg Config, client *Client, executors *executor.Registry, log *logger.Logger) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Pool{
		cfg:       cfg,
		client:    client,
		executors: executors,
		log:       log.With("component", "WorkerPool"),
		sem:       semaphore.NewWeighted(int64(cfg.Capacity)),
	}
}

// Run registers the pool and blocks running the heartbeat and lease loops
// until ctx is cancelled, then deregisters.
func (p *Pool) Run(ctx context.Context) error {
	workerID, err := p.client.Register(ctx, registerRequest{
		Name:     p.cfg.Name,
		Runtime:  "worker_pool",
		URI:      p.cfg.URI,
		Capacity: p.cfg.Capacity,
		PID:      p.cfg.PID,
		Hostname: p.cfg.Hostname,
	})
	if err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	p.workerID = workerID
	p.log.Info("worker pool registered", "worker_id", workerID, "name", p.cfg.Name, "capacity", p.cfg.Capacity)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.heartbeatLoop(ctx)
	}()

	p.leaseLoop(ctx)
	<-done

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Deregister(deregisterCtx, p.cfg.Name); err != nil {
		p.log.Warn("deregister failed", "error", err)
	}
	return nil
}

// heartbeatLoop sends a heartbeat every HeartbeatInterval. A failing
// heartbeat is retried with backoff up to HeartbeatRetries times, but the
// worker keeps leasing and executing jobs regardless (§4.3 step 2).
func (p *Pool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeat(ctx)
		}
	}
}

func (p *Pool) sendHeartbeat(ctx context.Context) {
	backoff := time.Second
	for attempt := 1; attempt <= p.cfg.HeartbeatRetries; attempt++ {
		if err := p.client.Heartbeat(ctx, p.cfg.Name); err != nil {
			p.log.Warn("heartbeat failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		return
	}
	p.log.Warn("heartbeat exhausted retries, continuing to lease", "worker_id", p.workerID)
}

// leaseLoop polls for jobs every PollInterval and dispatches each leased job
// to its own goroutine, bounded by the semaphore at Capacity in-flight jobs.
func (p *Pool) leaseLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.leaseOnce(ctx)
		}
	}
}

func (p *Pool) leaseOnce(ctx context.Context) {
	acquired := 0
	for acquired < p.cfg.Capacity {
		if !p.sem.TryAcquire(1) {
			break
		}
		acquired++
	}
	if acquired == 0 {
		return
	}

	jobs, err := p.client.Lease(ctx, p.workerID, acquired, p.cfg.LeaseDuration, p.cfg.Capabilities)
	if err != nil {
		p.log.Warn("lease failed", "error", err)
		p.sem.Release(int64(acquired))
		return
	}
	for i := len(jobs); i < acquired; i++ {
		p.sem.Release(1)
	}
	for _, job := range jobs {
		go func(j leasedJob) {
			defer p.sem.Release(1)
			p.runJob(ctx, j)
		}(job)
	}
}

// runJob executes one leased job end to end: action_started, dispatch to
// the tool executor (with cooperative cancellation on lease loss), then
// action_completed/action_failed, then ack/fail.
func (p *Pool) runJob(ctx context.Context, job leasedJob) {
	act := decodeAction(job.Action)
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopRenew := p.startLeaseRenewal(jobCtx, job, cancel)
	defer stopRenew()

	if err := p.emitActionStarted(ctx, job); err != nil {
		p.log.Warn("emit action_started failed", "queue_id", job.QueueID, "error", err)
	}

	callCtx := executor.CallContext{
		NodeID:  job.NodeID,
		Attempt: job.Attempts + 1,
		Call:    act.Call,
	}
	if execID, err := strconv.ParseInt(job.ExecutionID, 10, 64); err == nil {
		callCtx.ExecutionID = execID
	}
	if queueID, err := strconv.ParseInt(job.QueueID, 10, 64); err == nil {
		callCtx.QueueID = queueID
	}
	if !act.Element.IsNull() {
		callCtx.Call = noetl.DeepMerge(callCtx.Call, noetl.Map(map[string]noetl.Value{"element": act.Element}))
	}

	result, err := p.executors.Dispatch(jobCtx, act.ToolKind, act.ToolSpec, callCtx)

	if err != nil {
		p.handleFailure(ctx, jobCtx, job, err)
		return
	}

	if err := p.emitActionCompleted(ctx, job, result.Data); err != nil {
		p.log.Warn("emit action_completed failed", "queue_id", job.QueueID, "error", err)
	}
	if err := p.client.Ack(ctx, job.QueueID, p.workerID, result.Data); err != nil {
		p.log.Warn("ack failed", "queue_id", job.QueueID, "error", err)
	}
}

func (p *Pool) handleFailure(ctx context.Context, jobCtx context.Context, job leasedJob, runErr error) {
	reason := "error"
	if jobCtx.Err() == context.Canceled {
		reason = "cancelled"
	}
	msg := truncateError(runErr.Error())

	if err := p.emitActionFailed(ctx, job, msg, reason); err != nil {
		p.log.Warn("emit action_failed failed", "queue_id", job.QueueID, "error", err)
	}

	permanent := job.Attempts+1 >= job.MaxAttempts
	if err := p.client.Fail(ctx, job.QueueID, failRequest{
		WorkerID:  p.workerID,
		Retry:     !permanent,
		Error:     msg,
		Permanent: permanent,
	}); err != nil {
		p.log.Warn("fail failed", "queue_id", job.QueueID, "error", err)
	}
}

// startLeaseRenewal renews the job's lease once it has run longer than half
// the lease duration (§4.3 step 4). A failed renewal (row no longer leased
// to this worker) cancels jobCtx so the in-flight executor can stop
// cooperatively; no grace period is enforced (Config.GraceWindow is not
// read by the pool).
func (p *Pool) startLeaseRenewal(jobCtx context.Context, job leasedJob, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		half := p.cfg.LeaseDuration / 2
		if half <= 0 {
			half = 5 * time.Second
		}
		ticker := time.NewTicker(half)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := p.client.Renew(jobCtx, job.QueueID, p.workerID, p.cfg.LeaseDuration); err != nil {
					p.log.Warn("lease renewal failed, cancelling job", "queue_id", job.QueueID, "error", err)
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// maxErrorMessageLen is the §7 "error messages are truncated to 500
// characters" limit applied before an action_failed event leaves the
// worker.
const maxErrorMessageLen = 500

func truncateError(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}
