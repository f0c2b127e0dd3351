package httpapi

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/engine"
	"github.com/noetl/core/internal/platform/logger"
	"github.com/noetl/core/internal/runtime"
	"github.com/noetl/core/internal/store/postgres"
)

// Server holds the engine and the repos/registries the handlers are thin
// wrappers over. One Server is constructed per process (internal/app).
type Server struct {
	Engine      *engine.Engine
	Executions  postgres.ExecutionRepo
	Queue       postgres.QueueRepo
	Runtime     *runtime.Registry
	IDs         func() int64
	Log         *logger.Logger
}

// EmitEvent handles POST /event/emit.
func (s *Server) EmitEvent(c *gin.Context) {
	var body eventDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	ev, err := body.toDomain()
	if err != nil {
		respondValidation(c, "execution_id must be numeric: "+err.Error())
		return
	}
	stored, err := s.Engine.EmitEvent(c.Request.Context(), ev)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, eventResponse{EventID: stored.EventID, Ack: true})
}

// RunExecution handles POST /executions/run.
func (s *Server) RunExecution(c *gin.Context) {
	var body executionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	catalogID := body.effectiveCatalogID()
	if catalogID == "" {
		respondValidation(c, "one of catalog_id, path, playbook_id is required")
		return
	}

	now := time.Now()
	exec := &noetl.Execution{
		ExecutionID: s.IDs(),
		CatalogID:   catalogID,
		Path:        body.effectivePath(),
		Status:      noetl.ExecutionPending,
		StartTime:   &now,
		Workload:    encode(body.effectivePayload()),
	}
	if err := s.Executions.Create(c.Request.Context(), exec); err != nil {
		respondErr(c, err)
		return
	}

	startEvent := &noetl.Event{
		ExecutionID: exec.ExecutionID,
		EventType:   noetl.EventExecutionStart,
		Data: encode(noetl.Map(map[string]noetl.Value{
			"catalog_id": noetl.String(catalogID),
			"workload":   body.effectivePayload(),
		})),
	}
	if _, err := s.Engine.EmitEvent(c.Request.Context(), startEvent); err != nil {
		respondErr(c, err)
		return
	}

	respondOK(c, executionResponse{
		ExecutionID: strconv.FormatInt(exec.ExecutionID, 10),
		Status:      noetl.ExecutionStarted,
	})
}

// GetExecution handles GET /execution/:id.
func (s *Server) GetExecution(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidation(c, "invalid execution id")
		return
	}
	exec, err := s.Executions.GetByID(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, executionSummary{
		ExecutionID: strconv.FormatInt(exec.ExecutionID, 10),
		CatalogID:   exec.CatalogID,
		Path:        exec.Path,
		Status:      exec.Status,
		StartTime:   exec.StartTime,
		EndTime:     exec.EndTime,
		Workload:    noetl.FromNative(decodeRaw(exec.Workload)),
	})
}

// RegisterWorker handles POST /worker/pool/register.
func (s *Server) RegisterWorker(c *gin.Context) {
	var body workerRegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	id, err := s.Runtime.Register(c.Request.Context(), runtime.RegisterInput{
		Name:         body.Name,
		Kind:         noetl.RuntimeKindWorkerPool,
		URI:          body.URI,
		Capacity:     body.Capacity,
		Labels:       body.Labels,
		PID:          body.PID,
		Hostname:     body.Hostname,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, workerRegisterResponse{WorkerID: strconv.FormatInt(id, 10)})
}

// HeartbeatWorker handles POST /worker/pool/heartbeat.
func (s *Server) HeartbeatWorker(c *gin.Context) {
	var body workerHeartbeatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	found, err := s.Runtime.Heartbeat(c.Request.Context(), noetl.RuntimeKindWorkerPool, body.Name)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !found {
		// Auto-recreate: a heartbeat for an unknown worker is treated as an
		// implicit re-register at minimal capacity, per spec §6.
		if _, err := s.Runtime.Register(c.Request.Context(), runtime.RegisterInput{
			Name: body.Name,
			Kind: noetl.RuntimeKindWorkerPool,
		}); err != nil {
			respondErr(c, err)
			return
		}
	}
	respondOK(c, okResponse{OK: true})
}

// DeregisterWorker handles DELETE /worker/pool/deregister.
func (s *Server) DeregisterWorker(c *gin.Context) {
	var body workerDeregisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if err := s.Runtime.Deregister(c.Request.Context(), noetl.RuntimeKindWorkerPool, body.Name); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, okResponse{OK: true})
}

// RegisterRuntime handles POST /runtime/register (server/broker components).
func (s *Server) RegisterRuntime(c *gin.Context) {
	var body runtimeRegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	id, err := s.Runtime.Register(c.Request.Context(), runtime.RegisterInput{
		Name:         body.Name,
		Kind:         body.Kind,
		URI:          body.URI,
		Capacity:     body.Capacity,
		Capabilities: body.Capabilities,
		Labels:       body.Labels,
		PID:          body.PID,
		Hostname:     body.Hostname,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"runtime_id": strconv.FormatInt(id, 10)})
}

// DeregisterRuntime handles DELETE /runtime/deregister.
func (s *Server) DeregisterRuntime(c *gin.Context) {
	var body runtimeDeregisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if err := s.Runtime.Deregister(c.Request.Context(), body.Kind, body.Name); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, okResponse{OK: true})
}

// LeaseQueue handles POST /queue/lease.
func (s *Server) LeaseQueue(c *gin.Context) {
	var body queueLeaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	max := body.Max
	if max <= 0 {
		max = 1
	}
	leaseDuration := time.Duration(body.LeaseDurationSec) * time.Second
	if leaseDuration <= 0 {
		leaseDuration = 60 * time.Second
	}
	entries, err := s.Queue.Lease(c.Request.Context(), body.WorkerID, max, leaseDuration)
	if err != nil {
		respondErr(c, err)
		return
	}
	jobs := make([]queueEntryDTO, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, queueEntryDTO{
			QueueID:     strconv.FormatInt(e.QueueID, 10),
			ExecutionID: strconv.FormatInt(e.ExecutionID, 10),
			NodeID:      e.NodeID,
			Action:      noetl.FromNative(decodeRaw(e.Action)),
			Attempts:    e.Attempts,
			MaxAttempts: e.MaxAttempts,
			Meta:        noetl.FromNative(decodeRaw(e.Meta)),
		})
	}
	respondOK(c, queueLeaseResponse{Jobs: jobs})
}

// AckQueue handles POST /queue/:id/ack.
func (s *Server) AckQueue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidation(c, "invalid queue id")
		return
	}
	var body queueAckRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if err := s.Queue.Ack(c.Request.Context(), id, body.WorkerID, encode(body.Result)); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, okResponse{OK: true})
}

// RenewQueue handles POST /queue/:id/renew. A worker calls this when a job
// has run longer than half its lease duration (§4.3 "Lease-renew"); a
// failure here (row no longer leased to this worker) tells the worker to
// cancel the in-flight tool cooperatively.
func (s *Server) RenewQueue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidation(c, "invalid queue id")
		return
	}
	var body queueRenewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	extension := time.Duration(body.ExtensionSeconds) * time.Second
	if extension <= 0 {
		extension = 60 * time.Second
	}
	if err := s.Queue.RenewLease(c.Request.Context(), id, body.WorkerID, extension); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, okResponse{OK: true})
}

// FailQueue handles POST /queue/:id/fail.
func (s *Server) FailQueue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondValidation(c, "invalid queue id")
		return
	}
	var body queueFailRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	retryDelay := time.Duration(body.RetryDelaySeconds) * time.Second
	outcome, err := s.Queue.Fail(c.Request.Context(), id, body.WorkerID, body.Error, body.Retry, retryDelay, body.Permanent)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"status": outcome.NewStatus, "attempts": outcome.Attempts})
}

// ReportMetrics handles POST /metrics/report. It is an optional sink: the
// engine and sweeper already expose counters through logs; this endpoint
// exists so external workers can push their own without the server polling
// them.
func (s *Server) ReportMetrics(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if s.Log != nil {
		s.Log.Info("worker metrics report", "metrics", body)
	}
	respondOK(c, okResponse{OK: true})
}

func decodeRaw(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}
