package httpapi

import (
	"strconv"
	"time"

	"github.com/noetl/core/internal/domain/noetl"
)

// eventDTO binds POST /event/emit. It mirrors noetl.Event's public fields
// but keeps payload sub-documents as noetl.Value so gval/jsonpath can
// render against them without a second JSON round-trip.
type eventDTO struct {
	EventID           int64       `json:"event_id"`
	ExecutionID       string      `json:"execution_id" binding:"required"`
	ParentEventID     *int64      `json:"parent_event_id,omitempty"`
	ParentExecutionID *string     `json:"parent_execution_id,omitempty"`
	EventType         string      `json:"event_type" binding:"required"`
	NodeID            string      `json:"node_id,omitempty"`
	Status            string      `json:"status,omitempty"`
	Timestamp         *time.Time  `json:"timestamp,omitempty"`
	DurationMs        int64       `json:"duration_ms,omitempty"`
	Result            noetl.Value `json:"result,omitempty"`
	Context           noetl.Value `json:"context,omitempty"`
	Data              noetl.Value `json:"data,omitempty"`
	Meta              noetl.Value `json:"meta,omitempty"`
	ClientDedupKey    string      `json:"client_dedup_key,omitempty"`
}

func (d eventDTO) toDomain() (*noetl.Event, error) {
	execID, err := strconv.ParseInt(d.ExecutionID, 10, 64)
	if err != nil {
		return nil, err
	}
	ev := &noetl.Event{
		EventID:        d.EventID,
		ExecutionID:    execID,
		ParentEventID:  d.ParentEventID,
		EventType:      d.EventType,
		NodeID:         d.NodeID,
		Status:         d.Status,
		DurationMs:     d.DurationMs,
		Result:         encode(d.Result),
		Context:        encode(d.Context),
		Data:           encode(d.Data),
		Meta:           encode(d.Meta),
		ClientDedupKey: d.ClientDedupKey,
	}
	if d.ParentExecutionID != nil {
		if pid, err := strconv.ParseInt(*d.ParentExecutionID, 10, 64); err == nil {
			ev.ParentExecutionID = &pid
		}
	}
	if d.Timestamp != nil {
		ev.Timestamp = *d.Timestamp
	}
	return ev, nil
}

type eventResponse struct {
	EventID int64 `json:"event_id"`
	Ack     bool  `json:"ack"`
}

// executionRequest binds POST /executions/run. It accepts both the legacy
// field names (playbook_id, parameters, execution_type, start_time) and the
// current ones (catalog_id/path[,version], input_payload, type,
// timestamp); see spec §6 "Legacy compatibility".
type executionRequest struct {
	CatalogID     string      `json:"catalog_id,omitempty"`
	Path          string      `json:"path,omitempty"`
	Version       string      `json:"version,omitempty"`
	PlaybookID    string      `json:"playbook_id,omitempty"`
	InputPayload  noetl.Value `json:"input_payload,omitempty"`
	Parameters    noetl.Value `json:"parameters,omitempty"`
	Type          string      `json:"type,omitempty"`
	ExecutionType string      `json:"execution_type,omitempty"`
}

func (r executionRequest) effectiveCatalogID() string {
	if r.CatalogID != "" {
		return r.CatalogID
	}
	if r.Path != "" {
		if r.Version != "" {
			return r.Path + "@" + r.Version
		}
		return r.Path
	}
	return r.PlaybookID
}

func (r executionRequest) effectivePayload() noetl.Value {
	if !r.InputPayload.IsNull() {
		return r.InputPayload
	}
	return r.Parameters
}

func (r executionRequest) effectivePath() string {
	if r.Path != "" {
		return r.Path
	}
	return r.effectiveCatalogID()
}

type executionResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

type executionSummary struct {
	ExecutionID string      `json:"execution_id"`
	CatalogID   string      `json:"catalog_id"`
	Path        string      `json:"path"`
	Status      string      `json:"status"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Workload    noetl.Value `json:"workload,omitempty"`
}

type workerRegisterRequest struct {
	Name     string      `json:"name" binding:"required"`
	Runtime  string      `json:"runtime,omitempty"`
	URI      string      `json:"uri,omitempty"`
	Capacity int         `json:"capacity,omitempty"`
	Labels   noetl.Value `json:"labels,omitempty"`
	PID      int         `json:"pid,omitempty"`
	Hostname string      `json:"hostname,omitempty"`
}

type workerRegisterResponse struct {
	WorkerID string `json:"worker_id"`
}

type workerHeartbeatRequest struct {
	Name string `json:"name" binding:"required"`
}

type workerDeregisterRequest struct {
	Name string `json:"name" binding:"required"`
}

type runtimeRegisterRequest struct {
	Name         string      `json:"name" binding:"required"`
	Kind         string      `json:"kind" binding:"required"`
	URI          string      `json:"uri,omitempty"`
	Capacity     int         `json:"capacity,omitempty"`
	Capabilities noetl.Value `json:"capabilities,omitempty"`
	Labels       noetl.Value `json:"labels,omitempty"`
	PID          int         `json:"pid,omitempty"`
	Hostname     string      `json:"hostname,omitempty"`
}

type runtimeDeregisterRequest struct {
	Name string `json:"name" binding:"required"`
	Kind string `json:"kind" binding:"required"`
}

type queueLeaseRequest struct {
	WorkerID         string   `json:"worker_id" binding:"required"`
	Max              int      `json:"max,omitempty"`
	LeaseDurationSec int      `json:"lease_duration_seconds,omitempty"`
	CapabilityFilter []string `json:"capability_filter,omitempty"`
}

type queueEntryDTO struct {
	QueueID     string      `json:"queue_id"`
	ExecutionID string      `json:"execution_id"`
	NodeID      string      `json:"node_id"`
	Action      noetl.Value `json:"action"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	Meta        noetl.Value `json:"meta,omitempty"`
}

type queueLeaseResponse struct {
	Jobs []queueEntryDTO `json:"jobs"`
}

type queueAckRequest struct {
	WorkerID string      `json:"worker_id" binding:"required"`
	Result   noetl.Value `json:"result,omitempty"`
}

type queueRenewRequest struct {
	WorkerID          string `json:"worker_id" binding:"required"`
	ExtensionSeconds  int    `json:"extension_seconds,omitempty"`
}

type queueFailRequest struct {
	WorkerID          string `json:"worker_id" binding:"required"`
	Retry             bool   `json:"retry,omitempty"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty"`
	Error             string `json:"error,omitempty"`
	Permanent         bool   `json:"permanent,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func encode(v noetl.Value) []byte {
	if v.IsNull() {
		return nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil
	}
	return b
}
