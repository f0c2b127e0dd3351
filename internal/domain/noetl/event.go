package noetl

import (
	"time"

	"gorm.io/datatypes"
)

// Event type taxonomy (§6). worker_heartbeat is internal-only and never
// persisted through emit_event.
const (
	EventExecutionStart        = "execution_start"
	EventStepStarted            = "step_started"
	EventActionStarted          = "action_started"
	EventActionCompleted        = "action_completed"
	EventActionFailed           = "action_failed"
	EventStepCompleted          = "step_completed"
	EventStepFailed              = "step_failed"
	EventIteratorStarted         = "iterator_started"
	EventIterationStarted        = "iteration_started"
	EventIterationCompleted      = "iteration_completed"
	EventIterationFailed         = "iteration_failed"
	EventIteratorCompleted       = "iterator_completed"
	EventRetrySequenceCompleted  = "retry_sequence_completed"
	EventExecutionComplete       = "execution_complete"
	EventExecutionAbort          = "execution_abort"
	EventWorkerHeartbeat         = "worker_heartbeat"
)

// Event is an immutable, append-only record of execution progress. Events
// are never mutated after insert; corrections are new events.
type Event struct {
	EventID           int64          `gorm:"column:event_id;primaryKey" json:"event_id"`
	ExecutionID       int64          `gorm:"column:execution_id;not null;index" json:"execution_id"`
	ParentEventID     *int64         `gorm:"column:parent_event_id;index" json:"parent_event_id,omitempty"`
	ParentExecutionID *int64         `gorm:"column:parent_execution_id;index" json:"parent_execution_id,omitempty"`
	EventType         string         `gorm:"column:event_type;not null;index" json:"event_type"`
	NodeID            string         `gorm:"column:node_id;index" json:"node_id,omitempty"`
	Status            string         `gorm:"column:status" json:"status,omitempty"`
	Timestamp         time.Time      `gorm:"column:timestamp;not null;default:now();index" json:"timestamp"`
	DurationMs        int64          `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Result            datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	Context           datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`
	Data              datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	Meta              datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`
	ClientDedupKey    string         `gorm:"column:client_dedup_key;index" json:"client_dedup_key,omitempty"`
}

func (Event) TableName() string { return "event" }

// RetryMeta decodes the meta.retry linkage carried by retry-chain events.
type RetryMeta struct {
	AttemptNumber  int    `json:"attempt_number"`
	ParentEventID  *int64 `json:"parent_event_id,omitempty"`
	Type           string `json:"type,omitempty"` // on_error | on_success
	WillRetry      bool   `json:"will_retry,omitempty"`
}

// IteratorMeta decodes the meta.iterator linkage carried by child events.
type IteratorMeta struct {
	Index        int    `json:"index"`
	Total        int    `json:"total"`
	IteratorName string `json:"iterator_name"`
	Mode         string `json:"mode"`
}
