package noetl

import (
	"time"

	"gorm.io/datatypes"
)

// Queue row statuses. queued -> leased -> done|failed|dead. dead and done
// are terminal; re-execution always inserts a new row.
const (
	QueueQueued = "queued"
	QueueLeased = "leased"
	QueueDone   = "done"
	QueueFailed = "failed"
	QueueDead   = "dead"
)

// QueueEntry is a durable unit of work for a worker. It is the only
// coordination channel between the engine and workers.
type QueueEntry struct {
	QueueID           int64          `gorm:"column:queue_id;primaryKey" json:"queue_id"`
	ExecutionID       int64          `gorm:"column:execution_id;not null;index:idx_queue_execution" json:"execution_id"`
	ParentExecutionID *int64         `gorm:"column:parent_execution_id;index" json:"parent_execution_id,omitempty"`
	NodeID            string         `gorm:"column:node_id;not null;index" json:"node_id"`
	Action            datatypes.JSON `gorm:"column:action;type:jsonb" json:"action"`
	Status            string         `gorm:"column:status;not null;index:idx_queue_status_available" json:"status"`
	Attempts          int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts       int            `gorm:"column:max_attempts;not null;default:1" json:"max_attempts"`
	AvailableAt       time.Time      `gorm:"column:available_at;not null;index:idx_queue_status_available" json:"available_at"`
	LeaseUntil        *time.Time     `gorm:"column:lease_until;index" json:"lease_until,omitempty"`
	WorkerID          string         `gorm:"column:worker_id;index:idx_queue_worker_status" json:"worker_id,omitempty"`
	ClientDedupKey    string         `gorm:"column:client_dedup_key;index" json:"client_dedup_key,omitempty"`
	Meta              datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta,omitempty"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (QueueEntry) TableName() string { return "queue" }

// FarFutureAvailableAt is the sentinel available_at used to stage async
// iterator children beyond the concurrency cap (§4.2): far enough out that
// it never becomes due naturally; the engine advances it to now() explicitly
// as slots free up.
var FarFutureAvailableAt = time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)

// QueueMeta decodes the structured linkage the engine stores in meta for
// iterator children and retry chains.
type QueueMeta struct {
	Iterator *IteratorMeta `json:"iterator,omitempty"`
	Retry    *RetryMeta    `json:"retry,omitempty"`
}
