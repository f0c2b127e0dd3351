package noetl

import (
	"time"

	"gorm.io/datatypes"
)

// Execution statuses, per the state machine in the engine design.
const (
	ExecutionPending   = "PENDING"
	ExecutionStarted   = "STARTED"
	ExecutionRunning   = "RUNNING"
	ExecutionPaused    = "PAUSED"
	ExecutionFailed    = "FAILED"
	ExecutionCompleted = "COMPLETED"
)

// Execution is a single run of a playbook. The status column is a cache;
// authoritative status is derived from the event log by the engine.
type Execution struct {
	ExecutionID       int64          `gorm:"column:execution_id;primaryKey" json:"execution_id"`
	ParentExecutionID *int64         `gorm:"column:parent_execution_id;index" json:"parent_execution_id,omitempty"`
	CatalogID         string         `gorm:"column:catalog_id;not null;index" json:"catalog_id"`
	Path              string         `gorm:"column:path;not null;index" json:"path"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	StartTime         *time.Time     `gorm:"column:start_time" json:"start_time,omitempty"`
	EndTime           *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	Workload          datatypes.JSON `gorm:"column:workload;type:jsonb" json:"workload"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (Execution) TableName() string { return "execution" }

// IsTerminal reports whether status is one that never transitions further.
func (e Execution) IsTerminal() bool {
	return e.Status == ExecutionFailed || e.Status == ExecutionCompleted
}
