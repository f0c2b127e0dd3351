package noetl

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RuntimeKindServerAPI   = "server_api"
	RuntimeKindWorkerPool  = "worker_pool"
	RuntimeKindBroker      = "broker"

	RuntimeStatusOnline  = "online"
	RuntimeStatusOffline = "offline"
)

// RuntimeComponent is a liveness row for a server, worker pool, or broker.
// Swept by the Runtime Sweeper; unique on (kind, name).
type RuntimeComponent struct {
	RuntimeID    int64          `gorm:"column:runtime_id;primaryKey" json:"runtime_id"`
	Name         string         `gorm:"column:name;not null;uniqueIndex:idx_runtime_kind_name" json:"name"`
	Kind         string         `gorm:"column:kind;not null;uniqueIndex:idx_runtime_kind_name" json:"kind"`
	URI          string         `gorm:"column:uri" json:"uri,omitempty"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Capabilities datatypes.JSON `gorm:"column:capabilities;type:jsonb" json:"capabilities,omitempty"`
	Capacity     int            `gorm:"column:capacity;not null;default:0" json:"capacity"`
	Labels       datatypes.JSON `gorm:"column:labels;type:jsonb" json:"labels,omitempty"`
	Heartbeat    time.Time      `gorm:"column:heartbeat;not null;default:now();index" json:"heartbeat"`
	Runtime      datatypes.JSON `gorm:"column:runtime;type:jsonb" json:"runtime,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
}

func (RuntimeComponent) TableName() string { return "runtime" }

// RuntimeInfo decodes the runtime JSONB column (pid, hostname, type).
type RuntimeInfo struct {
	PID      int    `json:"pid,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Type     string `json:"type,omitempty"`
}
