// Package executor implements the ToolExecutor capability interface (§9)
// and the kind -> executor dispatch table the worker pool consults when it
// dispatches a leased queue job. The engine never imports this package: it
// only ever sees tool.kind strings inside a step's action payload.
//
// Grounded on the teacher's internal/jobs/runtime/registry.go Handler
// registry: same concurrency-safe map, same register-once-at-startup /
// lookup-many-times shape, generalized from job_type to tool.kind.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/noetl/core/internal/domain/noetl"
)

// CallContext carries everything an executor needs to run one tool
// invocation: the rendered call arguments plus identifying metadata a
// plugin might want to log or use for idempotency keys.
type CallContext struct {
	ExecutionID int64
	NodeID      string
	QueueID     int64
	Attempt     int
	Call        noetl.Value
}

// Result is a tool invocation's outcome on success.
type Result struct {
	Data noetl.Value
}

// ToolExecutor is the single-method capability interface every plugin
// variant (http, postgres, duckdb, python, workbook, playbooks, secrets,
// iterator, save) implements. The worker pool is agnostic to executor
// internals; it only calls Execute and reports the outcome as an event.
type ToolExecutor interface {
	Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error)
}

// Registry is a concurrency-safe kind -> ToolExecutor dispatch table.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]ToolExecutor)}
}

// Register binds an executor to a tool kind. Registration is expected to
// happen once at process startup; a duplicate kind is a wiring error.
func (r *Registry) Register(kind string, ex ToolExecutor) error {
	if ex == nil {
		return fmt.Errorf("executor: nil executor for kind %q", kind)
	}
	if kind == "" {
		return fmt.Errorf("executor: empty tool kind")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor: duplicate registration for kind %q", kind)
	}
	r.executors[kind] = ex
	return nil
}

// Get retrieves the executor responsible for a tool kind.
func (r *Registry) Get(kind string) (ToolExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	return ex, ok
}

// Dispatch looks up and invokes the executor for spec's kind. It is the
// single call site the worker pool uses, so unknown-kind handling lives in
// one place.
func (r *Registry) Dispatch(ctx context.Context, kind string, spec noetl.Value, call CallContext) (Result, error) {
	ex, ok := r.Get(kind)
	if !ok {
		return Result{}, fmt.Errorf("executor: no executor registered for kind %q", kind)
	}
	return ex.Execute(ctx, spec, call)
}
