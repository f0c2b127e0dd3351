// Package runtime wraps the liveness registry (server, worker_pool, and
// broker rows) and the background sweeper that keeps it honest.
//
// Grounded on the teacher's internal/jobs/runtime/registry.go: the same
// "one authoritative binding point, concurrency-safe, fail loud on
// misconfiguration" shape, generalized from a job_type->Handler map to a
// (kind,name)->liveness row registry backed by Postgres instead of an
// in-process map, since liveness must be visible across server/worker
// processes rather than scoped to one.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/store/postgres"
)

// Registry is the read/write façade over the runtime liveness table used
// by HTTP handlers (worker_pool/register, worker_pool/heartbeat,
// runtime/register, runtime/deregister) and by the Sweeper.
type Registry struct {
	repo postgres.RuntimeRepo
}

func NewRegistry(repo postgres.RuntimeRepo) *Registry {
	return &Registry{repo: repo}
}

// RegisterInput is the decoded body of a register call, common across
// worker_pool/register and runtime/register (§6 HTTP API).
type RegisterInput struct {
	Name         string
	Kind         string
	URI          string
	Capacity     int
	Capabilities noetl.Value
	Labels       noetl.Value
	PID          int
	Hostname     string
}

func (reg *Registry) Register(ctx context.Context, in RegisterInput) (int64, error) {
	if in.Name == "" || in.Kind == "" {
		return 0, fmt.Errorf("runtime: register requires name and kind")
	}
	component := &noetl.RuntimeComponent{
		Name:     in.Name,
		Kind:     in.Kind,
		URI:      in.URI,
		Capacity: in.Capacity,
	}
	if !in.Capabilities.IsNull() {
		component.Capabilities = encode(in.Capabilities)
	}
	if !in.Labels.IsNull() {
		component.Labels = encode(in.Labels)
	}
	component.Runtime = encode(noetl.Map(map[string]noetl.Value{
		"pid":      noetl.Int(int64(in.PID)),
		"hostname": noetl.String(in.Hostname),
		"type":     noetl.String(in.Kind),
	}))
	return reg.repo.Register(ctx, component)
}

func (reg *Registry) Heartbeat(ctx context.Context, kind, name string) (bool, error) {
	return reg.repo.Heartbeat(ctx, kind, name)
}

func (reg *Registry) Deregister(ctx context.Context, kind, name string) error {
	return reg.repo.Deregister(ctx, kind, name)
}

func (reg *Registry) ListOnline(ctx context.Context, kind string) ([]noetl.RuntimeComponent, error) {
	return reg.repo.ListOnline(ctx, kind)
}

// SelfName derives a stable identity for the server's own runtime row:
// hostname plus pid, matching the shape the worker pool reports for
// itself (§6 legacy compatibility: runtime JSONB carries pid/hostname/type).
func SelfName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "server"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func encode(v noetl.Value) []byte {
	b, err := json.Marshal(v.Native())
	if err != nil {
		return nil
	}
	return b
}
