package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/noetl/core/internal/domain/noetl"
)

// SecretsExecutor implements tool.kind "secrets": resolves a named secret
// from the process environment (NOETL_SECRET_<NAME>). A production
// deployment would back this with a vault/KMS client; none of the example
// repos carry one the pack can ground a specific SDK choice on, so this is
// the minimal environment-backed implementation with the indirection point
// (the ToolExecutor interface) left open for a real backend later.
type SecretsExecutor struct{}

func NewSecretsExecutor() *SecretsExecutor { return &SecretsExecutor{} }

func (e *SecretsExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	name := strings.TrimSpace(spec.Get("name").String())
	if name == "" {
		return Result{}, fmt.Errorf("secrets executor: spec.name is required")
	}
	envKey := "NOETL_SECRET_" + strings.ToUpper(name)
	val, ok := os.LookupEnv(envKey)
	if !ok {
		return Result{}, fmt.Errorf("secrets executor: secret %q not found", name)
	}
	return Result{Data: noetl.Map(map[string]noetl.Value{
		"name":  noetl.String(name),
		"value": noetl.String(val),
	})}, nil
}

// WorkbookExecutor implements tool.kind "workbook": runs a named sequence
// of sub-steps declared inline in spec.steps against the call scope,
// reusing whatever tool each sub-step declares via the same registry. It is
// a thin fan-out convenience, not a separate scheduling mechanism -- the
// engine's own iterator/next routing remains the source of control flow for
// anything that needs retries or events.
type WorkbookExecutor struct {
	Registry *Registry
}

func NewWorkbookExecutor(reg *Registry) *WorkbookExecutor {
	return &WorkbookExecutor{Registry: reg}
}

func (e *WorkbookExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	steps := spec.Get("steps").Array()
	results := make([]noetl.Value, 0, len(steps))
	for i, step := range steps {
		kind := step.Get("kind").String()
		if kind == "" {
			return Result{}, fmt.Errorf("workbook executor: step %d missing tool kind", i)
		}
		sub, err := e.Registry.Dispatch(ctx, kind, step.Get("spec"), call)
		if err != nil {
			return Result{}, fmt.Errorf("workbook executor: step %d (%s): %w", i, kind, err)
		}
		results = append(results, sub.Data)
	}
	return Result{Data: noetl.Map(map[string]noetl.Value{
		"results": noetl.Array(results...),
	})}, nil
}

// SaveExecutor implements tool.kind "save": hands its resolved call payload
// straight through as the step's result, letting the context's `bind`
// mechanism capture whatever the playbook author templated into spec. It
// exists as an explicit terminal tool kind so a playbook can name "persist
// this value into context" without faking an HTTP or SQL call to do it.
type SaveExecutor struct{}

func NewSaveExecutor() *SaveExecutor { return &SaveExecutor{} }

func (e *SaveExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	data := spec.Get("data")
	if data.IsNull() {
		data = call.Call
	}
	return Result{Data: data}, nil
}

// IteratorExecutor implements tool.kind "iterator" for the (rare) case
// where a step names "iterator" as its own tool rather than as a loop
// wrapper around another tool: it is a no-op pass-through, since loop
// expansion itself is entirely the engine's responsibility (§4.1/§4.2).
type IteratorExecutor struct{}

func NewIteratorExecutor() *IteratorExecutor { return &IteratorExecutor{} }

func (e *IteratorExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	return Result{Data: call.Call}, nil
}
