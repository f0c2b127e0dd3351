package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/noetl/core/internal/domain/noetl"
)

// ProcessExecutor implements out-of-process plugin variants (duckdb, python)
// by shelling out to a configured interpreter binary and feeding it a
// rendered script over stdin, reading a JSON result off stdout. None of the
// example repos carry a duckdb or python driver dependency (see DESIGN.md),
// so this is a deliberate process-exec boundary rather than an in-process
// binding.
type ProcessExecutor struct {
	// Command is the interpreter binary, e.g. "duckdb" or "python3".
	Command string
	// Args are fixed arguments prepended before the script is piped in.
	Args []string
}

func NewDuckDBExecutor() *ProcessExecutor {
	return &ProcessExecutor{Command: "duckdb", Args: []string{"-json"}}
}

func NewPythonExecutor() *ProcessExecutor {
	return &ProcessExecutor{Command: "python3", Args: []string{"-c", pythonResultWrapperScript}}
}

// pythonResultWrapperScript reads the user script from stdin, execs it in
// an isolated namespace, and prints whatever the script assigned to
// `result` as JSON on stdout.
const pythonResultWrapperScript = `
import sys, json
src = sys.stdin.read()
ns = {}
exec(src, ns)
print(json.dumps(ns.get("result")))
`

func (e *ProcessExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	script := spec.Get("script").String()
	if strings.TrimSpace(script) == "" {
		script = spec.Get("query").String()
	}
	if strings.TrimSpace(script) == "" {
		return Result{}, fmt.Errorf("process executor: spec.script or spec.query is required")
	}

	timeout := 60 * time.Second
	if t := spec.Get("timeout_seconds"); !t.IsNull() && t.Float() > 0 {
		timeout = time.Duration(t.Float() * float64(time.Second))
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Stdin = strings.NewReader(script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("process executor: %s failed: %w: %s", e.Command, err, stderr.String())
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return Result{Data: noetl.Null()}, nil
	}
	var native interface{}
	if err := json.Unmarshal([]byte(out), &native); err != nil {
		return Result{Data: noetl.String(out)}, nil
	}
	return Result{Data: noetl.FromNative(native)}, nil
}
