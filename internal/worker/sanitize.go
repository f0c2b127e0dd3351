package worker

import (
	"encoding/json"
	"strings"

	"github.com/noetl/core/internal/domain/noetl"
)

// maxRenderableBytes is the per-key size ceiling before a context value is
// replaced with a truncation marker (§4.3 "Context sanitization").
const maxRenderableBytes = 10 * 1024

// buildContext assembles the safe context snapshot a worker attaches to
// the action_started event it reports for a job (action_completed and
// action_failed carry no context): execution_id, job_id, catalog_id,
// workload, vars, and a metadata-only summary of prior step results. It
// never forwards the job's raw call/tool_spec payload, since those may
// carry secret material resolved from a prior step (e.g. a fetched token).
func buildContext(job leasedJob, catalogID string, workload, vars noetl.Value, stepResults noetl.Value) noetl.Value {
	fields := map[string]noetl.Value{
		"execution_id": noetl.String(job.ExecutionID),
		"job_id":       noetl.String(job.QueueID),
	}
	if catalogID != "" {
		fields["catalog_id"] = noetl.String(catalogID)
	}
	if !workload.IsNull() {
		fields["workload"] = workload
	}
	if !vars.IsNull() {
		fields["vars"] = vars
	}
	if !stepResults.IsNull() {
		fields["_step_results"] = stepResults
	}
	return sanitizeContext(noetl.Map(fields))
}

// sanitizeContext applies the §4.3 rules to an already-assembled context
// value: drop any key starting with "_" except "_step_results", and
// truncate any key whose rendered JSON exceeds maxRenderableBytes.
func sanitizeContext(ctx noetl.Value) noetl.Value {
	m, ok := ctx.Native().(map[string]interface{})
	if !ok {
		return ctx
	}
	out := make(map[string]noetl.Value, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "_") && k != "_step_results" {
			continue
		}
		val := noetl.FromNative(v)
		b, err := json.Marshal(v)
		if err == nil && len(b) > maxRenderableBytes {
			out[k] = noetl.Map(map[string]noetl.Value{
				"_truncated": noetl.Bool(true),
				"_size":      noetl.Int(int64(len(b))),
			})
			continue
		}
		out[k] = val
	}
	return noetl.Map(out)
}

// stepResultSummary reduces a step's result to {has_data, status, data_type}
// per §4.3, instead of forwarding the (possibly large or sensitive) result
// itself.
func stepResultSummary(status string, result noetl.Value) noetl.Value {
	return noetl.Map(map[string]noetl.Value{
		"has_data":  noetl.Bool(!result.IsNull()),
		"status":    noetl.String(status),
		"data_type": noetl.String(valueTypeName(result)),
	})
}

func valueTypeName(v noetl.Value) string {
	switch v.Native().(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}
