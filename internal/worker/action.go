package worker

import "github.com/noetl/core/internal/domain/noetl"

// action is the decoded form of a queue row's action JSON, matching the
// {tool_kind, tool_spec, call, element} shape the engine encodes in
// internal/engine/engine.go (dispatchSingle), internal/engine/dispatch.go
// (dispatchIterator) and internal/engine/retry_dispatch.go.
type action struct {
	ToolKind string
	ToolSpec noetl.Value
	Call     noetl.Value
	Element  noetl.Value
}

func decodeAction(v noetl.Value) action {
	return action{
		ToolKind: v.Get("tool_kind").String(),
		ToolSpec: v.Get("tool_spec"),
		Call:     v.Get("call"),
		Element:  v.Get("element"),
	}
}
