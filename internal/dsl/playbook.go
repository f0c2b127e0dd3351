// Package dsl models the playbook step DSL (§6 "Playbook DSL surface
// consumed") the engine evaluates: when/bind/loop/tool/next/case/retry.
// It does not parse YAML; callers hand it an already-decoded Playbook.
package dsl

import "github.com/noetl/core/internal/domain/noetl"

// Playbook is a DAG of typed Steps, keyed by step id.
type Playbook struct {
	CatalogID string           `json:"catalog_id"`
	Path      string           `json:"path"`
	Steps     map[string]*Step `json:"steps"`
	Start     string           `json:"start"`
}

// Step is a node in the playbook.
type Step struct {
	ID   string `json:"step"`
	Desc string `json:"desc,omitempty"`

	When string        `json:"when,omitempty"`
	Bind map[string]string `json:"bind,omitempty"`
	Loop *Loop         `json:"loop,omitempty"`
	Tool *Tool         `json:"tool,omitempty"`
	Next []NextItem    `json:"next,omitempty"`
	Case []CaseRule    `json:"case,omitempty"`
	Retry *Retry       `json:"retry,omitempty"`

	OnError string `json:"on_error,omitempty"` // continue | fail
}

// Tool kinds accepted by the ToolExecutor registry (§9).
const (
	ToolHTTP      = "http"
	ToolPostgres  = "postgres"
	ToolDuckDB    = "duckdb"
	ToolPython    = "python"
	ToolWorkbook  = "workbook"
	ToolPlaybooks = "playbooks"
	ToolSecrets   = "secrets"
	ToolIterator  = "iterator"
	ToolSave      = "save"
)

// Tool is the action a step dispatches to a worker via ToolExecutor.
type Tool struct {
	Kind string      `json:"kind"`
	Spec noetl.Value `json:"spec"`
}

// NextItem is one entry in a step's `next` array: either an edge (Step set,
// Then nil) or a fan (Then set). When absent on an edge it is an "else edge".
type NextItem struct {
	Step string      `json:"step,omitempty"`
	When string      `json:"when,omitempty"`
	Args noetl.Value `json:"args,omitempty"`
	Then []FanTarget `json:"then,omitempty"`
}

// IsFan reports whether this NextItem is a fan (When + Then form).
func (n NextItem) IsFan() bool { return len(n.Then) > 0 }

// IsEdge reports whether this NextItem is a plain edge.
func (n NextItem) IsEdge() bool { return n.Step != "" && !n.IsFan() }

// HasElseForm reports whether this edge has no `when` (an "else edge").
func (n NextItem) HasElseForm() bool { return n.IsEdge() && n.When == "" }

// FanTarget is one {step, args?} target inside a fan's `then` array.
type FanTarget struct {
	Step string      `json:"step"`
	Args noetl.Value `json:"args,omitempty"`
}

// CaseRule is an event-based rule: `when` gated, `then` a list of actions.
type CaseRule struct {
	When string      `json:"when,omitempty"`
	Then []FanTarget `json:"then"`
}

// Loop describes an iterator block (§4.1). It is decoded from the `in` and
// `iterator` keys only: `collection` and `element` keys are not read, and
// nothing in this module maps them onto In/Iterator.
type Loop struct {
	In          string `json:"in"`
	Iterator    string `json:"iterator"`
	Mode        string `json:"mode,omitempty"` // sequential | async
	Concurrency int    `json:"concurrency,omitempty"`
	Where       string `json:"where,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	OrderBy     string `json:"order_by,omitempty"`
	Chunk       int    `json:"chunk,omitempty"`
	Enumerate   bool   `json:"enumerate,omitempty"`
}

// EffectiveMode returns Mode, defaulting to sequential.
func (l *Loop) EffectiveMode() string {
	if l == nil || l.Mode == "" {
		return "sequential"
	}
	return l.Mode
}

// EffectiveConcurrency returns Concurrency, defaulting to 1 for async loops
// with no explicit cap.
func (l *Loop) EffectiveConcurrency() int {
	if l == nil || l.Concurrency <= 0 {
		return 1
	}
	return l.Concurrency
}

// Retry bundles the two independent retry mechanisms (§4.1).
type Retry struct {
	OnError   *OnErrorRetry   `json:"on_error,omitempty"`
	OnSuccess *OnSuccessRetry `json:"on_success,omitempty"`
}

// Backoff strategies for OnErrorRetry.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

type OnErrorRetry struct {
	MaxAttempts  int     `json:"max_attempts"`
	Backoff      string  `json:"backoff,omitempty"`
	InitialDelay float64 `json:"initial_delay,omitempty"` // seconds
	Multiplier   float64 `json:"multiplier,omitempty"`
	MaxDelay     float64 `json:"max_delay,omitempty"` // seconds
	Jitter       float64 `json:"jitter,omitempty"`    // fraction, e.g. 0.1 = ±10%
	When         string  `json:"when,omitempty"`
}

// Collect strategies for OnSuccessRetry.
const (
	CollectAppend  = "append"
	CollectReplace = "replace"
	CollectAll     = "collect"
)

type OnSuccessRetry struct {
	While       string      `json:"while"`
	MaxAttempts int         `json:"max_attempts"`
	NextCall    NextCall    `json:"next_call"`
	Collect     string      `json:"collect,omitempty"`
	MergePath   string      `json:"merge_path,omitempty"`
}

// NextCall is the templated tool-spec delta rendered before each
// continuation attempt in an on_success retry chain.
type NextCall struct {
	Params  noetl.Value `json:"params,omitempty"`
	Body    noetl.Value `json:"body,omitempty"`
	Headers noetl.Value `json:"headers,omitempty"`
}
