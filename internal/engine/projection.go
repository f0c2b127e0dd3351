package engine

import (
	"sync"

	"github.com/noetl/core/internal/domain/noetl"
)

// Step instance states (§4.1 step state machine).
const (
	StepUnvisited    = "UNVISITED"
	StepParked       = "PARKED"
	StepReady        = "READY"
	StepLeased       = "LEASED"
	StepRetryPending = "RETRY_PENDING"
	StepDone         = "DONE"
	StepDead         = "DEAD"
)

// IteratorState tracks join/aggregation progress for a loop step.
type IteratorState struct {
	Total         int
	Completed     int
	Failed        int
	ResultsByIndex map[int]noetl.Value
	Errors        []IterationError
	Emitted       bool // guards iterator_completed against duplicate emission
}

type IterationError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Done reports whether every child iteration has reached a terminal state.
func (s *IteratorState) Done() bool {
	return s != nil && s.Completed+s.Failed >= s.Total
}

// RetryState tracks a step's on_error attempt count and, independently, an
// on_success pagination/polling chain's root event for aggregation.
type RetryState struct {
	OnErrorAttempt   int
	OnSuccessAttempt int
	ChainRootEventID int64
}

// StepProjection is the per-step slice of an ExecutionProjection.
type StepProjection struct {
	StepID   string
	Status   string
	Result   noetl.Value
	Call     noetl.Value // call buffer: context.step[target].call
	Iterator *IteratorState
	Retry    RetryState
	Done     bool
	LastEventID int64
}

// ExecutionProjection is the in-memory, per-execution derived state the
// engine evaluates the DSL against. It must be fully reconstructible by
// replaying the event log in event_id order (see rebuild.go).
type ExecutionProjection struct {
	mu sync.RWMutex

	ExecutionID int64
	Status      string
	Steps       map[string]*StepProjection
	LastEventID int64
	Context     noetl.Value // global context: workload + hoisted bind()s
}

// NewExecutionProjection returns an empty projection in PENDING status.
func NewExecutionProjection(executionID int64) *ExecutionProjection {
	return &ExecutionProjection{
		ExecutionID: executionID,
		Status:      noetl.ExecutionPending,
		Steps:       map[string]*StepProjection{},
		Context:     noetl.Map(nil),
	}
}

// Step returns (creating if absent) the projection slice for stepID.
func (p *ExecutionProjection) Step(stepID string) *StepProjection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepLocked(stepID)
}

func (p *ExecutionProjection) stepLocked(stepID string) *StepProjection {
	s, ok := p.Steps[stepID]
	if !ok {
		s = &StepProjection{StepID: stepID, Status: StepUnvisited, Call: noetl.Map(nil)}
		p.Steps[stepID] = s
	}
	return s
}

// MergeCall deep-merges args into the target step's call buffer and
// transitions UNVISITED -> PARKED on first arrival.
func (p *ExecutionProjection) MergeCall(targetStep string, args noetl.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stepLocked(targetStep)
	s.Call = noetl.DeepMerge(s.Call, args)
	if s.Status == StepUnvisited {
		s.Status = StepParked
	}
}

// MergeContext deep-merges a step's rendered `bind` assignments into the
// execution's global context (§4.1), making them visible to every step's
// Scope() from this point forward — the same "hoisted to context" mechanism
// workload/catalog_id use on execution_start.
func (p *ExecutionProjection) MergeContext(bound noetl.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Context = noetl.DeepMerge(p.Context, bound)
}

// Scope returns a read-only copy of the global context plus a given
// step's call buffer, the scope the template evaluator renders against.
func (p *ExecutionProjection) Scope(stepID string) noetl.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	callBuf := noetl.Map(nil)
	if s, ok := p.Steps[stepID]; ok {
		callBuf = s.Call
	}
	base := p.Context.MapValue()
	merged := make(map[string]noetl.Value, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	merged["call"] = callBuf
	return noetl.Map(merged)
}

// IsStepDone reports whether stepID's projection shows done=true; engine
// dispatch to a done step is silently dropped per the idempotence
// invariant.
func (p *ExecutionProjection) IsStepDone(stepID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.Steps[stepID]
	return ok && s.Done
}

// MarkDone transitions a step to DONE and records its result.
func (p *ExecutionProjection) MarkDone(stepID string, result noetl.Value, eventID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stepLocked(stepID)
	s.Status = StepDone
	s.Done = true
	s.Result = result
	s.LastEventID = eventID
}

// SetStatus sets a step's status (PARKED/READY/LEASED/RETRY_PENDING/DEAD);
// use MarkDone for the DONE transition since it also sets Done=true.
func (p *ExecutionProjection) SetStatus(stepID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stepLocked(stepID).Status = status
}

// TryEmitIteratorCompleted performs the atomic compare-and-set the §4.4
// "iterator join" invariant requires: returns true exactly once per
// iterator step, the first time Done() becomes true, guarding against
// duplicate iterator_completed emission under concurrent child arrivals.
func (p *ExecutionProjection) TryEmitIteratorCompleted(stepID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.Steps[stepID]
	if !ok || s.Iterator == nil {
		return false
	}
	if !s.Iterator.Done() || s.Iterator.Emitted {
		return false
	}
	s.Iterator.Emitted = true
	return true
}

// RecordIterationResult records one child's terminal outcome into the
// parent iterator's join state.
func (p *ExecutionProjection) RecordIterationResult(stepID string, index int, failed bool, result noetl.Value, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stepLocked(stepID)
	if s.Iterator == nil {
		s.Iterator = &IteratorState{ResultsByIndex: map[int]noetl.Value{}}
	}
	if failed {
		s.Iterator.Failed++
		s.Iterator.Errors = append(s.Iterator.Errors, IterationError{Index: index, Message: errMsg})
	} else {
		s.Iterator.Completed++
	}
	s.Iterator.ResultsByIndex[index] = result
}

// AggregatedItems returns the iterator's results in index order.
func (s *IteratorState) AggregatedItems() []noetl.Value {
	items := make([]noetl.Value, s.Total)
	for i := 0; i < s.Total; i++ {
		if v, ok := s.ResultsByIndex[i]; ok {
			items[i] = v
		} else {
			items[i] = noetl.Null()
		}
	}
	return items
}

// ExecutionStatus derives the execution-level status from step statuses
// (§4.1 execution state machine).
func (p *ExecutionProjection) ExecutionStatus() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Status == noetl.ExecutionPaused {
		return noetl.ExecutionPaused
	}
	anyActive := false
	anyDead := false
	for _, s := range p.Steps {
		switch s.Status {
		case StepLeased, StepReady, StepRetryPending, StepParked:
			anyActive = true
		case StepDead:
			anyDead = true
		}
	}
	switch {
	case anyActive:
		return noetl.ExecutionRunning
	case anyDead:
		return noetl.ExecutionFailed
	default:
		return noetl.ExecutionCompleted
	}
}
