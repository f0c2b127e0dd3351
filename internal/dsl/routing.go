package dsl

import (
	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/templating"
)

// Dispatch is a single target the routing scan decided to enqueue, carrying
// the edge args (if any) that must be deep-merged into the target's call
// buffer.
type Dispatch struct {
	Step string
	Args noetl.Value
}

// RouteCase evaluates a step's `case` array (§4.1 "case: event-based rules
// with when + then actions", §6). Rules are scanned in declaration order;
// the first rule whose `when` is truthy dispatches every target in its
// `then` list (fan semantics), mirroring the fan form of `next`. Unlike
// `next`, `case` has no edge/else forms and no terminal-sink meaning of its
// own: it is an independent, additional set of dispatches evaluated
// alongside `next` by RouteAll.
func RouteCase(step *Step, scope noetl.Value, eval templating.Evaluator) ([]Dispatch, error) {
	if step == nil || len(step.Case) == 0 {
		return nil, nil
	}
	for _, rule := range step.Case {
		truthy, err := eval.Truthy(rule.When, scope)
		if err != nil {
			return nil, err
		}
		if !truthy {
			continue
		}
		out := make([]Dispatch, 0, len(rule.Then))
		for _, t := range rule.Then {
			out = append(out, Dispatch{Step: t.Step, Args: t.Args})
		}
		return out, nil
	}
	return nil, nil
}

// RouteAll evaluates both `next` and `case` for a completed step and
// returns their combined dispatches (§4.1). `case` rules are additional to
// `next`'s edge/fan/else routing, not a substitute for it: a step may both
// route downstream via `next` and fire independent `case` actions off the
// same completion.
func RouteAll(step *Step, scope noetl.Value, eval templating.Evaluator) ([]Dispatch, error) {
	next, err := Route(step, scope, eval)
	if err != nil {
		return nil, err
	}
	caseDispatches, err := RouteCase(step, scope, eval)
	if err != nil {
		return nil, err
	}
	if len(next) == 0 {
		return caseDispatches, nil
	}
	if len(caseDispatches) == 0 {
		return next, nil
	}
	return append(next, caseDispatches...), nil
}

// Route evaluates a step's `next` array per the routing precedence in
// §4.1: first truthy edge wins outright; otherwise first truthy fan
// dispatches all its targets; otherwise the first else edge (no `when`)
// fires; otherwise the step is a terminal sink and Route returns nil.
func Route(step *Step, scope noetl.Value, eval templating.Evaluator) ([]Dispatch, error) {
	if step == nil || len(step.Next) == 0 {
		return nil, nil
	}

	// Pass 1: first truthy edge (When set, non-fan).
	for _, item := range step.Next {
		if !item.IsEdge() || item.When == "" {
			continue
		}
		truthy, err := eval.Truthy(item.When, scope)
		if err != nil {
			return nil, err
		}
		if truthy {
			return []Dispatch{{Step: item.Step, Args: item.Args}}, nil
		}
	}

	// Pass 2: first truthy fan.
	for _, item := range step.Next {
		if !item.IsFan() {
			continue
		}
		truthy, err := eval.Truthy(item.When, scope)
		if err != nil {
			return nil, err
		}
		if truthy {
			out := make([]Dispatch, 0, len(item.Then))
			for _, t := range item.Then {
				out = append(out, Dispatch{Step: t.Step, Args: t.Args})
			}
			return out, nil
		}
	}

	// Pass 3: first else edge (no `when`).
	for _, item := range step.Next {
		if item.HasElseForm() {
			return []Dispatch{{Step: item.Step, Args: item.Args}}, nil
		}
	}

	// No match: terminal sink for this branch.
	return nil, nil
}
