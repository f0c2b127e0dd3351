package dsl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/templating"
)

func TestRoute_FirstTruthyEdgeWins(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil)})
	step := &dsl.Step{
		Next: []dsl.NextItem{
			{Step: "a", When: "false"},
			{Step: "b", When: "true"},
			{Step: "c"}, // else edge, should never be reached
		},
	}
	out, err := dsl.Route(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Step)
}

func TestRoute_FanDispatchesAllTargets(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":    noetl.Map(nil),
		"trigger": noetl.Bool(true),
	})
	step := &dsl.Step{
		Next: []dsl.NextItem{
			{
				When: "trigger",
				Then: []dsl.FanTarget{
					{Step: "alert", Args: noetl.Map(map[string]noetl.Value{"severity": noetl.String("high")})},
					{Step: "quarantine", Args: noetl.Map(map[string]noetl.Value{"reason": noetl.String("x")})},
				},
			},
		},
	}
	out, err := dsl.Route(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "alert", out[0].Step)
	require.Equal(t, "quarantine", out[1].Step)
}

func TestRoute_ElseEdgeFallback(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil)})
	step := &dsl.Step{
		Next: []dsl.NextItem{
			{Step: "a", When: "false"},
			{Step: "fallback"},
		},
	}
	out, err := dsl.Route(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "fallback", out[0].Step)
}

func TestRoute_TerminalSinkWhenNothingMatches(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil)})
	step := &dsl.Step{
		Next: []dsl.NextItem{
			{Step: "a", When: "{{ false }}"},
		},
	}
	out, err := dsl.Route(step, scope, eval)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRouteCase_FirstTruthyRuleFansOut(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":   noetl.Map(nil),
		"status": noetl.String("failed"),
	})
	step := &dsl.Step{
		Case: []dsl.CaseRule{
			{When: `{{ status == "ok" }}`, Then: []dsl.FanTarget{{Step: "notify_ok"}}},
			{
				When: `{{ status == "failed" }}`,
				Then: []dsl.FanTarget{
					{Step: "notify_oncall", Args: noetl.Map(map[string]noetl.Value{"severity": noetl.String("high")})},
					{Step: "open_ticket"},
				},
			},
		},
	}
	out, err := dsl.RouteCase(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "notify_oncall", out[0].Step)
	require.Equal(t, "open_ticket", out[1].Step)
}

func TestRouteCase_NoMatchReturnsNil(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil)})
	step := &dsl.Step{
		Case: []dsl.CaseRule{
			{When: "{{ false }}", Then: []dsl.FanTarget{{Step: "unreachable"}}},
		},
	}
	out, err := dsl.RouteCase(step, scope, eval)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRouteAll_CombinesNextAndCaseDispatches(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":   noetl.Map(nil),
		"status": noetl.String("failed"),
	})
	step := &dsl.Step{
		Next: []dsl.NextItem{{Step: "downstream"}},
		Case: []dsl.CaseRule{
			{When: `{{ status == "failed" }}`, Then: []dsl.FanTarget{{Step: "alert"}}},
		},
	}
	out, err := dsl.RouteAll(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "downstream", out[0].Step)
	require.Equal(t, "alert", out[1].Step)
}

func TestRouteAll_CaseOnlyWhenNextIsTerminalSink(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":   noetl.Map(nil),
		"status": noetl.String("failed"),
	})
	step := &dsl.Step{
		Case: []dsl.CaseRule{
			{When: `{{ status == "failed" }}`, Then: []dsl.FanTarget{{Step: "alert"}}},
		},
	}
	out, err := dsl.RouteAll(step, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "alert", out[0].Step)
}

func TestValidate_RejectsUntilAndMappingIteration(t *testing.T) {
	issues := dsl.Validate([]dsl.StepValidationInput{
		{ID: "good-step"},
		{ID: "legacy-until", HasUntil: true},
		{ID: "map-loop", LoopKind: "mapping"},
		{ID: "array-loop", LoopKind: "array_or_scalar"},
	})
	require.Len(t, issues, 2)
	require.Equal(t, "legacy-until", issues[0].Step)
	require.Contains(t, issues[0].Message, "until")
	require.Equal(t, "map-loop", issues[1].Step)
	require.Contains(t, issues[1].Message, "mapping")
}
