package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/templating"
)

func TestResolveLoop_WhereOrderByLimit(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call": noetl.Map(nil),
		"cities": noetl.Array(
			noetl.Map(map[string]noetl.Value{"name": noetl.String("b"), "pop": noetl.Int(2)}),
			noetl.Map(map[string]noetl.Value{"name": noetl.String("a"), "pop": noetl.Int(3)}),
			noetl.Map(map[string]noetl.Value{"name": noetl.String("c"), "pop": noetl.Int(1)}),
		),
	})
	loop := &dsl.Loop{In: "{{ cities }}", Iterator: "city", Where: "{{ city.pop > 1 }}", OrderBy: "{{ city.name }}", Limit: 1}

	out, err := ResolveLoop(loop, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].Item.Get("name").String())
}

func TestResolveLoop_EmptyCollection(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil), "items": noetl.Array()})
	loop := &dsl.Loop{In: "{{ items }}", Iterator: "item"}

	out, err := ResolveLoop(loop, scope, eval)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestResolveLoop_ScalarTreatedAsSingleItem(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil), "name": noetl.String("solo")})
	loop := &dsl.Loop{In: "{{ name }}", Iterator: "item"}

	out, err := ResolveLoop(loop, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "solo", out[0].Item.String())
}

func TestResolveLoop_MappingRejected(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":   noetl.Map(nil),
		"byName": noetl.Map(map[string]noetl.Value{"a": noetl.Int(1)}),
	})
	loop := &dsl.Loop{In: "{{ byName }}", Iterator: "item"}

	_, err := ResolveLoop(loop, scope, eval)
	require.Error(t, err)
}

func TestResolveLoop_Chunk(t *testing.T) {
	eval := templating.NewGvalEvaluator()
	scope := noetl.Map(map[string]noetl.Value{
		"call":  noetl.Map(nil),
		"items": noetl.Array(noetl.Int(1), noetl.Int(2), noetl.Int(3), noetl.Int(4), noetl.Int(5)),
	})
	loop := &dsl.Loop{In: "{{ items }}", Iterator: "item", Chunk: 2}

	out, err := ResolveLoop(loop, scope, eval)
	require.NoError(t, err)
	require.Len(t, out, 3) // batches of 2,2,1
	require.Len(t, out[0].Item.Array(), 2)
	require.Len(t, out[2].Item.Array(), 1)
}

func TestWithEnumeratedElement_WrapsIndexWhenEnumerateSet(t *testing.T) {
	scope := noetl.Map(map[string]noetl.Value{"call": noetl.Map(nil)})

	plain := withEnumeratedElement(scope, "item", 3, noetl.String("x"), false)
	require.Equal(t, "x", plain.Get("item").String())

	enumerated := withEnumeratedElement(scope, "item", 3, noetl.String("x"), true)
	require.Equal(t, int64(3), enumerated.Get("item").Get("index").Int())
	require.Equal(t, "x", enumerated.Get("item").Get("item").String())
}

func TestAvailableAtForIteration_AsyncCapsAtConcurrency(t *testing.T) {
	now := noetl.FarFutureAvailableAt.Add(-1) // any fixed reference point
	require.True(t, AvailableAtForIteration("async", 0, 3, now).Equal(now))
	require.True(t, AvailableAtForIteration("async", 2, 3, now).Equal(now))
	require.True(t, AvailableAtForIteration("async", 3, 3, now).Equal(noetl.FarFutureAvailableAt))
	require.True(t, AvailableAtForIteration("sequential", 5, 3, now).Equal(now))
}
