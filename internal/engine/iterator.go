package engine

import (
	"sort"
	"time"

	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/templating"
)

// ResolvedIteration is one expanded loop item, ready to become a queue job.
type ResolvedIteration struct {
	Index int
	Item  noetl.Value
}

// ResolveLoop renders the collection expression and applies where/order_by/
// limit/chunk, per §4.1 iterator evaluation step 1-2. A non-array scalar is
// treated as a single-element list; strings are never iterated
// char-by-character.
func ResolveLoop(loop *dsl.Loop, scope noetl.Value, eval templating.Evaluator) ([]ResolvedIteration, error) {
	collVal, err := eval.Render(loop.In, scope)
	if err != nil {
		return nil, err
	}

	var items []noetl.Value
	if collVal.Kind() == noetl.KindArray {
		items = collVal.Array()
	} else if collVal.Kind() == noetl.KindMap {
		// Mapping iteration is rejected here, when the collection is
		// rendered at dispatch; dsl.Validate is not called on the load
		// or dispatch path.
		return nil, dslMappingIterationError(loop)
	} else {
		items = []noetl.Value{collVal}
	}

	if loop.Where != "" {
		filtered := items[:0:0]
		for _, item := range items {
			elemScope := withElement(scope, loop.Iterator, item)
			ok, err := eval.Truthy(loop.Where, elemScope)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	if loop.OrderBy != "" {
		type keyed struct {
			item noetl.Value
			key  noetl.Value
		}
		ks := make([]keyed, len(items))
		for i, item := range items {
			elemScope := withElement(scope, loop.Iterator, item)
			k, err := eval.Render(loop.OrderBy, elemScope)
			if err != nil {
				return nil, err
			}
			ks[i] = keyed{item: item, key: k}
		}
		sort.SliceStable(ks, func(i, j int) bool {
			return ks[i].key.String() < ks[j].key.String()
		})
		for i, k := range ks {
			items[i] = k.item
		}
	}

	if loop.Limit > 0 && len(items) > loop.Limit {
		items = items[:loop.Limit]
	}

	if loop.Chunk > 0 {
		items = chunkItems(items, loop.Chunk)
	}

	out := make([]ResolvedIteration, len(items))
	for i, item := range items {
		out[i] = ResolvedIteration{Index: i, Item: item}
	}
	return out, nil
}

// chunkItems batches items into arrays of at most size elements (§4.1
// iterator evaluation step 2, "chunk (batching)"). Each resulting batch
// becomes a single iteration whose element value is the array of its
// members, so a downstream tool step sees one call per batch rather than
// one call per original item.
func chunkItems(items []noetl.Value, size int) []noetl.Value {
	if size <= 0 || len(items) == 0 {
		return items
	}
	batches := make([]noetl.Value, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, noetl.Array(items[i:end]...))
	}
	return batches
}

func withElement(scope noetl.Value, elementName string, item noetl.Value) noetl.Value {
	base := scope.MapValue()
	merged := make(map[string]noetl.Value, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	if elementName == "" {
		elementName = "item"
	}
	merged[elementName] = item
	return noetl.Map(merged)
}

// withEnumeratedElement is withElement plus, when enumerate is set, an
// Python-`enumerate`-style `{index, item}` wrapping of the element value so
// a tool step can see its position within the (post where/order_by/limit)
// iteration sequence.
func withEnumeratedElement(scope noetl.Value, elementName string, index int, item noetl.Value, enumerate bool) noetl.Value {
	value := item
	if enumerate {
		value = noetl.Map(map[string]noetl.Value{
			"index": noetl.Int(int64(index)),
			"item":  item,
		})
	}
	return withElement(scope, elementName, value)
}

type mappingIterationError struct {
	step string
}

func (e *mappingIterationError) Error() string {
	return "loop.in resolved to a mapping, which cannot be iterated: " + e.step
}

func dslMappingIterationError(loop *dsl.Loop) error {
	return &mappingIterationError{step: loop.In}
}

// AvailableAtForIteration computes the async-mode staging available_at:
// the first `concurrency` items are available immediately, the rest are
// staged at farFuture until the engine advances them on completion of an
// earlier slot (§4.2).
func AvailableAtForIteration(mode string, index, concurrency int, now time.Time) time.Time {
	if mode != "async" {
		return now // sequential: dispatchIterator stages every item after the first itself and advances one per completion
	}
	if index < concurrency {
		return now
	}
	return noetl.FarFutureAvailableAt
}
