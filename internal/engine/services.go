package engine

import (
	"math/rand"
	"time"

	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/platform/logger"
	"github.com/noetl/core/internal/store/postgres"
	"github.com/noetl/core/internal/templating"
)

// Clock is injected so backoff computation and scheduling are
// deterministically testable (§9 "clock and rng are injected").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// Rand is injected for jitter computation, same reasoning as Clock.
type Rand interface {
	Float64() float64 // in [0,1)
}

type mathRand struct{ r *rand.Rand }

func (m mathRand) Float64() float64 { return m.r.Float64() }

// NewSystemRand returns a Rand seeded from the given seed (use a
// time-derived seed in production, a fixed seed in tests).
func NewSystemRand(seed int64) Rand {
	return mathRand{r: rand.New(rand.NewSource(seed))}
}

// PlaybookLoader resolves a catalog_id to a decoded Playbook. Playbook
// authoring/parsing is out of scope (§1); the engine only consumes the
// already-parsed document.
type PlaybookLoader interface {
	Load(catalogID string) (*dsl.Playbook, error)
}

// Services bundles the engine's collaborators, replacing the teacher's
// module-level singletons (internal/app.App wires DB/logger/config at
// construction instead) with an explicit, constructor-injected struct.
type Services struct {
	Executions postgres.ExecutionRepo
	Events     postgres.EventRepo
	Queue      postgres.QueueRepo
	Playbooks  PlaybookLoader
	Templater  templating.Evaluator
	Clock      Clock
	Rand       Rand
	Log        *logger.Logger
	IDs        func() int64
	Lock       ExecutionLock
}
