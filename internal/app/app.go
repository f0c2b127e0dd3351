// Package app is the orchestration core's composition root: it replaces the
// teacher's module-level singletons (internal/app.App wiring DB/logger/
// config at construction) with an explicit wiring of the Services bundle
// named in SPEC_FULL.md's Design Notes (db, queue, events, templater,
// clock, rng, logger), then builds whichever of the server/worker process
// roles this run is responsible for.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/noetl/core/internal/catalog"
	"github.com/noetl/core/internal/domain/noetl"
	"github.com/noetl/core/internal/dsl"
	"github.com/noetl/core/internal/engine"
	"github.com/noetl/core/internal/executor"
	"github.com/noetl/core/internal/httpapi"
	"github.com/noetl/core/internal/idgen"
	"github.com/noetl/core/internal/platform/logger"
	"github.com/noetl/core/internal/runtime"
	"github.com/noetl/core/internal/store/postgres"
	"github.com/noetl/core/internal/templating"
	"github.com/noetl/core/internal/temporalx"
	"github.com/noetl/core/internal/temporalx/temporalworker"
	"github.com/noetl/core/internal/worker"

	"github.com/gin-gonic/gin"
)

// App bundles every long-lived collaborator for one process (server role,
// worker role, or both -- see cmd/main.go's RUN_SERVER/RUN_WORKER flags,
// mirroring the teacher's single-binary-many-roles cmd/main.go).
type App struct {
	Log    *logger.Logger
	Cfg    Config
	Engine *engine.Engine
	Router *gin.Engine

	executions postgres.ExecutionRepo
	runtimeReg *runtime.Registry
	sweeper    *runtime.Sweeper
	pool       *worker.Pool
	temporal   temporalsdkclient.Client
	tWorker    *temporalworker.Runner

	cancel context.CancelFunc
}

// New wires the full Services bundle and every component that depends on
// it. It never starts any background loop; call Start for that.
func New() (*App, error) {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("app: init logger: %w", err)
	}
	log.Info("loading configuration", "port", cfg.Port, "catalog_dir", cfg.CatalogDir)

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("app: open postgres: %w", err)
	}

	ids, err := idgen.New(cfg.IDNodeID)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("app: init identifier service: %w", err)
	}
	idFunc := ids.Next

	executions := postgres.NewExecutionRepo(db)
	events := postgres.NewEventRepo(db)
	queue := postgres.NewQueueRepo(db, idFunc)
	runtimeRepo := postgres.NewRuntimeRepo(db, idFunc)

	lock, err := buildExecutionLock(cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	svc := engine.Services{
		Executions: executions,
		Events:     events,
		Queue:      queue,
		Playbooks:  catalog.NewFileLoader(cfg.CatalogDir),
		Templater:  templating.NewGvalEvaluator(),
		Clock:      engine.SystemClock,
		Rand:       engine.NewSystemRand(time.Now().UnixNano()),
		Log:        log,
		IDs:        idFunc,
		Lock:       lock,
	}
	eng := engine.New(svc)

	runtimeReg := runtime.NewRegistry(runtimeRepo)
	sweeper := runtime.NewSweeper(runtimeReg, log,
		runtime.WithSweepInterval(cfg.SweepInterval),
		runtime.WithOfflineAfter(cfg.OfflineAfter),
	)

	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Warn("temporal client unavailable, playbooks tool will not block on child completion", "error", err.Error())
	}

	server := &httpapi.Server{
		Engine:     eng,
		Executions: executions,
		Queue:      queue,
		Runtime:    runtimeReg,
		IDs:        idFunc,
		Log:        log,
	}
	router := httpapi.NewRouter(server)

	executors := buildExecutorRegistry(eng, executions, svc, temporalClient)
	pool := worker.NewPool(worker.DefaultConfig(), worker.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port), nil), executors, log)

	var tWorker *temporalworker.Runner
	if temporalClient != nil {
		tWorker, err = temporalworker.NewRunner(log, temporalClient, executions)
		if err != nil {
			log.Warn("temporal worker runner init failed", "error", err.Error())
			tWorker = nil
		}
	}

	return &App{
		Log:        log,
		Cfg:        cfg,
		Engine:     eng,
		Router:     router,
		executions: executions,
		runtimeReg: runtimeReg,
		sweeper:    sweeper,
		pool:       pool,
		temporal:   temporalClient,
		tWorker:    tWorker,
	}, nil
}

// buildExecutionLock picks the Redis-backed advisory lock when
// NOETL_REDIS_ADDR is configured, and falls back to the in-process
// implementation otherwise (the Open Question decision recorded in
// SPEC_FULL.md/DESIGN.md: advisory lock over a consistent-hash router).
func buildExecutionLock(cfg Config, log *logger.Logger) (engine.ExecutionLock, error) {
	if cfg.RedisAddr == "" {
		log.Info("NOETL_REDIS_ADDR not set; using single-process execution lock")
		return engine.NewInProcessExecutionLock(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed; falling back to in-process execution lock", "error", err.Error())
		return engine.NewInProcessExecutionLock(), nil
	}
	return engine.NewRedisExecutionLock(client, cfg.ExecutionLockTTL), nil
}

// buildExecutorRegistry registers every tool.kind named in §9/SPEC_FULL.md.
func buildExecutorRegistry(eng *engine.Engine, executions postgres.ExecutionRepo, svc engine.Services, tc temporalsdkclient.Client) *executor.Registry {
	reg := executor.NewRegistry()
	_ = reg.Register(dsl.ToolHTTP, executor.NewHTTPExecutor())
	_ = reg.Register(dsl.ToolPostgres, executor.NewPostgresExecutor())
	_ = reg.Register(dsl.ToolDuckDB, executor.NewDuckDBExecutor())
	_ = reg.Register(dsl.ToolPython, executor.NewPythonExecutor())
	_ = reg.Register(dsl.ToolSecrets, executor.NewSecretsExecutor())
	_ = reg.Register(dsl.ToolSave, executor.NewSaveExecutor())
	_ = reg.Register(dsl.ToolIterator, executor.NewIteratorExecutor())
	_ = reg.Register(dsl.ToolWorkbook, executor.NewWorkbookExecutor(reg))
	_ = reg.Register(dsl.ToolPlaybooks, executor.NewPlaybooksExecutor(startChildExecution(eng, executions, svc), tc))
	return reg
}

// startChildExecution implements executor.StartChildExecution: it performs
// the in-process equivalent of POST /executions/run (§6) for a sub-playbook
// invoked by the "playbooks" tool, without round-tripping through HTTP.
func startChildExecution(eng *engine.Engine, executions postgres.ExecutionRepo, svc engine.Services) executor.StartChildExecution {
	return func(ctx context.Context, catalogID string, payload noetl.Value) (int64, error) {
		now := time.Now()
		exec := &noetl.Execution{
			ExecutionID: svc.IDs(),
			CatalogID:   catalogID,
			Path:        catalogID,
			Status:      noetl.ExecutionPending,
			StartTime:   &now,
			Workload:    encodeValue(payload),
		}
		if err := executions.Create(ctx, exec); err != nil {
			return 0, err
		}
		startEvent := &noetl.Event{
			ExecutionID: exec.ExecutionID,
			EventType:   noetl.EventExecutionStart,
			Data: encodeValue(noetl.Map(map[string]noetl.Value{
				"catalog_id": noetl.String(catalogID),
				"workload":   payload,
			})),
		}
		if _, err := eng.EmitEvent(ctx, startEvent); err != nil {
			return 0, err
		}
		return exec.ExecutionID, nil
	}
}

func encodeValue(v noetl.Value) []byte {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil
	}
	return b
}

// Start launches the background loops this process is responsible for: the
// runtime sweeper and (optionally) the Temporal worker always run on the
// server role; the worker pool's lease/heartbeat loops run when runWorker
// is true. Mirrors the teacher's App.Start(ctx)-with-cancel shape.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if runServer {
		go a.sweeper.Start(ctx)
		if a.tWorker != nil {
			if err := a.tWorker.Start(ctx); err != nil {
				a.Log.Warn("temporal worker failed to start", "error", err.Error())
			}
		}
	}
	if runWorker {
		go func() {
			if err := a.pool.Run(ctx); err != nil {
				a.Log.Warn("worker pool stopped", "error", err.Error())
			}
		}()
	}
}

// Run blocks serving the HTTP API (§6) on addr.
func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app: not initialized")
	}
	return a.Router.Run(addr)
}

// Close stops every background loop and flushes the logger.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
