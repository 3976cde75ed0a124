// Command rund wires the run execution engine's packages together end to
// end and runs a scripted single-agent run from submission to completion.
// The scripted model answers on its first step, so the demo run makes no
// tool call and takes no approval or escalation path. The backing store,
// event bus, and workflow engine are selected by config (memory/postgres/
// mongo, memory/pulse, inmem/temporal respectively); the demo below always
// exercises the in-memory/in-process defaults.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/approval"
	"github.com/agentruntime/core/internal/checkpoint"
	"github.com/agentruntime/core/internal/config"
	"github.com/agentruntime/core/internal/engine"
	"github.com/agentruntime/core/internal/engine/inmem"
	"github.com/agentruntime/core/internal/engine/runworkflow"
	"github.com/agentruntime/core/internal/engine/temporalengine"
	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/event"
	"github.com/agentruntime/core/internal/event/pulsebus"
	"github.com/agentruntime/core/internal/memory"
	"github.com/agentruntime/core/internal/model"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/runner"
	"github.com/agentruntime/core/internal/scheduler"
	"github.com/agentruntime/core/internal/store/memstore"
	"github.com/agentruntime/core/internal/store/mongostore"
	"github.com/agentruntime/core/internal/store/postgres"
	"github.com/agentruntime/core/internal/tools"
	"github.com/agentruntime/core/internal/toolrouter"
)

// schedulerRef defers resolution of the scheduler pointer until first call,
// letting the escalator and the approval/escalation requeue hooks close
// over a scheduler that does not exist yet at construction time (the
// scheduler's own RunnerFactory in turn needs the router these hooks feed
// into).
type schedulerRef struct{ s **scheduler.Scheduler }

func (r schedulerRef) Requeue(ctx context.Context, runID string) error {
	return (*r.s).Requeue(ctx, runID)
}

func (r schedulerRef) Execute(ctx context.Context, runID string) (run.Status, error) {
	return (*r.s).Execute(ctx, runID)
}

// stores bundles the five Store interfaces the scheduler and its
// collaborators need, so buildStores can return one value regardless of
// which driver backs them.
type stores struct {
	runs        run.Store
	eventStore  event.Store
	checkpoints checkpoint.Store
	approvals   approval.Store
	escalations escalation.Store
}

// buildStores selects the backing persistence driver from cfg.Store.Driver.
// "memory" (the default, always exercised by the demo run below) uses
// memstore; "postgres" opens a pgxpool.Pool and uses internal/store/postgres
// for all five stores; "mongo" opens a mongo.Client and uses
// internal/store/mongostore for the run and event stores (the only two the
// teacher's own features/run/mongo and features/runlog/mongo packages cover),
// falling back to memstore for checkpoints/approvals/escalations since the
// teacher keeps no Mongo-backed analogue of those.
func buildStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:          cfg.Store.DSN,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
			MaxIdleTime:  cfg.Store.MaxIdleTime,
		})
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			return stores{}, fmt.Errorf("migrate postgres: %w", err)
		}
		return stores{
			runs:        postgres.NewRunStore(pool),
			eventStore:  postgres.NewEventStore(pool),
			checkpoints: postgres.NewCheckpointStore(pool),
			approvals:   postgres.NewApprovalStore(pool),
			escalations: postgres.NewEscalationStore(pool),
		}, nil
	case "mongo":
		mongoClient, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Store.DSN, Database: cfg.Store.Database})
		if err != nil {
			return stores{}, fmt.Errorf("connect mongo: %w", err)
		}
		runs, err := mongostore.NewRunStore(ctx, mongoClient, cfg.Store.Database)
		if err != nil {
			return stores{}, fmt.Errorf("build mongo run store: %w", err)
		}
		eventStore, err := mongostore.NewEventStore(ctx, mongoClient, cfg.Store.Database)
		if err != nil {
			return stores{}, fmt.Errorf("build mongo event store: %w", err)
		}
		return stores{
			runs:        runs,
			eventStore:  eventStore,
			checkpoints: memstore.NewCheckpointStore(),
			approvals:   memstore.NewApprovalStore(),
			escalations: memstore.NewEscalationStore(),
		}, nil
	default:
		return stores{
			runs:        memstore.NewRunStore(),
			eventStore:  memstore.NewEventStore(),
			checkpoints: memstore.NewCheckpointStore(),
			approvals:   memstore.NewApprovalStore(),
			escalations: memstore.NewEscalationStore(),
		}, nil
	}
}

// buildEventBus selects the live fan-out transport from cfg.EventBus.Driver.
// "memory" (the default) uses event.NewBus's in-process fan-out table;
// "pulse" mirrors the teacher's features/stream/pulse package over
// goa.design/pulse and Redis.
func buildEventBus(cfg config.Config, eventStore event.Store, logger *slog.Logger) (event.Bus, error) {
	switch cfg.EventBus.Driver {
	case "pulse":
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.EventBus.RedisAddr, DB: cfg.EventBus.RedisDB})
		pulseClient, err := pulsebus.NewClient(pulsebus.ClientOptions{Redis: redisClient, StreamMaxLen: cfg.EventBus.StreamMaxLen})
		if err != nil {
			return nil, fmt.Errorf("build pulse client: %w", err)
		}
		return pulsebus.NewBus(eventStore, pulseClient, logger)
	default:
		return event.NewBus(eventStore)
	}
}

// buildEngine selects the workflow engine from cfg.Engine.Driver. "inmem"
// (the default, always exercised by the demo run below) runs workflows as
// goroutines in-process; "temporal" mirrors the teacher's
// runtime/agent/engine/temporal package, durably orchestrating run_agent
// workflows through a real Temporal cluster.
func buildEngine(cfg config.Config) (engine.Engine, error) {
	if cfg.Engine.Driver != "temporal" {
		return inmem.New(), nil
	}
	eng, err := temporalengine.New(temporalengine.Options{
		ClientOptions: &client.Options{HostPort: cfg.Engine.TemporalHost, Namespace: cfg.Engine.TemporalNS},
		TaskQueue:     cfg.Engine.TemporalQueue,
		WorkerOptions: worker.Options{},
	})
	if err != nil {
		return nil, fmt.Errorf("build temporal engine: %w", err)
	}
	return eng, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	ctx := context.Background()

	st, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Error("build stores", "error", err)
		os.Exit(1)
	}
	runs, checkpoints, approvalStore, escalationStore := st.runs, st.checkpoints, st.approvals, st.escalations

	events, err := buildEventBus(cfg, st.eventStore, logger)
	if err != nil {
		logger.Error("build event bus", "error", err)
		os.Exit(1)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}

	// sched is assigned once after construction; schedRef lets the
	// components built before it reference its Requeue/Execute methods.
	var sched *scheduler.Scheduler
	schedRef := schedulerRef{s: &sched}

	broker := approval.NewBroker(approvalStore, schedRef)
	tracker := escalation.NewTracker(escalationStore, runs, schedRef)
	escalator := escalation.NewRunEscalator(runs, tracker, schedRef)

	registry, err := tools.NewRegistry(nil, tools.Registration{
		Spec: tools.Spec{Name: "echo", Description: "echoes its input back"},
		Handler: func(_ context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"echoed": string(params)}, nil
		},
	})
	if err != nil {
		logger.Error("build tool registry", "error", err)
		os.Exit(1)
	}
	router := toolrouter.New(registry, toolrouter.WithEscalator(escalator))

	fakeModel := model.NewFakeClient(model.Response{Content: "hello from the run execution engine"})

	sched = scheduler.New(runs, events, checkpoints, func(_ context.Context, rec run.Record) (scheduler.AgentRunner, runner.Input, error) {
		r := runner.New(runner.Config{
			AgentID:     agent.DefaultID,
			MaxSteps:    cfg.Runner.MaxSteps,
			Model:       fakeModel,
			Memory:      memory.NewFakeReader(nil, nil),
			Router:      router,
			Checkpoints: checkpoints,
		})
		return r, runner.Input{RunID: rec.RunID, UserInput: rec.Input}, nil
	},
		scheduler.WithMaxConcurrentRuns(int64(cfg.Scheduler.MaxConcurrentRuns)),
		scheduler.WithApprovals(broker),
		scheduler.WithEscalations(tracker),
	)

	if err := runworkflow.Register(ctx, eng, sched, cfg.Engine.TemporalQueue); err != nil {
		logger.Error("register run workflow", "error", err)
		os.Exit(1)
	}

	runID := fmt.Sprintf("demo-%d", time.Now().UnixNano())
	if err := runs.Create(ctx, run.Record{
		RunID:     runID,
		Status:    run.StatusPending,
		Input:     "say hello",
		AgentID:   agent.DefaultID,
		CreatedAt: time.Now(),
	}); err != nil {
		logger.Error("create run", "error", err)
		os.Exit(1)
	}

	status, err := runworkflow.Start(ctx, eng, runID)
	if err != nil {
		logger.Error("execute run", "error", err, "status", status)
		os.Exit(1)
	}

	rec, err := runs.Get(ctx, runID)
	if err != nil {
		logger.Error("get run", "error", err)
		os.Exit(1)
	}
	logger.Info("run finished", "run_id", runID, "status", status, "output", rec.Result)
}
