// Package orchestrator implements the Serial Orchestrator: it runs a group
// of roles one after another for up to maxRounds rounds, sharing a single
// evolving transcript and tool router, until the lead role (or the last
// member) produces the final synthesis (spec.md §4.6).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/checkpoint"
	"github.com/agentruntime/core/internal/engineerr"
	"github.com/agentruntime/core/internal/event"
	"github.com/agentruntime/core/internal/memory"
	"github.com/agentruntime/core/internal/model"
	"github.com/agentruntime/core/internal/policy"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/runner"
	"github.com/agentruntime/core/internal/telemetry"
	"github.com/agentruntime/core/internal/toolrouter"
)

// defaultMaxRounds is the bound applied when Config.MaxRounds is unset
// (spec.md §4.6 "bounded by maxRounds, default 3").
const defaultMaxRounds = 3

type (
	// Member is one (role, agent instance id) position in the group's
	// ordered member list.
	Member struct {
		Role       agent.Role
		InstanceID agent.Ident
	}

	// RunnerFactory builds the single-agent Runner used to drive one
	// member's turn. Defaulted to runner.New when nil; tests substitute a
	// factory that injects a scripted model.Client per member.
	RunnerFactory func(cfg runner.Config) AgentRunner

	// AgentRunner is the narrow contract the orchestrator depends on so it
	// can drive a member's turn without depending on runner.Runner's
	// concrete type.
	AgentRunner interface {
		Run(ctx context.Context, in runner.Input) (<-chan event.Event, <-chan runner.Outcome)
	}

	// Config is the static configuration of one group run.
	Config struct {
		Members     []Member
		MaxRounds   int
		Model       model.Client
		ToolCatalog []model.ToolDescriptor
		Memory      memory.Reader
		Router      *toolrouter.Router
		Checkpoints checkpoint.Store
		LLM         run.LLMConfig
		Delegated   *policy.Delegated

		RunnerFactory RunnerFactory

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Input starts one group run attempt.
	Input struct {
		RunID        string
		GroupID      string
		ParentSpanID string
		UserInput    string
	}

	// Orchestrator drives a bounded sequence of member turns for one group
	// run.
	Orchestrator struct {
		cfg Config
	}
)

// finalMarkerPrefix is the convention a lead role's output uses to signal
// that its answer is the terminal synthesis and the round should
// short-circuit (spec.md §4.6 point 4, "produces a final marker").
const finalMarkerPrefix = "FINAL: "

// New constructs an Orchestrator, defaulting MaxRounds and the telemetry
// no-ops.
func New(cfg Config) *Orchestrator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.RunnerFactory == nil {
		cfg.RunnerFactory = func(rc runner.Config) AgentRunner { return runner.New(rc) }
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	return &Orchestrator{cfg: cfg}
}

// Run drives the group round loop, emitting the same event/outcome channel
// contract as a single-agent Runner (spec.md §4.5) so the scheduler can
// consume either uniformly.
func (o *Orchestrator) Run(ctx context.Context, in Input) (<-chan event.Event, <-chan runner.Outcome) {
	events := make(chan event.Event, 64)
	outcome := make(chan runner.Outcome, 1)

	go func() {
		defer close(events)
		defer close(outcome)
		outcome <- o.loop(ctx, in, events)
	}()

	return events, outcome
}

func (o *Orchestrator) loop(ctx context.Context, in Input, events chan<- event.Event) runner.Outcome {
	if len(o.cfg.Members) == 0 {
		return o.fail(events, in, engineerr.New(engineerr.ExecutorError, "group run has no members"))
	}

	spanID := uuid.NewString()
	o.emit(events, in, spanID, event.TypeRunStarted, event.RunStartedPayload{Input: in.UserInput})

	start := time.Now()
	var transcript []checkpoint.Message
	transcript = append(transcript, checkpoint.Message{Role: "user", Content: in.UserInput})

	var lastOutput string
	var leadOutput string
	var haveLeadOutput bool

	for round := 1; round <= o.cfg.MaxRounds; round++ {
		for _, member := range o.cfg.Members {
			if ctx.Err() != nil {
				return runner.Outcome{Status: run.StatusCancelled, Error: engineerr.New(engineerr.Cancelled, "group run cancelled")}
			}

			cfg := runner.Config{
				AgentID:      member.InstanceID,
				RoleID:       string(member.Role.ID),
				SystemPrompt: member.Role.SystemPrompt,
				MaxSteps:     0,
				AllowedTools: member.Role.AllowedTools,
				DeniedTools:  member.Role.DeniedTools,
				Delegated:    o.cfg.Delegated,
				Model:        o.cfg.Model,
				ToolCatalog:  o.cfg.ToolCatalog,
				Memory:       o.cfg.Memory,
				Router:       o.cfg.Router,
				Checkpoints:  o.cfg.Checkpoints,
				LLM:          o.cfg.LLM,
				Logger:       o.cfg.Logger,
				Metrics:      o.cfg.Metrics,
				Tracer:       o.cfg.Tracer,
			}
			memberRunner := o.cfg.RunnerFactory(cfg)

			memberIn := runner.Input{
				RunID:         in.RunID,
				GroupID:       in.GroupID,
				ParentSpanID:  spanID,
				UserInput:     in.UserInput,
				PriorMessages: transcript,
			}

			memberEvents, memberOutcomeCh := memberRunner.Run(ctx, memberIn)
			for ev := range memberEvents {
				ev.AgentID = member.InstanceID
				events <- ev
			}
			memberOutcome := <-memberOutcomeCh

			switch memberOutcome.Status {
			case run.StatusCompleted:
				// continue to next member
			case run.StatusSuspended, run.StatusFailed, run.StatusCancelled:
				return memberOutcome
			}

			output := memberOutcome.Output
			lastOutput = output
			transcript = append(transcript, checkpoint.Message{
				Role:     "assistant",
				Content:  fmt.Sprintf("[%s] %s", member.Role.ID, stripFinalMarker(output)),
				ToolName: string(member.Role.ID),
			})

			if member.Role.Lead {
				leadOutput = output
				haveLeadOutput = true
				if isFinalMarker(output) {
					return o.finish(events, in, spanID, start, stripFinalMarker(output))
				}
			}
		}
	}

	final := lastOutput
	if haveLeadOutput {
		final = leadOutput
	}
	return o.finish(events, in, spanID, start, stripFinalMarker(final))
}

func (o *Orchestrator) finish(events chan<- event.Event, in Input, spanID string, start time.Time, output string) runner.Outcome {
	o.emit(events, in, spanID, event.TypeRunCompleted, event.RunCompletedPayload{
		Output:     output,
		DurationMS: time.Since(start).Milliseconds(),
	})
	return runner.Outcome{Status: run.StatusCompleted, Output: output}
}

func (o *Orchestrator) fail(events chan<- event.Event, in Input, err *engineerr.Error) runner.Outcome {
	o.emit(events, in, "", event.TypeRunFailed, event.RunFailedPayload{
		Error: event.ErrorDetail{Code: string(err.Code), Message: err.Message},
	})
	return runner.Outcome{Status: run.StatusFailed, Error: err}
}

func (o *Orchestrator) emit(events chan<- event.Event, in Input, spanID string, typ event.Type, payload any) {
	events <- event.Event{
		V:            1,
		TS:           time.Now(),
		RunID:        in.RunID,
		Type:         typ,
		Payload:      payload,
		SpanID:       spanID,
		ParentSpanID: in.ParentSpanID,
	}
}

func isFinalMarker(output string) bool {
	return len(output) >= len(finalMarkerPrefix) && output[:len(finalMarkerPrefix)] == finalMarkerPrefix
}

func stripFinalMarker(output string) string {
	if isFinalMarker(output) {
		return output[len(finalMarkerPrefix):]
	}
	return output
}
