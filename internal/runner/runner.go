// Package runner drives a single agent through the bounded reason-act loop:
// retrieve memory, call the model, dispatch any tool calls, and repeat until
// a final answer, a suspension, or the step budget is exhausted (spec.md §3,
// §4.5).
package runner

import (
	"context"
	"encoding/json"
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
	"github.com/agentruntime/core/internal/telemetry"
	"github.com/agentruntime/core/internal/toolrouter"
	"github.com/agentruntime/core/internal/tools"
)

// recentHistoryWindow bounds how many trailing messages feed the memory
// query composed at the start of each step (spec.md §4.5 step 2.b).
const recentHistoryWindow = 6

type (
	// Config is the static configuration of one Runner, built once per run
	// invocation by the scheduler (or the serial orchestrator, for a group
	// member).
	Config struct {
		AgentID      agent.Ident
		RoleID       string
		SystemPrompt string
		MaxSteps     int
		AllowedTools []string
		DeniedTools  []string
		Delegated    *policy.Delegated

		Model       model.Client
		ToolCatalog []model.ToolDescriptor
		Memory      memory.Reader
		Router      *toolrouter.Router
		Checkpoints checkpoint.Store
		LLM         run.LLMConfig

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// Input is one invocation of the loop.
	Input struct {
		RunID         string
		GroupID       string
		ParentSpanID  string
		UserInput     string
		PriorMessages []checkpoint.Message
	}

	// Outcome is the terminal result record the loop contract promises:
	// "async stream of Event, terminating with a result record {status,
	// output?, error?, steps}" (spec.md §4.5).
	Outcome struct {
		Status               run.Status
		Output               string
		Error                *engineerr.Error
		Steps                int
		SuspendedToolName    string
		SuspendedToolCallID  string
		SuspendedToolArgs    json.RawMessage
		SuspendedRiskLevel   string
		SuspensionReason     string
		EscalationChildRunID string
	}

	// Runner drives one agent's reason-act loop. A Runner is built fresh
	// per invocation; it holds no state across runs.
	Runner struct {
		cfg Config
	}
)

// New constructs a Runner from cfg, filling telemetry no-ops when omitted.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	return &Runner{cfg: cfg}
}

// Run starts the loop in its own goroutine and returns a channel of events
// (unpersisted; the caller is responsible for appending/broadcasting them)
// and a one-shot channel carrying the terminal Outcome.
func (r *Runner) Run(ctx context.Context, in Input) (<-chan event.Event, <-chan Outcome) {
	events := make(chan event.Event, 64)
	outcome := make(chan Outcome, 1)

	go func() {
		defer close(events)
		defer close(outcome)
		outcome <- r.loop(ctx, in, events)
	}()

	return events, outcome
}

// loopState holds the mutable transcript and working-state fields threaded
// through the step loop.
type loopState struct {
	messages   []checkpoint.Message
	memoryHits []memory.Hit
	lastResult string
}

func (r *Runner) loop(ctx context.Context, in Input, events chan<- event.Event) Outcome {
	agentCtx := policy.Context{
		AgentID:      string(r.cfg.AgentID),
		RoleID:       r.cfg.RoleID,
		AllowedTools: r.cfg.AllowedTools,
		DeniedTools:  r.cfg.DeniedTools,
		Delegated:    r.cfg.Delegated,
	}

	st := &loopState{messages: initialMessages(r.cfg.SystemPrompt, in.UserInput, in.PriorMessages)}

	if ctx.Err() != nil {
		return Outcome{Status: run.StatusCancelled}
	}
	r.emit(events, in, "", event.TypeRunStarted, event.RunStartedPayload{Input: in.UserInput})

	for step := 1; step <= r.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			return Outcome{Status: run.StatusCancelled, Steps: step - 1}
		}

		stepID := fmt.Sprintf("step-%d", step)
		r.emit(events, in, stepID, event.TypeStepStarted, event.StepStartedPayload{StepNumber: step})

		if ctx.Err() != nil {
			return Outcome{Status: run.StatusCancelled, Steps: step - 1}
		}
		hits, err := r.cfg.Memory.Retrieve(ctx, memory.Query{
			RunID:      in.RunID,
			AgentID:    string(r.cfg.AgentID),
			GroupID:    in.GroupID,
			RecentText: recentText(st.messages, recentHistoryWindow),
			Limit:      8,
		})
		if err != nil {
			return r.fail(events, in, stepID, step, engineerr.Wrap(engineerr.ExecutorError, "memory retrieval failed", err))
		}
		st.memoryHits = hits

		req := model.Request{
			Provider:    r.cfg.LLM.Provider,
			Model:       r.cfg.LLM.Model,
			Temperature: r.cfg.LLM.Temperature,
			MaxTokens:   r.cfg.LLM.MaxTokens,
			Messages:    promptMessages(r.cfg.SystemPrompt, st),
			Tools:       r.cfg.ToolCatalog,
		}

		if ctx.Err() != nil {
			return Outcome{Status: run.StatusCancelled, Steps: step - 1}
		}
		start := time.Now()
		tokenIndex := 0
		resp, err := r.cfg.Model.Stream(ctx, req, func(tctx context.Context, token string, _ int) error {
			if tctx.Err() != nil {
				return tctx.Err()
			}
			r.emit(events, in, stepID, event.TypeLLMToken, event.LLMTokenPayload{Token: token, TokenIndex: tokenIndex})
			tokenIndex++
			return nil
		})
		duration := time.Since(start)
		if err != nil {
			return r.fail(events, in, stepID, step, engineerr.Wrap(engineerr.ExecutorError, "model call failed", err))
		}
		r.emit(events, in, stepID, event.TypeLLMCalled, event.LLMCalledPayload{
			Model:            req.Model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			DurationMS:       duration.Milliseconds(),
		})

		if len(resp.ToolCalls) > 0 {
			out, ok := r.handleToolCalls(ctx, events, in, agentCtx, stepID, st, resp)
			if !ok {
				return out
			}
			if err := r.checkpointStep(ctx, in, stepID, st); err != nil {
				return r.fail(events, in, stepID, step, engineerr.Wrap(engineerr.ExecutorError, "checkpoint save failed", err))
			}
			r.emit(events, in, stepID, event.TypeStepCompleted, event.StepCompletedPayload{
				StepNumber: step, ResultType: event.ResultToolCall, DurationMS: duration.Milliseconds(),
			})
			continue
		}

		st.messages = append(st.messages, checkpoint.Message{Role: "assistant", Content: resp.Content})
		if err := r.checkpointStep(ctx, in, stepID, st); err != nil {
			return r.fail(events, in, stepID, step, engineerr.Wrap(engineerr.ExecutorError, "checkpoint save failed", err))
		}
		r.emit(events, in, stepID, event.TypeStepCompleted, event.StepCompletedPayload{
			StepNumber: step, ResultType: event.ResultFinalAnswer, DurationMS: duration.Milliseconds(),
		})
		r.emit(events, in, stepID, event.TypeRunCompleted, event.RunCompletedPayload{Output: resp.Content, DurationMS: duration.Milliseconds()})
		return Outcome{Status: run.StatusCompleted, Output: resp.Content, Steps: step}
	}

	failure := engineerr.New(engineerr.MaxSteps, "exhausted max steps")
	r.emit(events, in, "", event.TypeRunFailed, event.RunFailedPayload{Error: event.ErrorDetail{Code: string(failure.Code), Message: failure.Message}})
	return Outcome{Status: run.StatusFailed, Error: failure, Steps: r.cfg.MaxSteps}
}

// handleToolCalls executes every tool call the model requested for this
// step, in declaration order (spec.md §5 "Ordering guarantees"). It returns
// ok=false with a terminal Outcome if a call suspends the run or a fatal
// error occurs; otherwise it returns ok=true to let the loop continue.
func (r *Runner) handleToolCalls(ctx context.Context, events chan<- event.Event, in Input, agentCtx policy.Context, stepID string, st *loopState, resp model.Response) (Outcome, bool) {
	st.messages = append(st.messages, checkpoint.Message{Role: "assistant", Content: resp.Content})

	for _, call := range resp.ToolCalls {
		if ctx.Err() != nil {
			return Outcome{Status: run.StatusCancelled}, false
		}

		r.emit(events, in, stepID, event.TypeToolCalled, event.ToolCalledPayload{ToolName: call.Name, Args: call.Args})

		res := r.cfg.Router.CallTool(ctx, tools.Ident(call.Name), call.Args, &agentCtx, toolrouter.CallMeta{
			RunID:      in.RunID,
			ToolCallID: call.ID,
		})

		switch {
		case res.Blocked:
			r.emit(events, in, stepID, event.TypeToolBlocked, event.ToolBlockedPayload{
				ToolName: call.Name, Args: call.Args, Reason: trimBlockedPrefix(res.Error), RoleID: r.cfg.RoleID,
			})
			st.messages = append(st.messages, checkpoint.Message{
				Role: "tool", ToolCallID: call.ID, ToolName: call.Name,
				Content: res.Error,
			})
			continue

		case res.RequiresApproval || res.RequiresSuspension:
			reason := "awaiting_approval"
			if res.EscalationChildRunID != "" {
				reason = "escalated_to_child_run"
			}
			r.emit(events, in, stepID, event.TypeToolRequiresApprove, event.ToolRequiresApprovalPayload{
				ToolName: call.Name, ToolCallID: call.ID, Args: call.Args,
				Reason: reason, RiskLevel: res.RiskLevel,
			})
			if err := r.checkpointStep(ctx, in, stepID, st); err != nil {
				return Outcome{Status: run.StatusFailed, Error: engineerr.Wrap(engineerr.ExecutorError, "checkpoint save failed", err)}, false
			}
			return Outcome{
				Status:               run.StatusSuspended,
				SuspendedToolName:    call.Name,
				SuspendedToolCallID:  call.ID,
				SuspendedToolArgs:    call.Args,
				SuspendedRiskLevel:   res.RiskLevel,
				SuspensionReason:     reason,
				EscalationChildRunID: res.EscalationChildRunID,
			}, false

		default:
			isError := !res.Success
			var errDetail *event.ErrorDetail
			if isError {
				errDetail = &event.ErrorDetail{Code: string(res.ErrorCode), Message: res.Error}
			}
			r.emit(events, in, stepID, event.TypeToolResult, event.ToolResultPayload{
				ToolName: call.Name, Result: res.Result, IsError: isError, Error: errDetail,
			})
			content := string(res.Result)
			if isError {
				content = res.Error
			}
			st.messages = append(st.messages, checkpoint.Message{
				Role: "tool", ToolCallID: call.ID, ToolName: call.Name, Content: content,
			})
			st.lastResult = content
		}
	}
	return Outcome{}, true
}

func (r *Runner) checkpointStep(ctx context.Context, in Input, stepID string, st *loopState) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	hits := make([]string, 0, len(st.memoryHits))
	for _, h := range st.memoryHits {
		hits = append(hits, h.Summary)
	}
	return r.cfg.Checkpoints.Save(ctx, in.RunID, r.cfg.AgentID, stepID, checkpoint.Snapshot{
		WorkingState: checkpoint.WorkingState{MemoryHits: hits, LastToolResult: st.lastResult},
		Messages:     st.messages,
	})
}

func (r *Runner) fail(events chan<- event.Event, in Input, stepID string, step int, err *engineerr.Error) Outcome {
	r.emit(events, in, stepID, event.TypeRunFailed, event.RunFailedPayload{
		Error: event.ErrorDetail{Code: string(err.Code), Message: err.Message},
	})
	return Outcome{Status: run.StatusFailed, Error: err, Steps: step}
}

// emit is used from the main loop goroutine, where sending directly on the
// channel is safe.
func (r *Runner) emit(events chan<- event.Event, in Input, stepID string, typ event.Type, payload any) {
	if events == nil {
		return
	}
	events <- r.newEvent(in, stepID, typ, payload)
}

func (r *Runner) newEvent(in Input, stepID string, typ event.Type, payload any) event.Event {
	return event.Event{
		V:            1,
		TS:           time.Now(),
		RunID:        in.RunID,
		AgentID:      r.cfg.AgentID,
		StepID:       stepID,
		SpanID:       uuid.NewString(),
		ParentSpanID: in.ParentSpanID,
		Type:         typ,
		Payload:      payload,
	}
}

func trimBlockedPrefix(msg string) string {
	const prefix = "Blocked: "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func initialMessages(systemPrompt, userInput string, prior []checkpoint.Message) []checkpoint.Message {
	if len(prior) > 0 {
		out := make([]checkpoint.Message, len(prior))
		copy(out, prior)
		return out
	}
	return []checkpoint.Message{{Role: "user", Content: userInput}}
}

func promptMessages(systemPrompt string, st *loopState) []model.Message {
	out := make([]model.Message, 0, len(st.messages)+1)
	if systemPrompt != "" {
		out = append(out, model.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range st.messages {
		out = append(out, model.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, ToolName: m.ToolName})
	}
	return out
}

func recentText(messages []checkpoint.Message, window int) []string {
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}
