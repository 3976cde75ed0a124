// Package toolrouter dispatches named tool calls through lookup, policy,
// timed execution, and result normalization (spec.md §3, §4.3).
package toolrouter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agentruntime/core/internal/engineerr"
	"github.com/agentruntime/core/internal/policy"
	"github.com/agentruntime/core/internal/telemetry"
	"github.com/agentruntime/core/internal/tools"
)

// defaultTimeout is used when a tool spec does not override it (spec.md
// §4.3 step 3).
const defaultTimeout = 30 * time.Second

// maxExternalRetries bounds the single retry-after-reconnect allowance for
// external tool sources on a closed-transport marker (spec.md §4.3).
const maxExternalRetries = 1

type (
	// Result is the normalized, never-throws outcome of a CallTool
	// invocation. Exactly one of Result/Blocked/RequiresApproval/
	// RequiresSuspension/Error is meaningful, mirroring the JSON shapes in
	// spec.md §4.3.
	Result struct {
		Success            bool
		Result             json.RawMessage
		Blocked            bool
		RequiresApproval   bool
		RequiresSuspension bool
		RiskLevel          string
		PolicyReason       string
		Error              string
		ErrorCode          engineerr.Code
		// EscalationChildRunID is set when the call triggered the creation
		// of a child run (spec.md §4.8); RequiresSuspension is also set in
		// that case so the caller suspends the same way it would for an
		// approval gate.
		EscalationChildRunID string
	}

	// CallMeta carries the identifiers CallTool needs to create a child run
	// on escalation (spec.md §4.8); it is not required for ordinary calls.
	CallMeta struct {
		RunID      string
		ToolCallID string
	}

	// Reconnector re-establishes a closed transport to an external tool
	// source before a single retry (spec.md §4.3: "the router retries ONCE
	// after a reconnect on a closed-transport marker").
	Reconnector interface {
		Reconnect(ctx context.Context, toolName tools.Ident) error
	}

	// Escalator creates a queued child run and records a dependency row
	// when a tool handler requests escalation to a sub-run (spec.md §4.8).
	Escalator interface {
		Escalate(ctx context.Context, meta CallMeta, goal, role string) (childRunID string, err error)
	}

	// Router is constructed once per process and is safe for concurrent
	// use; its per-call scope is carried entirely through AgentContext
	// arguments rather than mutable router state (spec.md §4.7 "Shared
	// resources").
	Router struct {
		registry    *tools.Registry
		reconnector Reconnector
		escalator   Escalator
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer
	}

	// Option configures a Router at construction.
	Option func(*Router)
)

// WithReconnector installs the reconnect hook used for external tool
// sources that report a closed-transport marker.
func WithReconnector(r Reconnector) Option {
	return func(rt *Router) { rt.reconnector = r }
}

// WithEscalator installs the hook used to create a child run when a tool
// handler requests escalation.
func WithEscalator(e Escalator) Option {
	return func(rt *Router) { rt.escalator = e }
}

// WithTelemetry installs the logger/metrics/tracer used for router-level
// observability. Defaults to no-ops when omitted.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) Option {
	return func(rt *Router) {
		rt.logger, rt.metrics, rt.tracer = logger, metrics, tracer
	}
}

// New constructs a Router over registry.
func New(registry *tools.Registry, opts ...Option) *Router {
	rt := &Router{
		registry: registry,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// CallTool executes the five-step dispatch contract from spec.md §4.3. A
// nil agentCtx skips policy evaluation entirely (system-internal calls).
func (r *Router) CallTool(ctx context.Context, name tools.Ident, params json.RawMessage, agentCtx *policy.Context, meta CallMeta) Result {
	ctx, span := r.tracer.StartSpan(ctx, "toolrouter.CallTool")
	defer span.End()

	// Step 1: lookup.
	spec, handler, ok := r.registry.Lookup(name)
	if !ok {
		r.metrics.IncCounter("tool_call_not_found", 1, "tool", string(name))
		span.SetError(engineerr.New(engineerr.ToolNotFound, "tool not found"))
		return errResult(engineerr.ToolNotFound, "tool not found: "+string(name))
	}

	// Step 2: policy.
	if agentCtx != nil {
		meta := policy.ToolMeta{RiskLevel: policy.RiskLevel(spec.Meta.RiskLevel), SkillID: spec.Meta.SkillID}
		decision := policy.Decide(*agentCtx, string(name), meta, r.registry.AlwaysAllowed(name))
		switch decision.Outcome {
		case policy.Deny:
			return Result{Success: false, Blocked: true, Error: "Blocked: " + decision.Reason}
		case policy.Ask:
			return Result{
				Success:          false,
				RequiresApproval: true,
				RiskLevel:        string(spec.Meta.RiskLevel),
				PolicyReason:     decision.Reason,
			}
		}
	}

	if err := r.registry.Validate(ctx, name, params); err != nil {
		return errResultf(engineerr.ToolInvalidArgs, "%v", err)
	}

	// Step 3: timed execution, with the external-source reconnect retry.
	timeout := defaultTimeout
	if spec.Meta.Timeout > 0 {
		timeout = time.Duration(spec.Meta.Timeout) * time.Millisecond
	}
	raw, err := r.execute(ctx, name, spec, handler, params, timeout)
	if err != nil {
		if errors.Is(err, errClosedTransport) && spec.Source == tools.SourceExternal && r.reconnector != nil {
			raw, err = r.retryAfterReconnect(ctx, name, spec, handler, params, timeout)
		}
	}
	if err != nil {
		return r.mapError(err)
	}

	// Steps 4-5: normalization happens inside normalize; handlers never
	// throw past this point.
	res := normalize(spec, raw)
	if res.Success && r.escalator != nil {
		if req, ok := detectEscalation(raw); ok {
			childID, err := r.escalator.Escalate(ctx, meta, req.Goal, req.Role)
			if err != nil {
				return r.mapError(engineerr.Wrap(engineerr.ExecutorError, "escalation failed", err))
			}
			return Result{
				Success:              false,
				RequiresSuspension:   true,
				EscalationChildRunID: childID,
				Result:               res.Result,
			}
		}
	}
	return res
}

// execute races handler against timeout, converting a timeout into
// engineerr.ToolTimeout.
func (r *Router) execute(ctx context.Context, name tools.Ident, spec tools.Spec, handler tools.Handler, params json.RawMessage, timeout time.Duration) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: engineerr.Newf(engineerr.ToolHandlerError, "tool %q panicked: %v", name, rec)}
			}
		}()
		val, err := handler(callCtx, params)
		done <- outcome{val: val, err: err}
	}()

	select {
	case <-callCtx.Done():
		return nil, engineerr.Newf(engineerr.ToolTimeout, "tool %q timed out after %s", name, timeout)
	case o := <-done:
		return o.val, o.err
	}
}

func (r *Router) retryAfterReconnect(ctx context.Context, name tools.Ident, spec tools.Spec, handler tools.Handler, params json.RawMessage, timeout time.Duration) (any, error) {
	for i := 0; i < maxExternalRetries; i++ {
		if err := r.reconnector.Reconnect(ctx, name); err != nil {
			return nil, engineerr.Wrap(engineerr.ExecutorError, "reconnect failed", err)
		}
		raw, err := r.execute(ctx, name, spec, handler, params, timeout)
		if err == nil || !errors.Is(err, errClosedTransport) {
			return raw, err
		}
	}
	return nil, engineerr.New(engineerr.ExecutorError, "transport remained closed after reconnect")
}

func (r *Router) mapError(err error) Result {
	code := engineerr.CodeOf(err)
	if code == "" {
		code = engineerr.ExecutorError
	}
	return Result{Success: false, Error: err.Error(), ErrorCode: code}
}

func errResult(code engineerr.Code, msg string) Result {
	return Result{Success: false, Error: msg, ErrorCode: code}
}

func errResultf(code engineerr.Code, format string, args ...any) Result {
	return errResult(code, engineerr.Newf(code, format, args...).Error())
}
