// Package event defines the append-only run event model and the contracts
// for persisting and fanning it out to live subscribers (spec.md §3, §4.1,
// §6.2).
package event

import (
	"encoding/json"
	"time"

	"github.com/agentruntime/core/internal/agent"
)

// Type tags an event's payload shape. The full set mirrors spec.md §6.2.
type Type string

const (
	TypeRunStarted          Type = "run.started"
	TypeStepStarted         Type = "step.started"
	TypeLLMCalled           Type = "llm.called"
	TypeLLMToken            Type = "llm.token"
	TypeToolCalled          Type = "tool.called"
	TypeToolResult          Type = "tool.result"
	TypeToolBlocked         Type = "tool.blocked"
	TypeToolRequiresApprove Type = "tool.requires_approval"
	TypeStepCompleted       Type = "step.completed"
	TypeRunCompleted        Type = "run.completed"
	TypeRunFailed           Type = "run.failed"
)

// ResultType tags the outcome of a completed step (spec.md §6.2
// step.completed.resultType).
type ResultType string

const (
	ResultToolCall    ResultType = "tool_call"
	ResultFinalAnswer ResultType = "final_answer"
)

type (
	// Redaction flags whether an event's payload contains secrets that
	// downstream consumers must redact before display.
	Redaction struct {
		ContainsSecrets bool `json:"contains_secrets"`
	}

	// ErrorDetail is the structured error shape carried by tool.result and
	// run.failed payloads.
	ErrorDetail struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}

	// Event is a single append-only, totally ordered record in a run's event
	// log. Ordering within a run is by Seq (assigned on append), not by
	// timestamp, which is informational only (spec.md §3).
	Event struct {
		V            int       `json:"v"`
		Seq          int64     `json:"seq"`
		TS           time.Time `json:"ts"`
		RunID        string    `json:"run_id"`
		AgentID      agent.Ident `json:"agent_id"`
		StepID       string    `json:"step_id"`
		SpanID       string    `json:"span_id"`
		ParentSpanID string    `json:"parent_span_id,omitempty"`
		Type         Type      `json:"type"`
		Payload      any       `json:"payload"`
		Redaction    Redaction `json:"redaction"`
	}

	// RunStartedPayload is the payload for run.started.
	RunStartedPayload struct {
		Input string `json:"input"`
	}

	// StepStartedPayload is the payload for step.started.
	StepStartedPayload struct {
		StepNumber int `json:"stepNumber"`
	}

	// LLMCalledPayload is the payload for llm.called.
	LLMCalledPayload struct {
		Model            string `json:"model"`
		PromptTokens     int    `json:"promptTokens"`
		CompletionTokens int    `json:"completionTokens"`
		TotalTokens      int    `json:"totalTokens"`
		DurationMS       int64  `json:"duration_ms"`
	}

	// LLMTokenPayload is the payload for llm.token. Live-only by default;
	// persisted only as part of a batch (spec.md §4.1).
	LLMTokenPayload struct {
		Token      string `json:"token"`
		TokenIndex int    `json:"tokenIndex"`
	}

	// ToolCalledPayload is the payload for tool.called.
	ToolCalledPayload struct {
		ToolName string          `json:"toolName"`
		Args     json.RawMessage `json:"args"`
	}

	// ToolResultPayload is the payload for tool.result.
	ToolResultPayload struct {
		ToolName string          `json:"toolName"`
		Result   json.RawMessage `json:"result"`
		IsError  bool            `json:"isError"`
		Error    *ErrorDetail    `json:"error,omitempty"`
	}

	// ToolBlockedPayload is the payload for tool.blocked.
	ToolBlockedPayload struct {
		ToolName string          `json:"toolName"`
		Args     json.RawMessage `json:"args"`
		Reason   string          `json:"reason"`
		RoleID   string          `json:"role_id,omitempty"`
	}

	// ToolRequiresApprovalPayload is the payload for tool.requires_approval.
	ToolRequiresApprovalPayload struct {
		ToolName   string          `json:"toolName"`
		ToolCallID string          `json:"tool_call_id"`
		Args       json.RawMessage `json:"args"`
		Reason     string          `json:"reason"`
		RiskLevel  string          `json:"risk_level"`
	}

	// StepCompletedPayload is the payload for step.completed.
	StepCompletedPayload struct {
		StepNumber int        `json:"stepNumber"`
		ResultType ResultType `json:"resultType"`
		DurationMS int64      `json:"duration_ms"`
	}

	// RunCompletedPayload is the payload for run.completed.
	RunCompletedPayload struct {
		Output     string `json:"output"`
		DurationMS int64  `json:"duration_ms"`
	}

	// RunFailedPayload is the payload for run.failed.
	RunFailedPayload struct {
		Error ErrorDetail `json:"error"`
	}
)
