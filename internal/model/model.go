// Package model defines the LLM client contract the agent runner drives
// during each reason-act step, independent of any particular model
// provider (spec.md §4.5).
package model

import (
	"context"
	"encoding/json"
)

type (
	// Message is one chat-format turn sent to or received from a model.
	Message struct {
		Role       string          `json:"role"`
		Content    string          `json:"content"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
		ToolName   string          `json:"tool_name,omitempty"`
	}

	// ToolDescriptor is the subset of a tool spec a model needs to decide
	// whether and how to call it.
	ToolDescriptor struct {
		Name         string          `json:"name"`
		Description  string          `json:"description"`
		ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
	}

	// ToolCall is one tool invocation requested by the model in its
	// response.
	ToolCall struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Args   json.RawMessage `json:"args"`
	}

	// Request is one completion call: the full running transcript plus the
	// tool descriptors currently allowed for this step.
	Request struct {
		Provider    string
		Model       string
		Temperature float64
		MaxTokens   int
		Messages    []Message
		Tools       []ToolDescriptor
	}

	// Usage reports token accounting for a single completion call, used to
	// populate llm.called events (spec.md §6.2).
	Usage struct {
		PromptTokens     int
		CompletionTokens int
		TotalTokens      int
	}

	// Response is a single completion result. Exactly one of Content or
	// ToolCalls is meaningful for the reason-act loop's branch: a
	// non-empty ToolCalls means the step results in tool_call; otherwise
	// Content is the agent's final_answer for this step (spec.md §4.5).
	Response struct {
		Content   string
		ToolCalls []ToolCall
		Usage     Usage
	}

	// TokenFunc receives one streamed token during Stream, in order.
	TokenFunc func(ctx context.Context, token string, index int) error

	// Client is the narrow interface the runner drives per step. A
	// provider-specific adapter (OpenAI, Anthropic, Bedrock, ...) satisfies
	// it.
	Client interface {
		// Complete performs one blocking completion call.
		Complete(ctx context.Context, req Request) (Response, error)
		// Stream performs one completion call, invoking onToken for each
		// token as it arrives, then returns the final aggregated Response.
		// Implementations that cannot stream may call onToken once with the
		// full content and return the same Response from Complete.
		Stream(ctx context.Context, req Request, onToken TokenFunc) (Response, error)
	}
)
