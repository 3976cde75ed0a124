// Package checkpoint persists a snapshot of an agent's working state at a
// step so a suspended or cancelled run can resume (spec.md §3, §4.2).
package checkpoint

import (
	"context"
	"encoding/json"

	"github.com/agentruntime/core/internal/agent"
)

type (
	// Message is one ordered chat message in a checkpointed transcript,
	// including tool-call threading (tool_call_id ties an assistant tool
	// call to its tool-role response).
	Message struct {
		Role       string          `json:"role"`
		Content    string          `json:"content"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
		ToolName   string          `json:"tool_name,omitempty"`
		ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	}

	// WorkingState is the opaque-to-the-store snapshot of an agent's
	// reasoning state at a step (spec.md §4.2).
	WorkingState struct {
		MemoryHits     []string `json:"memory_hits"`
		LastToolResult string   `json:"last_tool_result,omitempty"`
		PlanTag        string   `json:"plan_tag,omitempty"`
	}

	// Snapshot is the full payload persisted for (run, agent, step).
	Snapshot struct {
		WorkingState WorkingState `json:"working_state"`
		Messages     []Message    `json:"messages"`
	}

	// Store persists the latest checkpoint per (run, agent); history is
	// retained but only the latest is required for resume (spec.md §3).
	Store interface {
		// Save persists snapshot under (runID, agentID, stepID), overwriting
		// any existing snapshot for that exact key (re-saving the same
		// checkpoint is idempotent per spec.md §8).
		Save(ctx context.Context, runID string, agentID agent.Ident, stepID string, snapshot Snapshot) error
		// Latest returns the most recently saved snapshot for (runID,
		// agentID), and ok=false if none exists.
		Latest(ctx context.Context, runID string, agentID agent.Ident) (snapshot Snapshot, stepID string, ok bool, err error)
	}
)
