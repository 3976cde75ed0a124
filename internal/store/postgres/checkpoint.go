package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/checkpoint"
)

// CheckpointStore is a Postgres-backed checkpoint.Store. A Save for a new
// step id inserts a new row, and a Save that repeats a step id replaces that
// row's snapshot; history across steps is retained and Latest reads the
// most recent one
// (spec.md §4.2 "history is retained but only the latest is required for
// resume").
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore constructs a CheckpointStore bound to pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (s *CheckpointStore) Save(ctx context.Context, runID string, agentID agent.Ident, stepID string, snapshot checkpoint.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (run_id, agent_id, step_id, snapshot)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (run_id, agent_id, step_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, created_at = now()
	`, runID, string(agentID), stepID, payload)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) Latest(ctx context.Context, runID string, agentID agent.Ident) (checkpoint.Snapshot, string, bool, error) {
	var stepID string
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT step_id, snapshot FROM checkpoints
		WHERE run_id = $1 AND agent_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, runID, string(agentID)).Scan(&stepID, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.Snapshot{}, "", false, nil
	}
	if err != nil {
		return checkpoint.Snapshot{}, "", false, fmt.Errorf("postgres: latest checkpoint: %w", err)
	}

	var snapshot checkpoint.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return checkpoint.Snapshot{}, "", false, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
	}
	return snapshot, stepID, true, nil
}
