package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/event"
)

// EventStore is a Postgres-backed event.Store.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore constructs an EventStore bound to pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Append(ctx context.Context, ev event.Event) (event.Event, error) {
	out, err := s.AppendBatch(ctx, []event.Event{ev})
	if err != nil {
		return event.Event{}, err
	}
	return out[0], nil
}

func (s *EventStore) AppendBatch(ctx context.Context, evs []event.Event) ([]event.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin append batch: %w", err)
	}
	defer tx.Rollback(ctx)

	runID := evs[0].RunID
	if _, err := tx.Exec(ctx, `SELECT 1 FROM runs WHERE run_id = $1 FOR UPDATE`, runID); err != nil {
		return nil, fmt.Errorf("postgres: lock run events: %w", err)
	}
	var nextSeq int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM run_events WHERE run_id = $1`, runID).Scan(&nextSeq)
	if err != nil {
		return nil, fmt.Errorf("postgres: read event seq: %w", err)
	}

	batch := &pgx.Batch{}
	out := make([]event.Event, len(evs))
	for i, ev := range evs {
		nextSeq++
		ev.Seq = nextSeq
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO run_events (run_id, seq, v, ts, agent_id, step_id, span_id, parent_span_id, type, payload, contains_secrets)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, ev.RunID, ev.Seq, ev.V, ev.TS, string(ev.AgentID), ev.StepID, ev.SpanID, ev.ParentSpanID, string(ev.Type), payload, ev.Redaction.ContainsSecrets)
		out[i] = ev
	}

	br := tx.SendBatch(ctx, batch)
	for range evs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("postgres: insert event: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("postgres: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit append batch: %w", err)
	}
	return out, nil
}

func (s *EventStore) List(ctx context.Context, runID string, cursor int64, limit int) ([]event.Event, int64, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, seq, v, ts, agent_id, step_id, span_id, parent_span_id, type, payload, contains_secrets
		FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3
	`, runID, cursor, limit+1)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var agentID, typ string
		var payload []byte
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.V, &ev.TS, &agentID, &ev.StepID, &ev.SpanID, &ev.ParentSpanID, &typ, &payload, &ev.Redaction.ContainsSecrets); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.AgentID = agent.Ident(agentID)
		ev.Type = event.Type(typ)
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, 0, fmt.Errorf("postgres: unmarshal payload: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	more := len(out) > limit
	if more {
		out = out[:limit]
	}
	next := int64(0)
	if more {
		next = out[len(out)-1].Seq
	}
	return out, next, nil
}
