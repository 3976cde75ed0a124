package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentruntime/core/internal/run"
)

// RunStore is a Postgres-backed run.Store.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore constructs a RunStore bound to pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) Create(ctx context.Context, rec run.Record) error {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("postgres: marshal labels: %w", err)
	}
	allowed, denied := delegatedSlices(rec.Delegated)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (
			run_id, org_id, user_id, project_id, session_key, input, status,
			agent_id, group_id, llm_provider, llm_model, llm_temperature, llm_max_tokens,
			parent_run_id, delegated_allowed_tools, delegated_denied_tools, labels
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		rec.RunID, rec.Scope.OrgID, rec.Scope.UserID, rec.Scope.ProjectID, rec.SessionKey, rec.Input, string(rec.Status),
		string(rec.AgentID), rec.GroupID, rec.LLM.Provider, rec.LLM.Model, rec.LLM.Temperature, rec.LLM.MaxTokens,
		rec.ParentRunID, allowed, denied, labels,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, runID string) (run.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, org_id, user_id, project_id, session_key, input, status,
		       agent_id, group_id, llm_provider, llm_model, llm_temperature, llm_max_tokens,
		       parent_run_id, delegated_allowed_tools, delegated_denied_tools,
		       result, error_code, error_message, error_details, labels,
		       created_at, started_at, ended_at, cancelled_at, suspended_at
		FROM runs WHERE run_id = $1
	`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.Record{}, run.ErrNotFound
	}
	if err != nil {
		return run.Record{}, fmt.Errorf("postgres: get run: %w", err)
	}
	return rec, nil
}

func (s *RunStore) Transition(ctx context.Context, runID string, to run.Status, mutate func(*run.Record)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT run_id, org_id, user_id, project_id, session_key, input, status,
		       agent_id, group_id, llm_provider, llm_model, llm_temperature, llm_max_tokens,
		       parent_run_id, delegated_allowed_tools, delegated_denied_tools,
		       result, error_code, error_message, error_details, labels,
		       created_at, started_at, ended_at, cancelled_at, suspended_at
		FROM runs WHERE run_id = $1 FOR UPDATE
	`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: transition select: %w", err)
	}

	if err := run.Transition(rec.Status, to); err != nil {
		return err
	}
	if rec.Status == to || (to == run.StatusCancelled && rec.Status.IsTerminal()) {
		return nil
	}
	rec.Status = to
	if mutate != nil {
		mutate(&rec)
	}

	var errDetails []byte
	if rec.Error != nil && rec.Error.Details != nil {
		errDetails, err = json.Marshal(rec.Error.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal error details: %w", err)
		}
	}
	errCode, errMessage := "", ""
	if rec.Error != nil {
		errCode, errMessage = rec.Error.Code, rec.Error.Message
	}

	_, err = tx.Exec(ctx, `
		UPDATE runs SET status=$2, result=$3, error_code=$4, error_message=$5, error_details=$6,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			ended_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN now() ELSE ended_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
			suspended_at = CASE WHEN $2 = 'suspended' THEN now() ELSE suspended_at END
		WHERE run_id = $1
	`, runID, string(rec.Status), rec.Result, errCode, errMessage, errDetails)
	if err != nil {
		return fmt.Errorf("postgres: transition update: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *RunStore) ListByParent(ctx context.Context, parentRunID string) ([]run.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, org_id, user_id, project_id, session_key, input, status,
		       agent_id, group_id, llm_provider, llm_model, llm_temperature, llm_max_tokens,
		       parent_run_id, delegated_allowed_tools, delegated_denied_tools,
		       result, error_code, error_message, error_details, labels,
		       created_at, started_at, ended_at, cancelled_at, suspended_at
		FROM runs WHERE parent_run_id = $1
	`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by parent: %w", err)
	}
	defer rows.Close()

	var out []run.Record
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (run.Record, error) {
	var rec run.Record
	var status, errCode, errMessage string
	var errDetails, labels []byte
	var allowed, denied []string
	var startedAt, endedAt, cancelledAt, suspendedAt *time.Time

	err := row.Scan(
		&rec.RunID, &rec.Scope.OrgID, &rec.Scope.UserID, &rec.Scope.ProjectID, &rec.SessionKey, &rec.Input, &status,
		&rec.AgentID, &rec.GroupID, &rec.LLM.Provider, &rec.LLM.Model, &rec.LLM.Temperature, &rec.LLM.MaxTokens,
		&rec.ParentRunID, &allowed, &denied,
		&rec.Result, &errCode, &errMessage, &errDetails, &labels,
		&rec.CreatedAt, &startedAt, &endedAt, &cancelledAt, &suspendedAt,
	)
	if err != nil {
		return run.Record{}, err
	}

	for _, ts := range []struct{ dst, src *time.Time }{
		{&rec.StartedAt, startedAt}, {&rec.EndedAt, endedAt},
		{&rec.CancelledAt, cancelledAt}, {&rec.SuspendedAt, suspendedAt},
	} {
		if ts.src != nil {
			*ts.dst = *ts.src
		}
	}
	rec.Status = run.Status(status)
	if len(allowed) > 0 || len(denied) > 0 {
		rec.Delegated = &run.DelegatedPermissions{AllowedTools: allowed, DeniedTools: denied}
	}
	if errCode != "" || errMessage != "" {
		rec.Error = &run.Failure{Code: errCode, Message: errMessage}
		if len(errDetails) > 0 {
			if err := json.Unmarshal(errDetails, &rec.Error.Details); err != nil {
				return run.Record{}, fmt.Errorf("unmarshal error details: %w", err)
			}
		}
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &rec.Labels); err != nil {
			return run.Record{}, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	return rec, nil
}

func delegatedSlices(d *run.DelegatedPermissions) ([]string, []string) {
	if d == nil {
		return nil, nil
	}
	return d.AllowedTools, d.DeniedTools
}
