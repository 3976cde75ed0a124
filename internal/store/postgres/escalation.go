package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/run"
)

// EscalationStore is a Postgres-backed escalation.Store. The unique
// (parent_run_id, child_run_id) primary key enforces the no-duplicate-
// dependency invariant at the database level (spec.md §4.8).
type EscalationStore struct {
	pool *pgxpool.Pool
}

// NewEscalationStore constructs an EscalationStore bound to pool.
func NewEscalationStore(pool *pgxpool.Pool) *EscalationStore {
	return &EscalationStore{pool: pool}
}

func (s *EscalationStore) Create(ctx context.Context, dep escalation.Dependency) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_dependencies (parent_run_id, child_run_id, tool_call_id, goal)
		VALUES ($1,$2,$3,$4)
	`, dep.ParentRunID, dep.ChildRunID, dep.ToolCallID, dep.Goal)
	if err != nil {
		if isUniqueViolation(err) {
			return escalation.ErrDuplicateDependency
		}
		return fmt.Errorf("postgres: create dependency: %w", err)
	}
	return nil
}

func (s *EscalationStore) Get(ctx context.Context, parentRunID, childRunID string) (escalation.Dependency, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT parent_run_id, child_run_id, tool_call_id, goal, child_status, child_result,
		       child_error_code, child_error_message, created_at, resolved_at
		FROM run_dependencies WHERE parent_run_id = $1 AND child_run_id = $2
	`, parentRunID, childRunID)
	dep, err := scanDependency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return escalation.Dependency{}, escalation.ErrNotFound
	}
	if err != nil {
		return escalation.Dependency{}, fmt.Errorf("postgres: get dependency: %w", err)
	}
	return dep, nil
}

func (s *EscalationStore) ListByParent(ctx context.Context, parentRunID string) ([]escalation.Dependency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT parent_run_id, child_run_id, tool_call_id, goal, child_status, child_result,
		       child_error_code, child_error_message, created_at, resolved_at
		FROM run_dependencies WHERE parent_run_id = $1
	`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dependencies: %w", err)
	}
	defer rows.Close()

	var out []escalation.Dependency
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dependency: %w", err)
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (s *EscalationStore) MarkResolved(ctx context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error {
	errCode, errMessage := "", ""
	if failure != nil {
		errCode, errMessage = failure.Code, failure.Message
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE run_dependencies
		SET child_status = $3, child_result = $4, child_error_code = $5, child_error_message = $6, resolved_at = $7
		WHERE parent_run_id = $1 AND child_run_id = $2
	`, parentRunID, childRunID, string(status), result, errCode, errMessage, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: mark dependency resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escalation.ErrNotFound
	}
	return nil
}

func scanDependency(row rowScanner) (escalation.Dependency, error) {
	var dep escalation.Dependency
	var status, errCode, errMessage string
	var resolvedAt *time.Time

	err := row.Scan(
		&dep.ParentRunID, &dep.ChildRunID, &dep.ToolCallID, &dep.Goal, &status, &dep.ChildResult,
		&errCode, &errMessage, &dep.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return escalation.Dependency{}, err
	}
	dep.ChildStatus = run.Status(status)
	if errCode != "" || errMessage != "" {
		dep.ChildError = &run.Failure{Code: errCode, Message: errMessage}
	}
	if resolvedAt != nil {
		dep.ResolvedAt = *resolvedAt
	}
	return dep, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
