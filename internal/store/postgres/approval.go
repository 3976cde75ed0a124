package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentruntime/core/internal/approval"
)

// ApprovalStore is a Postgres-backed approval.Store.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

// NewApprovalStore constructs an ApprovalStore bound to pool.
func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{pool: pool}
}

func (s *ApprovalStore) Create(ctx context.Context, req approval.Request) error {
	args := req.Args
	if args == nil {
		args = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_requests (run_id, tool_call_id, tool_name, args, risk_level, reason, org_id, user_id, project_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, req.RunID, req.ToolCallID, req.ToolName, args, req.RiskLevel, req.Reason, req.Scope.OrgID, req.Scope.UserID, req.Scope.ProjectID)
	if err != nil {
		return fmt.Errorf("postgres: create approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, runID, toolCallID string) (approval.Request, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, tool_call_id, tool_name, args, risk_level, reason, org_id, user_id, project_id,
		       outcome, reject_reason, created_at, decided_at
		FROM approval_requests WHERE run_id = $1 AND tool_call_id = $2
	`, runID, toolCallID)
	req, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return approval.Request{}, false, nil
	}
	if err != nil {
		return approval.Request{}, false, fmt.Errorf("postgres: get approval request: %w", err)
	}
	return req, true, nil
}

func (s *ApprovalStore) Decide(ctx context.Context, runID, toolCallID string, outcome approval.Outcome, rejectReason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET outcome = $3, reject_reason = $4, decided_at = $5
		WHERE run_id = $1 AND tool_call_id = $2
	`, runID, toolCallID, string(outcome), rejectReason, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: decide approval request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrNotFound
	}
	return nil
}

func (s *ApprovalStore) ListPending(ctx context.Context, filter approval.ScopeFilter) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, tool_call_id, tool_name, args, risk_level, reason, org_id, user_id, project_id,
		       outcome, reject_reason, created_at, decided_at
		FROM approval_requests
		WHERE outcome = ''
		  AND ($1 = '' OR org_id = $1)
		  AND ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR project_id = $3)
	`, filter.OrgID, filter.UserID, filter.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (approval.Request, error) {
	var req approval.Request
	var args []byte
	var outcome string
	var decidedAt *time.Time

	err := row.Scan(
		&req.RunID, &req.ToolCallID, &req.ToolName, &args, &req.RiskLevel, &req.Reason,
		&req.Scope.OrgID, &req.Scope.UserID, &req.Scope.ProjectID,
		&outcome, &req.RejectReason, &req.CreatedAt, &decidedAt,
	)
	if err != nil {
		return approval.Request{}, err
	}
	req.Outcome = approval.Outcome(outcome)
	if decidedAt != nil {
		req.DecidedAt = *decidedAt
	}
	if len(args) > 0 {
		req.Args = args
	}
	return req, nil
}
