package memstore

import (
	"context"
	"sync"

	"github.com/agentruntime/core/internal/approval"
)

// ApprovalStore is an in-memory approval.Store.
type ApprovalStore struct {
	mu   sync.Mutex
	reqs map[string]approval.Request
}

// NewApprovalStore constructs an empty ApprovalStore.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{reqs: make(map[string]approval.Request)}
}

func approvalKey(runID, toolCallID string) string { return runID + "/" + toolCallID }

func (s *ApprovalStore) Create(_ context.Context, req approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[approvalKey(req.RunID, req.ToolCallID)] = req
	return nil
}

func (s *ApprovalStore) Get(_ context.Context, runID, toolCallID string) (approval.Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[approvalKey(runID, toolCallID)]
	return req, ok, nil
}

func (s *ApprovalStore) Decide(_ context.Context, runID, toolCallID string, outcome approval.Outcome, rejectReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := approvalKey(runID, toolCallID)
	req, ok := s.reqs[k]
	if !ok {
		return approval.ErrNotFound
	}
	req.Outcome = outcome
	req.RejectReason = rejectReason
	s.reqs[k] = req
	return nil
}

func (s *ApprovalStore) ListPending(_ context.Context, filter approval.ScopeFilter) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Request
	for _, req := range s.reqs {
		if req.Outcome != "" {
			continue
		}
		if filter.OrgID != "" && req.Scope.OrgID != filter.OrgID {
			continue
		}
		if filter.UserID != "" && req.Scope.UserID != filter.UserID {
			continue
		}
		if filter.ProjectID != "" && req.Scope.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}
