package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/run"
)

const defaultRunsCollection = "runs"

// RunStore is a MongoDB-backed run.Store, grounded on the teacher's
// features/run/mongo package: a runDocument bson shape, a unique index on
// run_id, and FindOne/UpdateOne against a wrapped *mongo.Collection.
type RunStore struct {
	coll    collection
	timeout time.Duration
}

// NewRunStore constructs a RunStore bound to database/"runs" on client, and
// ensures the unique run_id index exists (spec.md §5).
func NewRunStore(ctx context.Context, client *mongo.Client, database string) (*RunStore, error) {
	coll := wrapCollection(client.Database(database).Collection(defaultRunsCollection))
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("mongostore: ensure run index: %w", err)
	}
	return &RunStore{coll: coll, timeout: 10 * time.Second}, nil
}

type runDocument struct {
	RunID       string                   `bson:"run_id"`
	OrgID       string                   `bson:"org_id,omitempty"`
	UserID      string                   `bson:"user_id,omitempty"`
	ProjectID   string                   `bson:"project_id,omitempty"`
	SessionKey  string                   `bson:"session_key,omitempty"`
	Input       string                   `bson:"input"`
	Status      string                   `bson:"status"`
	AgentID     string                   `bson:"agent_id,omitempty"`
	GroupID     string                   `bson:"group_id,omitempty"`
	LLMProvider string                   `bson:"llm_provider,omitempty"`
	LLMModel    string                   `bson:"llm_model,omitempty"`
	LLMTemp     float64                  `bson:"llm_temperature,omitempty"`
	LLMMaxTok   int                      `bson:"llm_max_tokens,omitempty"`
	ParentRunID string                   `bson:"parent_run_id,omitempty"`
	Allowed     []string                 `bson:"delegated_allowed_tools,omitempty"`
	Denied      []string                 `bson:"delegated_denied_tools,omitempty"`
	Result      string                   `bson:"result,omitempty"`
	ErrorCode   string                   `bson:"error_code,omitempty"`
	ErrorMsg    string                   `bson:"error_message,omitempty"`
	ErrorDetail map[string]any           `bson:"error_details,omitempty"`
	Labels      map[string]string        `bson:"labels,omitempty"`
	CreatedAt   time.Time                `bson:"created_at"`
	StartedAt   time.Time                `bson:"started_at,omitempty"`
	EndedAt     time.Time                `bson:"ended_at,omitempty"`
	CancelledAt time.Time                `bson:"cancelled_at,omitempty"`
	SuspendedAt time.Time                `bson:"suspended_at,omitempty"`
}

func fromRecord(rec run.Record) runDocument {
	doc := runDocument{
		RunID:       rec.RunID,
		OrgID:       rec.Scope.OrgID,
		UserID:      rec.Scope.UserID,
		ProjectID:   rec.Scope.ProjectID,
		SessionKey:  rec.SessionKey,
		Input:       rec.Input,
		Status:      string(rec.Status),
		AgentID:     string(rec.AgentID),
		GroupID:     rec.GroupID,
		LLMProvider: rec.LLM.Provider,
		LLMModel:    rec.LLM.Model,
		LLMTemp:     rec.LLM.Temperature,
		LLMMaxTok:   rec.LLM.MaxTokens,
		ParentRunID: rec.ParentRunID,
		Result:      rec.Result,
		Labels:      rec.Labels,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
		CancelledAt: rec.CancelledAt,
		SuspendedAt: rec.SuspendedAt,
	}
	if rec.Delegated != nil {
		doc.Allowed, doc.Denied = rec.Delegated.AllowedTools, rec.Delegated.DeniedTools
	}
	if rec.Error != nil {
		doc.ErrorCode, doc.ErrorMsg, doc.ErrorDetail = rec.Error.Code, rec.Error.Message, rec.Error.Details
	}
	return doc
}

func (doc runDocument) toRecord() run.Record {
	rec := run.Record{
		RunID:       doc.RunID,
		Scope:       run.Scope{OrgID: doc.OrgID, UserID: doc.UserID, ProjectID: doc.ProjectID},
		SessionKey:  doc.SessionKey,
		Input:       doc.Input,
		Status:      run.Status(doc.Status),
		AgentID:     agent.Ident(doc.AgentID),
		GroupID:     doc.GroupID,
		LLM:         run.LLMConfig{Provider: doc.LLMProvider, Model: doc.LLMModel, Temperature: doc.LLMTemp, MaxTokens: doc.LLMMaxTok},
		ParentRunID: doc.ParentRunID,
		Result:      doc.Result,
		Labels:      doc.Labels,
		CreatedAt:   doc.CreatedAt,
		StartedAt:   doc.StartedAt,
		EndedAt:     doc.EndedAt,
		CancelledAt: doc.CancelledAt,
		SuspendedAt: doc.SuspendedAt,
	}
	if len(doc.Allowed) > 0 || len(doc.Denied) > 0 {
		rec.Delegated = &run.DelegatedPermissions{AllowedTools: doc.Allowed, DeniedTools: doc.Denied}
	}
	if doc.ErrorCode != "" || doc.ErrorMsg != "" {
		rec.Error = &run.Failure{Code: doc.ErrorCode, Message: doc.ErrorMsg, Details: doc.ErrorDetail}
	}
	return rec
}

func (s *RunStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Create inserts a new run document.
func (s *RunStore) Create(ctx context.Context, rec run.Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.coll.InsertOne(ctx, fromRecord(rec))
	if err != nil {
		return fmt.Errorf("mongostore: create run: %w", err)
	}
	return nil
}

// Get loads a run document by run_id.
func (s *RunStore) Get(ctx context.Context, runID string) (run.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return run.Record{}, run.ErrNotFound
		}
		return run.Record{}, fmt.Errorf("mongostore: get run: %w", err)
	}
	return doc.toRecord(), nil
}

// Transition applies the state machine's rules under an optimistic
// read-check-write: it loads the current document, validates the
// transition, applies mutate, then writes back filtered on the status it
// read, so a concurrent transition aborts this one with ErrIllegalTransition
// rather than clobbering it (spec.md §4.9, §5).
func (s *RunStore) Transition(ctx context.Context, runID string, to run.Status, mutate func(*run.Record)) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc runDocument
	if err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return run.ErrNotFound
		}
		return fmt.Errorf("mongostore: transition load: %w", err)
	}
	rec := doc.toRecord()

	if err := run.Transition(rec.Status, to); err != nil {
		return err
	}
	if rec.Status == to || (to == run.StatusCancelled && rec.Status.IsTerminal()) {
		return nil
	}

	prevStatus := rec.Status
	rec.Status = to
	if mutate != nil {
		mutate(&rec)
	}
	switch to {
	case run.StatusRunning:
		if rec.StartedAt.IsZero() {
			rec.StartedAt = time.Now()
		}
	case run.StatusCompleted, run.StatusFailed, run.StatusCancelled:
		rec.EndedAt = time.Now()
		if to == run.StatusCancelled {
			rec.CancelledAt = time.Now()
		}
	case run.StatusSuspended:
		rec.SuspendedAt = time.Now()
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"run_id": runID, "status": string(prevStatus)},
		bson.M{"$set": fromRecord(rec)},
	)
	if err != nil {
		return fmt.Errorf("mongostore: transition update: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: concurrent transition raced run %s", run.ErrIllegalTransition, runID)
	}
	return nil
}

// ListByParent returns every run whose parent_run_id equals parentRunID, for
// the escalation tracker.
func (s *RunStore) ListByParent(ctx context.Context, parentRunID string) ([]run.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"parent_run_id": parentRunID})
	if err != nil {
		return nil, fmt.Errorf("mongostore: list by parent: %w", err)
	}
	defer cur.Close(ctx)

	var out []run.Record
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode run: %w", err)
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
}
