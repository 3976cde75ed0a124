package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/event"
)

const (
	defaultEventsCollection   = "run_events"
	defaultCountersCollection = "run_event_counters"
)

// EventStore is a MongoDB-backed event.Store, grounded on the teacher's
// features/runlog/mongo package: an eventDocument bson shape, InsertOne for
// append, and a Find with a sorted/limited cursor for List. Unlike the
// teacher's ObjectID-hex cursor, this store assigns a monotonically
// increasing int64 Seq per run (the event.Store contract spec.md §3 "totally
// ordered by Seq" requires), via the counters-collection increment pattern.
type EventStore struct {
	events   collection
	counters collection
	timeout  time.Duration
}

// NewEventStore constructs an EventStore bound to database on client, and
// ensures the (run_id, seq) index exists.
func NewEventStore(ctx context.Context, client *mongo.Client, database string) (*EventStore, error) {
	db := client.Database(database)
	events := wrapCollection(db.Collection(defaultEventsCollection))
	counters := wrapCollection(db.Collection(defaultCountersCollection))

	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "run_id", Value: 1},
			{Key: "seq", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := events.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("mongostore: ensure event index: %w", err)
	}
	return &EventStore{events: events, counters: counters, timeout: 10 * time.Second}, nil
}

type eventDocument struct {
	RunID          string    `bson:"run_id"`
	Seq            int64     `bson:"seq"`
	V              int       `bson:"v"`
	TS             time.Time `bson:"ts"`
	AgentID        string    `bson:"agent_id"`
	StepID         string    `bson:"step_id,omitempty"`
	SpanID         string    `bson:"span_id,omitempty"`
	ParentSpanID   string    `bson:"parent_span_id,omitempty"`
	Type           string    `bson:"type"`
	Payload        []byte    `bson:"payload"`
	ContainsSecret bool      `bson:"contains_secrets"`
}

func (s *EventStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	runID := evs[0].RunID
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": runID},
		bson.M{"$inc": bson.M{"seq": int64(len(evs))}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, fmt.Errorf("mongostore: reserve event seq: %w", err)
	}

	nextSeq := counter.Seq - int64(len(evs))
	out := make([]event.Event, len(evs))
	docs := make([]any, len(evs))
	for i, ev := range evs {
		nextSeq++
		ev.Seq = nextSeq
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("mongostore: marshal payload: %w", err)
		}
		docs[i] = eventDocument{
			RunID: ev.RunID, Seq: ev.Seq, V: ev.V, TS: ev.TS,
			AgentID: string(ev.AgentID), StepID: ev.StepID, SpanID: ev.SpanID, ParentSpanID: ev.ParentSpanID,
			Type: string(ev.Type), Payload: payload, ContainsSecret: ev.Redaction.ContainsSecrets,
		}
		out[i] = ev
	}

	for _, doc := range docs {
		if _, err := s.events.InsertOne(ctx, doc); err != nil {
			return nil, fmt.Errorf("mongostore: insert event: %w", err)
		}
	}
	return out, nil
}

func (s *EventStore) List(ctx context.Context, runID string, cursor int64, limit int) ([]event.Event, int64, error) {
	if limit <= 0 {
		limit = 200
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.events.Find(ctx,
		bson.M{"run_id": runID, "seq": bson.M{"$gt": cursor}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit+1)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("mongostore: list events: %w", err)
	}
	defer cur.Close(ctx)

	var out []event.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("mongostore: decode event: %w", err)
		}
		var ev event.Event
		ev.RunID, ev.Seq, ev.V, ev.TS = doc.RunID, doc.Seq, doc.V, doc.TS
		ev.AgentID, ev.StepID, ev.SpanID, ev.ParentSpanID = agent.Ident(doc.AgentID), doc.StepID, doc.SpanID, doc.ParentSpanID
		ev.Type = event.Type(doc.Type)
		ev.Redaction.ContainsSecrets = doc.ContainsSecret
		if err := json.Unmarshal(doc.Payload, &ev.Payload); err != nil {
			return nil, 0, fmt.Errorf("mongostore: unmarshal payload: %w", err)
		}
		out = append(out, ev)
	}
	if err := cur.Err(); err != nil {
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
