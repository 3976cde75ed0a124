package memstore

import (
	"context"
	"sync"

	"github.com/agentruntime/core/internal/event"
)

// EventStore is an in-memory event.Store, assigning sequence numbers per
// run in append order.
type EventStore struct {
	mu   sync.Mutex
	seqs map[string]int64
	logs map[string][]event.Event
}

// NewEventStore constructs an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{seqs: make(map[string]int64), logs: make(map[string][]event.Event)}
}

func (s *EventStore) Append(_ context.Context, ev event.Event) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ev), nil
}

func (s *EventStore) AppendBatch(_ context.Context, evs []event.Event) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(evs))
	for i, ev := range evs {
		out[i] = s.appendLocked(ev)
	}
	return out, nil
}

func (s *EventStore) appendLocked(ev event.Event) event.Event {
	s.seqs[ev.RunID]++
	ev.Seq = s.seqs[ev.RunID]
	s.logs[ev.RunID] = append(s.logs[ev.RunID], ev)
	return ev
}

func (s *EventStore) List(_ context.Context, runID string, cursor int64, limit int) ([]event.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[runID]
	var out []event.Event
	more := false
	for _, ev := range log {
		if ev.Seq <= cursor {
			continue
		}
		if limit > 0 && len(out) >= limit {
			more = true
			break
		}
		out = append(out, ev)
	}

	next := int64(0)
	if more {
		next = out[len(out)-1].Seq
	}
	return out, next, nil
}
