package event

import (
	"context"
	"errors"
	"sync"
)

type (
	// Store durably persists a run's event log in append order. Persisted
	// events are never mutated (spec.md §4.1).
	Store interface {
		// Append assigns the next sequence number for runID and persists ev.
		Append(ctx context.Context, ev Event) (Event, error)
		// AppendBatch persists evs atomically in the given order, used to
		// flush buffered token bursts.
		AppendBatch(ctx context.Context, evs []Event) ([]Event, error)
		// List returns up to limit events for runID with Seq > cursor, plus
		// the cursor to resume from (0 when exhausted).
		List(ctx context.Context, runID string, cursor int64, limit int) ([]Event, int64, error)
	}

	// Bus durably appends events and fans them out to live subscribers per
	// run (spec.md §4.1).
	Bus interface {
		Append(ctx context.Context, ev Event) error
		AppendBatch(ctx context.Context, evs []Event) error
		List(ctx context.Context, runID string, cursor int64, limit int) ([]Event, int64, error)
		// Subscribe returns a channel of events appended or broadcast for
		// runID after the call, and an Unsubscribe func. It does not replay
		// history: late subscribers must List to catch up first (spec.md
		// §4.1, §1 Non-goals).
		Subscribe(runID string) (<-chan Event, func())
		// BroadcastToRun pushes ev to all live subscribers for runID without
		// persisting it. Used for llm.token events.
		BroadcastToRun(ctx context.Context, runID string, ev Event) error
	}

	bus struct {
		store Store

		mu   sync.RWMutex
		subs map[string]map[*subscriber]struct{}
	}

	subscriber struct {
		ch chan Event
	}
)

// subscriberBufferSize bounds how many undelivered events a slow subscriber
// may accumulate before being dropped (spec.md §4.1: "drops are permitted
// only under explicit backpressure").
const subscriberBufferSize = 256

// ErrNilStore is returned by NewBus when store is nil.
var ErrNilStore = errors.New("event: store is required")

// NewBus constructs an in-process Bus backed by store for durable
// persistence and an in-memory fan-out table for live subscribers. This is
// the single-process development/test bus: it has no teacher analogue and
// does not survive a process restart or fan out across replicas. Production
// deployments should use pulsebus.Bus instead, which mirrors the teacher's
// features/stream/pulse package over goa.design/pulse and Redis.
func NewBus(store Store) (Bus, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	return &bus{store: store, subs: make(map[string]map[*subscriber]struct{})}, nil
}

func (b *bus) Append(ctx context.Context, ev Event) error {
	persisted, err := b.store.Append(ctx, ev)
	if err != nil {
		return err
	}
	b.fanout(persisted.RunID, persisted)
	return nil
}

func (b *bus) AppendBatch(ctx context.Context, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}
	persisted, err := b.store.AppendBatch(ctx, evs)
	if err != nil {
		return err
	}
	for _, ev := range persisted {
		b.fanout(ev.RunID, ev)
	}
	return nil
}

func (b *bus) List(ctx context.Context, runID string, cursor int64, limit int) ([]Event, int64, error) {
	return b.store.List(ctx, runID, cursor, limit)
}

func (b *bus) Subscribe(runID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}

	b.mu.Lock()
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[runID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[runID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.subs, runID)
				}
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, unsubscribe
}

func (b *bus) BroadcastToRun(_ context.Context, runID string, ev Event) error {
	b.fanout(runID, ev)
	return nil
}

// fanout delivers ev to every currently registered subscriber for runID. A
// subscriber whose buffer is full is dropped from delivery for this event
// (the persisted copy remains authoritative) rather than blocking the
// publisher, per spec.md §4.1.
func (b *bus) fanout(runID string, ev Event) {
	b.mu.RLock()
	set := b.subs[runID]
	subs := make([]*subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}
