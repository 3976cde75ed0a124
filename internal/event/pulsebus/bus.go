package pulsebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"goa.design/pulse/streaming"

	"github.com/agentruntime/core/internal/event"
)

// sinkName identifies the consumer group every subscriber joins. Pulse fans
// each entry out to every distinct sink name, so one shared name is correct
// here: live subscribers want every event, not a worker-pool split.
const sinkName = "rund_event_bus"

// subscriberBufferSize bounds how many undelivered events a slow subscriber
// may accumulate before further delivery blocks on Pulse's own backpressure
// (spec.md §4.1: "drops are permitted only under explicit backpressure").
const subscriberBufferSize = 256

// Bus implements event.Bus: Append/AppendBatch persist through store first,
// then publish an envelope to the run's Pulse stream so live subscribers see
// it without replaying history (spec.md §4.1, §1 Non-goals).
type Bus struct {
	store  event.Store
	client Client
	log    *slog.Logger
}

// NewBus constructs a Pulse-backed Bus. store durably persists events;
// client publishes and consumes the live fan-out stream.
func NewBus(store event.Store, client Client, log *slog.Logger) (*Bus, error) {
	if store == nil {
		return nil, event.ErrNilStore
	}
	if client == nil {
		return nil, fmt.Errorf("pulsebus: client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{store: store, client: client, log: log}, nil
}

func streamID(runID string) string { return fmt.Sprintf("run/%s", runID) }

func (b *Bus) Append(ctx context.Context, ev event.Event) error {
	persisted, err := b.store.Append(ctx, ev)
	if err != nil {
		return err
	}
	return b.publish(ctx, persisted)
}

func (b *Bus) AppendBatch(ctx context.Context, evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}
	persisted, err := b.store.AppendBatch(ctx, evs)
	if err != nil {
		return err
	}
	for _, ev := range persisted {
		if err := b.publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) List(ctx context.Context, runID string, cursor int64, limit int) ([]event.Event, int64, error) {
	return b.store.List(ctx, runID, cursor, limit)
}

// BroadcastToRun publishes ev to the run's stream without persisting it,
// used for llm.token events (spec.md §4.1).
func (b *Bus) BroadcastToRun(ctx context.Context, runID string, ev event.Event) error {
	ev.RunID = runID
	return b.publish(ctx, ev)
}

func (b *Bus) publish(ctx context.Context, ev event.Event) error {
	str, err := b.client.Stream(streamID(ev.RunID))
	if err != nil {
		return fmt.Errorf("pulsebus: open stream: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pulsebus: marshal event: %w", err)
	}
	if _, err := str.Add(ctx, string(ev.Type), payload); err != nil {
		return fmt.Errorf("pulsebus: publish: %w", err)
	}
	return nil
}

// Subscribe opens a Pulse consumer-group sink on runID's stream and forwards
// decoded events on the returned channel until the returned cancel func is
// called. It does not replay history: callers must List to catch up first
// (spec.md §4.1, §1 Non-goals).
func (b *Bus) Subscribe(runID string) (<-chan event.Event, func()) {
	out := make(chan event.Event, subscriberBufferSize)
	ctx, cancel := context.WithCancel(context.Background())

	str, err := b.client.Stream(streamID(runID))
	if err != nil {
		b.log.Error("pulsebus: open stream for subscribe failed", "run_id", runID, "error", err)
		close(out)
		cancel()
		return out, func() {}
	}
	sink, err := str.NewSink(ctx, sinkName)
	if err != nil {
		b.log.Error("pulsebus: open sink failed", "run_id", runID, "error", err)
		close(out)
		cancel()
		return out, func() {}
	}

	go b.consume(ctx, sink, out)

	var cancelled bool
	unsubscribe := func() {
		if cancelled {
			return
		}
		cancelled = true
		cancel()
		sink.Close(context.Background())
	}
	return out, unsubscribe
}

func (b *Bus) consume(ctx context.Context, sink Sink, out chan<- event.Event) {
	defer close(out)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			ev, err := decodeEnvelope(raw)
			if err != nil {
				b.log.Error("pulsebus: decode envelope failed", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Ack(ackCtx, raw); err != nil {
				b.log.Error("pulsebus: ack failed", "error", err)
			}
			cancel()
		}
	}
}

func decodeEnvelope(raw *streaming.Event) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(raw.Payload, &ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}
