// Package telemetry defines the logging, metrics, and tracing contracts used
// throughout the run execution engine. Components depend on these interfaces
// rather than on any concrete observability backend so that production code
// can be backed by OpenTelemetry/clue while tests use no-op implementations.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured, leveled log messages scoped to a context. Keyvals
	// are alternating key/value pairs, following the teacher's clue/log
	// convention rather than a typed field builder.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for runtime operations (tool calls,
	// policy decisions, run terminations).
	Metrics interface {
		IncCounter(name string, value float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
	}

	// Tracer creates spans for step- and tool-call-level tracing.
	Tracer interface {
		StartSpan(ctx context.Context, name string) (context.Context, Span)
	}

	// Span represents a single unit of traced work.
	Span interface {
		SetError(err error)
		SetAttributes(keyvals ...any)
		End()
	}
)
