// Package telemetry defines the logging, metrics, and tracing interfaces used
// throughout the orchestration core. Implementations typically delegate to
// goa.design/clue and OpenTelemetry, but the interfaces are intentionally
// small so tests and alternate backends can provide lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used across the engine and worker loop.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// ReplayGuard wraps a Logger so that log calls made while an orchestration
// turn is replaying prior history are silently dropped. Only calls made
// after the turn's IsReplaying transitions to false reach the wrapped
// Logger. This lets orchestrator code log unconditionally without flooding
// observability backends with duplicate entries on every replay.
type ReplayGuard struct {
	inner      Logger
	isReplayed func() bool
}

// NewReplayGuard wraps inner with a guard that consults isReplaying before
// every call. isReplaying is typically the orchestration turn's own
// IsReplaying() method, so the guard always reflects the turn's current
// phase rather than a snapshot taken at construction time.
func NewReplayGuard(inner Logger, isReplaying func() bool) *ReplayGuard {
	if inner == nil {
		inner = NoopLogger{}
	}
	return &ReplayGuard{inner: inner, isReplayed: isReplaying}
}

// Debug drops the message during replay, otherwise delegates to the wrapped Logger.
func (g *ReplayGuard) Debug(ctx context.Context, msg string, keyvals ...any) {
	if g.isReplayed() {
		return
	}
	g.inner.Debug(ctx, msg, keyvals...)
}

// Info drops the message during replay, otherwise delegates to the wrapped Logger.
func (g *ReplayGuard) Info(ctx context.Context, msg string, keyvals ...any) {
	if g.isReplayed() {
		return
	}
	g.inner.Info(ctx, msg, keyvals...)
}

// Warn drops the message during replay, otherwise delegates to the wrapped Logger.
func (g *ReplayGuard) Warn(ctx context.Context, msg string, keyvals ...any) {
	if g.isReplayed() {
		return
	}
	g.inner.Warn(ctx, msg, keyvals...)
}

// Error drops the message during replay, otherwise delegates to the wrapped Logger.
func (g *ReplayGuard) Error(ctx context.Context, msg string, keyvals ...any) {
	if g.isReplayed() {
		return
	}
	g.inner.Error(ctx, msg, keyvals...)
}
