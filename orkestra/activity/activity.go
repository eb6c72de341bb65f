// Package activity implements the activity executor (spec §4.3): given a
// work item naming a registered activity and a serialized input, it
// resolves the implementation, decodes the input, invokes it, and
// serializes the result or converts a thrown error into failure details.
// Unlike the replay engine, the executor performs real I/O and runs
// concurrently across work items; it has no determinism requirement of
// its own.
package activity

import (
	"context"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/registry"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

type (
	// Request describes one activity invocation as delivered by the
	// dispatcher: a task name, the resolver to hand the registry factory,
	// and the raw serialized input.
	Request struct {
		Name       registry.TaskName
		Resolver   registry.Resolver
		RawInput   *string
		InstanceID string
	}

	// Response is what the executor reports back for routing to the
	// action sink: either RawOutput or Failure is set, never both.
	Response struct {
		TaskName  registry.TaskName
		RawOutput *string
		Failure   *failure.Details
	}

	// Executor resolves and invokes activities registered in a Registry,
	// using Codec for input/output (de)serialization.
	Executor struct {
		registry *registry.Registry
		codec    codec.Codec
		logger   telemetry.Logger
		tracer   telemetry.Tracer
	}

	// Option configures an Executor.
	Option func(*Executor)
)

// WithLogger configures the executor's logger. The noop logger is used
// when omitted.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithTracer configures the executor's tracer. The noop tracer is used
// when omitted.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// New returns an Executor backed by reg and c.
func New(reg *registry.Registry, c codec.Codec, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		codec:    c,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute runs one activity invocation to completion. It never returns a
// Go error for an activity-level failure: those are reported via
// Response.Failure so the caller can route them back into history as a
// TaskFailed event (spec §4.3, §7).
func (e *Executor) Execute(ctx context.Context, req Request) Response {
	ctx, span := e.tracer.Start(ctx, "activity.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("orkestra.task_name", req.Name.String()),
			attribute.String("orkestra.instance_id", req.InstanceID),
		),
	)
	defer span.End()

	def, instance, err := e.registry.Lookup(registry.KindActivity, req.Name, req.Resolver)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown activity")
		return Response{TaskName: req.Name, Failure: failure.FromError(err)}
	}

	act, ok := instance.(engine.Activity)
	if !ok {
		if fn, ok := instance.(func(context.Context, any) (any, error)); ok {
			act = engine.ActivityFunc(fn)
		} else {
			details := failure.NewNonRetriable(failure.TypeUnknownTask,
				"registered instance for "+req.Name.String()+" does not implement engine.Activity")
			span.RecordError(details)
			span.SetStatus(codes.Error, "activity type mismatch")
			return Response{TaskName: req.Name, Failure: details}
		}
	}

	input, err := e.decodeInput(req.RawInput, def.InputType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "input decode failed")
		return Response{TaskName: req.Name, Failure: failure.FromError(err)}
	}

	e.logger.Debug(ctx, "activity starting", "task", req.Name.String())
	output, runErr := e.invoke(ctx, act, input)
	if runErr != nil {
		details := failure.FromError(runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "activity failed")
		e.logger.Warn(ctx, "activity failed", "task", req.Name.String(), "error_type", details.ErrorType)
		return Response{TaskName: req.Name, Failure: details}
	}

	encoded, err := e.codec.Encode(output)
	if err != nil {
		details := failure.FromError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "output encode failed")
		return Response{TaskName: req.Name, Failure: details}
	}

	e.logger.Debug(ctx, "activity completed", "task", req.Name.String())
	return Response{TaskName: req.Name, RawOutput: encoded}
}

// decodeInput decodes raw into inputType, or returns a non-retriable
// InputTypeMismatch failure if the payload's shape does not satisfy
// inputType. A nil/null payload decodes to the zero value of inputType
// (spec §4.3).
func (e *Executor) decodeInput(raw *string, inputType reflect.Type) (any, error) {
	if inputType == nil {
		inputType = reflect.TypeOf((*any)(nil)).Elem()
	}
	value, err := e.codec.Decode(raw, inputType)
	if err != nil {
		return nil, failure.NewNonRetriable(failure.TypeInputTypeMismatch, err.Error())
	}
	if value == nil {
		return reflect.Zero(inputType).Interface(), nil
	}
	return value, nil
}

// invoke recovers a panicking activity implementation into a failure
// rather than crashing the worker process hosting it.
func (e *Executor) invoke(ctx context.Context, act engine.Activity, input any) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failure.Errorf("activity panicked: %v", r)
		}
	}()
	return act.Run(ctx, input)
}
