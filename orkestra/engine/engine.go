// Package engine defines the deterministic orchestration context exposed to
// orchestrator code, plus the supporting types (futures, retry policy,
// task options) shared by the replay engine and activity executor. It
// mirrors the shape of a workflow-engine abstraction, but here the only
// implementation is internal/replay: the core owns determinism itself
// rather than delegating to an external backend (spec §4.4).
package engine

import (
	"context"
	"time"

	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/registry"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

type (
	// Orchestrator is the polymorphic capability implemented by user
	// orchestration code: given a deterministic Context and a decoded
	// input, it runs to completion or suspends on a Future, returning
	// the final result or error. Equivalent in role to an activity's Run,
	// but executed only through the replay engine, never directly
	// (spec §4.2, §9 "replace inheritance hierarchies with polymorphic
	// capability").
	Orchestrator interface {
		Run(ctx Context, input any) (any, error)
	}

	// OrchestratorFunc adapts a plain function to Orchestrator.
	OrchestratorFunc func(ctx Context, input any) (any, error)

	// Activity is the polymorphic capability implemented by activity code.
	// Unlike Orchestrator, it runs with a plain context.Context and may
	// perform arbitrary side effects; it is invoked outside the replay
	// engine by the activity executor (spec §4.3).
	Activity interface {
		Run(ctx context.Context, input any) (any, error)
	}

	// ActivityFunc adapts a plain function to Activity.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// Context is the deterministic operation surface an orchestrator sees.
	// Every method that can suspend the current turn returns a Future
	// rather than blocking; only calling Future.Get may suspend (spec
	// §4.4.1: "operations return promises only; they never block the
	// turn"). Implementations must be single-threaded: Context is not
	// safe for concurrent use from multiple goroutines.
	Context interface {
		// Context returns a plain Go context for cancellation propagation
		// only. It must never be used for I/O, clocks, or randomness:
		// doing so breaks determinism.
		Context() context.Context

		// InstanceID returns the orchestration instance identifier.
		InstanceID() string

		// IsReplaying reports whether the turn is currently re-applying
		// journaled history rather than processing newly delivered
		// events. It transitions from true to false exactly once per
		// turn (spec §3 invariant 4). Orchestrator code may use it only
		// to suppress replay-duplicated side effects such as logging;
		// branching application logic on it is a determinism violation.
		IsReplaying() bool

		// Now returns the current time as recorded by the backend for
		// this turn. It is deterministic across replay (spec §4.4.7).
		Now() time.Time

		// NewGUID returns a deterministic, replay-stable unique value
		// derived from the instance ID, the turn's current time (Now), and
		// an internal sequence counter (spec §4.4.7).
		NewGUID() string

		// Logger returns a logger that silently drops calls while
		// IsReplaying is true, so replay never double-emits log lines
		// (spec §4.4.10).
		Logger() telemetry.Logger

		// ScheduleActivity schedules name for execution with input and
		// returns a Future for its result. It never blocks.
		ScheduleActivity(name registry.TaskName, input any, opts TaskOptions) Future

		// CallSubOrchestration starts a child orchestration and returns a
		// Future for its result. instanceID, if empty, is derived
		// deterministically from the parent instance ID and NewGUID.
		CallSubOrchestration(name registry.TaskName, instanceID string, input any, opts TaskOptions) Future

		// CreateTimer returns a Future that resolves once fireAt has
		// elapsed according to the backend's clock. Durations exceeding
		// the backend's maximum single-timer interval are transparently
		// chained into successive timers (spec §4.4.3). A cancelled
		// cancel resolves the Future as cancelled without removing the
		// timer from history.
		CreateTimer(fireAt time.Time, cancel CancellationToken) Future

		// WaitForExternalEvent returns a Future that resolves with the
		// next buffered or delivered payload for name. Events are
		// matched case-insensitively and delivered FIFO per name (spec
		// §4.4.4, §3 invariant 3).
		WaitForExternalEvent(name string, cancel CancellationToken) Future

		// SendEvent emits an event named name with payload to the
		// orchestration instance targetInstanceID.
		SendEvent(targetInstanceID, name string, payload any)

		// ContinueAsNew ends the current execution and immediately starts
		// a new execution of the same orchestrator with input, discarding
		// accumulated history (spec §4.4.8). Unless preserve is true, any
		// external events buffered but not yet consumed by this execution
		// are dropped; when preserve is true they are re-enqueued as
		// self-sent events against the new execution, in the order they
		// were originally delivered.
		ContinueAsNew(input any, preserve bool)

		// SetCustomStatus records a query-able status payload, replacing
		// any previously set value for this turn.
		SetCustomStatus(status any)
	}

	// Future represents a value that becomes available once the engine
	// observes its corresponding completion event. Get suspends the
	// current turn if the value is not yet available in the replay map;
	// suspension always ends the turn's evaluation entirely (spec
	// §4.4.1). Calling Get more than once returns the same result.
	Future interface {
		// Get decodes the resolved value into result, a non-nil pointer,
		// or returns the failure that completed it. If the Future is not
		// yet resolved, Get suspends the turn: callers never observe Get
		// returning without a resolved value.
		Get(result any) error

		// IsReady reports whether the Future is already resolved without
		// suspending the turn.
		IsReady() bool
	}

	// TaskOptions configures a scheduled activity or sub-orchestration
	// invocation.
	TaskOptions struct {
		// RetryPolicy governs retries of the scheduled task. A nil
		// pointer means "no automatic retry": the first failure
		// completes the Future with an error.
		RetryPolicy *RetryPolicy
		// Timeout bounds the total time, across retries, allowed for the
		// task to complete. Zero means no timeout. Ignored when
		// RetryPolicy.Handler is set: the handler decides for itself
		// whether elapsed time should stop the loop (spec §4.4.6).
		Timeout time.Duration
		// Cancel, if set, lets orchestrator code abort a retry loop
		// between attempts. It is checked only after a failed attempt,
		// never mid-flight (spec §4.4.6).
		Cancel CancellationToken
	}

	// CancellationToken lets orchestrator code cancel an in-flight timer
	// or external-event wait. Cancelling does not remove the
	// corresponding history entry; the backend still fires the timer or
	// may still deliver the event, and the result is ignored (spec
	// §4.4.3).
	CancellationToken interface {
		Cancel()
		IsCancelled() bool
	}

	// RetryPolicy configures the exponential backoff applied to a failed
	// task before it is rescheduled (spec §4.4.6). Grounded on the
	// backoff shape used elsewhere in the stack, generalized from a
	// single request/response retry loop to a durable, replay-safe one
	// driven entirely by engine timers rather than real sleeps.
	RetryPolicy struct {
		// MaxAttempts caps the number of scheduling attempts, including
		// the first. Zero means unlimited attempts (bounded only by
		// Timeout, if set).
		MaxAttempts int
		// FirstRetryInterval is the delay before the first retry.
		FirstRetryInterval time.Duration
		// BackoffCoefficient multiplies the delay after each attempt.
		// Values less than 1 are treated as 1 (constant backoff).
		BackoffCoefficient float64
		// MaxRetryInterval caps the delay between attempts regardless of
		// BackoffCoefficient growth. Zero means uncapped.
		MaxRetryInterval time.Duration
		// RetryableErrorTypes restricts automatic retry to failures whose
		// ErrorType matches one of these values. Empty means all
		// failures not explicitly marked non-retriable are retried.
		// Ignored when Handler is set.
		RetryableErrorTypes []string
		// Handler, if set, fully replaces the declarative MaxAttempts,
		// RetryableErrorTypes, and TaskOptions.Timeout checks: it alone
		// decides, after each failed attempt, whether the task is
		// rescheduled (spec §4.4.6: "an imperative retry handler ... is
		// supported as a full replacement for the declarative policy").
		// A failure already marked NonRetriable still stops the loop
		// without consulting Handler.
		Handler func(attempt int, lastFailure *failure.Details, elapsed time.Duration, cancel CancellationToken) bool
	}
)

// Run implements Orchestrator.
func (f OrchestratorFunc) Run(ctx Context, input any) (any, error) { return f(ctx, input) }

// Run implements Activity.
func (f ActivityFunc) Run(ctx context.Context, input any) (any, error) { return f(ctx, input) }

// cancellationToken is the only CancellationToken implementation. It is
// deliberately not replay-aware: whether it is cancelled is a decision
// orchestrator code makes deterministically (e.g. "cancel the timer once
// the event future is ready"), not something read back from history.
type cancellationToken struct{ cancelled bool }

// NewCancellationToken returns an uncancelled token.
func NewCancellationToken() CancellationToken { return &cancellationToken{} }

func (c *cancellationToken) Cancel()          { c.cancelled = true }
func (c *cancellationToken) IsCancelled() bool { return c.cancelled }

// Select returns the index of the first ready Future among futures,
// suspending the turn if none are yet ready. It is the building block for
// racing a wait against a timeout (spec §4.4.4).
func Select(futures ...Future) int {
	for i, f := range futures {
		if f.IsReady() {
			return i
		}
	}
	suspendTurn()
	panic("unreachable: suspendTurn must not return")
}

// suspendTurn is overridden by the replay engine via SetSuspendFunc so
// Select can end the current turn instead of spinning; it panics if
// called without an engine installed.
var suspendTurn = func() {
	panic("engine: Select used outside an orchestration context")
}

// SetSuspendFunc installs the turn-suspension hook used by Select. Called
// once by the replay engine package at init time.
func SetSuspendFunc(fn func()) {
	suspendTurn = fn
}

// DefaultRetryPolicy returns a ready-made exponential policy (unlimited
// attempts, 1s first interval, doubling, capped at 1h) for callers to pass
// as TaskOptions.RetryPolicy. It is never applied implicitly: a nil
// TaskOptions.RetryPolicy means no retry.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:        0,
		FirstRetryInterval: time.Second,
		BackoffCoefficient: 2,
		MaxRetryInterval:   time.Hour,
	}
}
