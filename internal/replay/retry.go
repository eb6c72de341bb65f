package replay

import (
	"errors"
	"math"
	"time"

	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
)

// retryingFuture drives a scheduling attempt loop transparently inside
// Get: on a retriable failure it creates a durable timer for the backoff
// delay, waits for it, and reschedules, repeating until success, a
// non-retriable failure, the declarative policy's stop conditions are
// met, or (if set) the imperative Handler says stop (spec §4.4.6).
// Because the whole loop replays deterministically from the
// historyIndex on every turn, a suspension anywhere inside it (an
// unresolved schedule or timer) simply ends the turn; resuming it next
// turn re-walks the same steps, which now resolve from history up to the
// first genuinely new one.
type retryingFuture struct {
	ctx    *orchestrationContext
	policy *engine.RetryPolicy

	// timeout is TaskOptions.Timeout, the overall elapsed-time budget
	// across every attempt. Zero means no deadline. Ignored when
	// policy.Handler is set.
	timeout time.Duration
	// cancel, if set, is checked between attempts (never mid-flight).
	cancel engine.CancellationToken
	// startedAt is the deterministic timestamp the retry loop's elapsed
	// time is measured from: the journaled moment of the first
	// scheduling attempt, not wall-clock.
	startedAt time.Time

	attempt  func() engine.Future
	current  engine.Future
	attemptN int
}

// IsReady reports whether the current attempt has completed. It is an
// approximation for a retrying future: a completed-but-retriable failure
// reads as "ready" here even though Get would transparently retry it.
// Callers that need the authoritative outcome should call Get.
func (r *retryingFuture) IsReady() bool {
	return r.current.IsReady()
}

func (r *retryingFuture) Get(result any) error {
	for {
		err := r.current.Get(nil)
		if err == nil {
			return r.current.Get(result)
		}

		var details *failure.Details
		if !errors.As(err, &details) {
			details = failure.FromError(err)
		}
		if details.NonRetriable {
			return err
		}

		elapsed := r.ctx.currentTime.Sub(r.startedAt)
		if r.policy.Handler != nil {
			// A full replacement for the declarative policy: MaxAttempts,
			// RetryableErrorTypes, and Timeout are not consulted at all
			// (spec §4.4.6).
			if !r.policy.Handler(r.attemptN, details, elapsed, r.cancel) {
				return err
			}
		} else {
			if !retryableFailure(r.policy, details) {
				return err
			}
			if r.policy.MaxAttempts > 0 && r.attemptN >= r.policy.MaxAttempts {
				return err
			}
			if r.timeout > 0 && elapsed >= r.timeout {
				return err
			}
		}

		if r.cancel != nil && r.cancel.IsCancelled() {
			return failure.New(failure.TypeCancelled, "retry loop cancelled between attempts")
		}

		delay := backoffDelay(r.policy, r.attemptN)
		r.attemptN++
		timer := r.ctx.CreateTimer(r.ctx.currentTime.Add(delay), nil)
		if tErr := timer.Get(nil); tErr != nil {
			return tErr
		}
		r.current = r.attempt()
	}
}

// retryableFailure reports whether details should be retried under
// policy. An empty RetryableErrorTypes list means "retry anything not
// already marked non-retriable" (spec §4.4.6).
func retryableFailure(policy *engine.RetryPolicy, details *failure.Details) bool {
	if len(policy.RetryableErrorTypes) == 0 {
		return true
	}
	for _, t := range policy.RetryableErrorTypes {
		if details.IsA(t) {
			return true
		}
	}
	return false
}

// backoffDelay computes the delay before attempt+1, clamped to
// MaxRetryInterval (spec §4.4.6: "delay = min(firstInterval ×
// backoffCoefficient^(attempts-1), maxInterval)").
func backoffDelay(policy *engine.RetryPolicy, attempt int) time.Duration {
	coeff := policy.BackoffCoefficient
	if coeff < 1 {
		coeff = 1
	}
	first := policy.FirstRetryInterval
	if first <= 0 {
		first = time.Second
	}
	delay := time.Duration(float64(first) * math.Pow(coeff, float64(attempt-1)))
	if policy.MaxRetryInterval > 0 && delay > policy.MaxRetryInterval {
		delay = policy.MaxRetryInterval
	}
	return delay
}
