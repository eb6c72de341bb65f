// Package dispatch defines the two abstract interfaces the worker loop
// speaks against (spec §6): WorkDispatcher streams work items in, ActionSink
// submits a turn or activity's results back out. Neither the replay engine
// nor the activity executor know these interfaces exist; orkestra/worker is
// their only consumer and the orkestra/transport packages implement them,
// so a backend is swapped by
// changing what is passed to worker.New (spec §1: "storage/transport backend
// is out of scope", the interfaces are the seam).
package dispatch

import (
	"context"

	"github.com/orkestra/orkestra-go/orkestra/action"
	"github.com/orkestra/orkestra-go/orkestra/activity"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

// Kind distinguishes the two shapes of work a dispatcher can hand out.
type Kind int

const (
	// Orchestration identifies a work item carrying an orchestration turn:
	// the history accumulated so far plus the new events that woke it.
	Orchestration Kind = iota
	// Activity identifies a work item carrying a single activity invocation.
	Activity
)

func (k Kind) String() string {
	if k == Activity {
		return "activity"
	}
	return "orchestration"
}

// WorkItem is one unit of work handed to the worker loop. TaskName and
// RawInput are shared by both kinds (they name the orchestrator or the
// activity to resolve, and its serialized input respectively);
// HistoryBefore/NewEvents are only populated for Kind Orchestration.
type WorkItem struct {
	Kind       Kind
	InstanceID string

	// Token is an opaque handle the dispatcher uses to Ack/Nack this item.
	// The worker loop never inspects it.
	Token string

	// TaskName identifies the orchestrator or activity to resolve via the
	// registry (spec §4.2).
	TaskName registry.TaskName
	// RawInput is the task's serialized input: the activity's argument, or
	// an orchestration's original input (only consulted by the
	// orchestrator function itself, never re-derived from history).
	RawInput *string

	// HistoryBefore/NewEvents carry an orchestration turn's journaled
	// history and the events that woke it. Unused for Kind Activity.
	HistoryBefore []history.Event
	NewEvents     []history.Event

	// Resolver is forwarded to the registry factory resolving either the
	// orchestrator or the activity implementation (spec §4.2).
	Resolver registry.Resolver
}

// Result is what the worker loop reports back for one completed WorkItem.
// Exactly one of Actions (orchestration) or ActivityResponse (activity) is
// populated, mirroring WorkItem's Kind-tagged shape.
type Result struct {
	Kind       Kind
	InstanceID string
	Token      string

	Actions []action.Action

	ActivityResponse *activity.Response
}

// WorkDispatcher streams work items to the worker loop and accepts
// acknowledgements once an item has been durably handled. Poll blocks until
// a work item is available, ctx is canceled, or the backend is exhausted
// (spec §6: "Poll(ctx) (WorkItem, error) streaming interface").
type WorkDispatcher interface {
	// Poll returns the next available WorkItem. Implementations must
	// return ctx.Err() promptly when ctx is canceled so the worker loop's
	// drain/shutdown sequence is not blocked indefinitely.
	Poll(ctx context.Context) (WorkItem, error)

	// Ack confirms that item's Result has been durably submitted and the
	// backend may release or delete its underlying work record.
	Ack(ctx context.Context, item WorkItem) error

	// Nack reports that item could not be processed (a structurally
	// invalid payload, a panic during decode) and should be retried or
	// dead-lettered by the backend's own policy. reason explains why.
	Nack(ctx context.Context, item WorkItem, reason error) error
}

// ActionSink accepts the result of one completed work item: a turn's
// emitted Actions, or a finished activity's Response (spec §6:
// "Submit(ctx, Result) error").
type ActionSink interface {
	Submit(ctx context.Context, result Result) error
}
