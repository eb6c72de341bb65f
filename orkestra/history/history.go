// Package history defines the journaled event model a backend persists for
// one orchestration instance and redelivers to the replay engine. The core
// only consumes and produces these variants; the wire encoding is owned by
// the backend (spec §6).
package history

import (
	"time"

	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

// EventType tags the variant carried by an Event.
type EventType int

const (
	ExecutionStarted EventType = iota
	ExecutionCompleted
	ExecutionTerminated
	ExecutionSuspended
	ExecutionResumed
	ContinueAsNew
	TaskScheduled
	TaskCompleted
	TaskFailed
	SubOrchestrationCreated
	SubOrchestrationCompleted
	SubOrchestrationFailed
	TimerCreated
	TimerFired
	EventRaised
	EventSent
	GenericEvent
)

// String renders the EventType for logs and error messages.
func (t EventType) String() string {
	switch t {
	case ExecutionStarted:
		return "ExecutionStarted"
	case ExecutionCompleted:
		return "ExecutionCompleted"
	case ExecutionTerminated:
		return "ExecutionTerminated"
	case ExecutionSuspended:
		return "ExecutionSuspended"
	case ExecutionResumed:
		return "ExecutionResumed"
	case ContinueAsNew:
		return "ContinueAsNew"
	case TaskScheduled:
		return "TaskScheduled"
	case TaskCompleted:
		return "TaskCompleted"
	case TaskFailed:
		return "TaskFailed"
	case SubOrchestrationCreated:
		return "SubOrchestrationCreated"
	case SubOrchestrationCompleted:
		return "SubOrchestrationCompleted"
	case SubOrchestrationFailed:
		return "SubOrchestrationFailed"
	case TimerCreated:
		return "TimerCreated"
	case TimerFired:
		return "TimerFired"
	case EventRaised:
		return "EventRaised"
	case EventSent:
		return "EventSent"
	case GenericEvent:
		return "GenericEvent"
	default:
		return "Unknown"
	}
}

// Event is a single journaled history entry. EventID is assigned by the
// engine for scheduling variants (TaskScheduled, SubOrchestrationCreated,
// TimerCreated) and is monotonic within one execution (spec §3 invariant
// 1). Completion variants carry ScheduledID, the EventID of the scheduling
// entry they complete (spec §3 invariant 2).
type Event struct {
	// EventID uniquely identifies this entry within the current execution.
	EventID int64
	// Type selects which fields below are meaningful.
	Type EventType
	// Timestamp is the backend-assigned time of this event; it backs
	// the orchestration context's deterministic Now() (spec §4.4.7).
	Timestamp time.Time

	// TaskName identifies the activity/sub-orchestration for scheduling
	// and completion variants.
	TaskName registry.TaskName
	// ScheduledID references the EventID of the TaskScheduled,
	// SubOrchestrationCreated, or TimerCreated entry this completion
	// corresponds to.
	ScheduledID int64

	// Input carries the serialized payload for ExecutionStarted,
	// TaskScheduled, SubOrchestrationCreated, and EventRaised entries.
	Input *string
	// Output carries the serialized result for completion entries.
	Output *string
	// Failure carries failure details for TaskFailed,
	// SubOrchestrationFailed, ExecutionTerminated (with a reason), and
	// ExecutionCompleted-as-failed entries.
	Failure *failure.Details

	// FireAt is the scheduled fire time for TimerCreated entries.
	FireAt time.Time

	// EventName is the external event name for EventRaised/EventSent.
	EventName string
	// TargetInstanceID is the destination instance for EventSent.
	TargetInstanceID string

	// InstanceID, ParentInstanceID identify the orchestration this
	// ExecutionStarted entry belongs to and its parent, if any.
	InstanceID       string
	ParentInstanceID string

	// CustomStatus carries the serialized custom status for
	// SetCustomStatus-originated entries replayed back as part of state.
	CustomStatus *string

	// ContinuedInput carries the next execution's input for ContinueAsNew.
	ContinuedInput *string
}
