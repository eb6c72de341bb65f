// Package action defines the decisions a single orchestration turn emits
// for the backend to durably record and act on: schedule a task, start a
// timer, send an event, or complete the execution. A turn's entire output
// is a []Action; the backend journals each as the corresponding history
// event before acting on it (spec §4.4.2, §6).
package action

import (
	"time"

	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

// Type tags the variant carried by an Action.
type Type int

const (
	ScheduleTask Type = iota
	ScheduleSubOrchestration
	StartTimer
	SendEvent
	Complete
	Fail
	ContinueAsNew
	SetCustomStatus
)

func (t Type) String() string {
	switch t {
	case ScheduleTask:
		return "ScheduleTask"
	case ScheduleSubOrchestration:
		return "ScheduleSubOrchestration"
	case StartTimer:
		return "StartTimer"
	case SendEvent:
		return "SendEvent"
	case Complete:
		return "Complete"
	case Fail:
		return "Fail"
	case ContinueAsNew:
		return "ContinueAsNew"
	case SetCustomStatus:
		return "SetCustomStatus"
	default:
		return "Unknown"
	}
}

// Action is one decision emitted by a turn. EventID identifies the
// scheduling entry this action corresponds to for ScheduleTask,
// ScheduleSubOrchestration, and StartTimer; it is the same ID the
// completing history event will reference back (spec §3 invariant 2).
type Action struct {
	Type    Type
	EventID int64

	TaskName registry.TaskName
	Input    *string

	FireAt time.Time

	EventName        string
	TargetInstanceID string
	EventPayload     *string

	Output  *string
	Failure *failure.Details

	ContinuedInput *string

	CustomStatus *string
}
