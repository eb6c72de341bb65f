// Package replay implements the deterministic replay engine: the part of
// the system that re-runs orchestrator code against journaled history and
// turns its suspendable operations into a list of actions for the backend
// to journal next (spec §4.4, "the heart of the system"). Nothing here
// performs I/O; every input is already in memory and every output is a
// plain value.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/orkestra/orkestra-go/orkestra/action"
	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

func init() {
	engine.SetSuspendFunc(suspend)
}

// Result is the output of one turn: the ordered actions the backend must
// journal and route, an optional updated custom status, and a terminal
// outcome if the orchestration finished (spec §4.2).
type Result struct {
	Actions        []action.Action
	CustomStatus   *string
	Completed      bool
	Output         *string
	Failed         bool
	Failure        *failure.Details
	ContinuedNew   bool
	ContinuedInput *string
}

// ExecuteTurn runs one deterministic turn of orchestrator against
// historyBefore (already-journaled events from prior turns) and newEvents
// (events delivered since the last turn), per the algorithm in spec
// §4.4.2. input is the orchestration's original input, already decoded;
// it is only consulted by orchestrator.Run, never re-derived from
// history.
func ExecuteTurn(ctx context.Context, instanceID string, orchestrator engine.Orchestrator, input any, historyBefore, newEvents []history.Event, c codec.Codec, logger telemetry.Logger) (result Result, err error) {
	// A turn whose events leave the orchestration suspended (an
	// ExecutionSuspended not yet followed by ExecutionResumed) emits nothing.
	suspended := false
	for _, ev := range append(append([]history.Event{}, historyBefore...), newEvents...) {
		if ev.Type == history.ExecutionSuspended || ev.Type == history.ExecutionResumed {
			suspended = ev.Type == history.ExecutionSuspended
		}
	}
	if suspended {
		return Result{}, nil
	}

	idx := buildHistoryIndex(historyBefore, newEvents)
	currentTime := turnTimestamp(historyBefore, newEvents)
	oc := newOrchestrationContext(ctx, instanceID, idx, c, logger, currentTime)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		actions := oc.actions
		switch v := r.(type) {
		case turnSuspended:
			// Turn ends with whatever actions were collected so far; no
			// terminal outcome yet.
		case continueAsNewSignal:
			result.ContinuedNew = true
			result.ContinuedInput = v.input
			actions = append(actions, action.Action{Type: action.ContinueAsNew, ContinuedInput: v.input})
			// Carried-over events are re-enqueued as self-sent events
			// against the new execution, in their original delivery
			// order (spec §4.4.8).
			for _, ev := range v.carryover {
				actions = append(actions, action.Action{
					Type:             action.SendEvent,
					TargetInstanceID: oc.instanceID,
					EventName:        ev.name,
					EventPayload:     ev.payload,
				})
			}
		case *failure.Details:
			result.Failed = true
			result.Failure = v
			actions = append(actions, action.Action{Type: action.Fail, Failure: v})
		default:
			details := failure.Errorf("orchestration panicked: %v", v)
			result.Failed = true
			result.Failure = details
			actions = append(actions, action.Action{Type: action.Fail, Failure: details})
		}
		result.Actions = withCustomStatus(actions, oc.customStatus)
		result.CustomStatus = oc.customStatus
	}()

	output, runErr := orchestrator.Run(oc, input)
	result.CustomStatus = oc.customStatus
	if runErr != nil {
		details := failure.FromError(runErr)
		result.Failed = true
		result.Failure = details
		result.Actions = withCustomStatus(append(oc.actions, action.Action{Type: action.Fail, Failure: details}), oc.customStatus)
		return result, nil
	}

	encoded, encErr := c.Encode(output)
	if encErr != nil {
		return result, fmt.Errorf("replay: encoding orchestration output: %w", encErr)
	}
	result.Completed = true
	result.Output = encoded
	// A completion already journaled in historyBefore is not a new
	// decision, so replaying a finished orchestration emits no Complete.
	alreadyCompleted := false
	for _, ev := range historyBefore {
		if ev.Type == history.ExecutionCompleted {
			alreadyCompleted = true
		}
	}
	actions := oc.actions
	if !alreadyCompleted {
		actions = append(actions, action.Action{Type: action.Complete, Output: encoded})
	}
	result.Actions = withCustomStatus(actions, oc.customStatus)
	return result, nil
}

// withCustomStatus appends a SetCustomStatus action when the turn set one,
// so the backend journals it alongside whatever else the turn decided.
func withCustomStatus(actions []action.Action, status *string) []action.Action {
	if status == nil {
		return actions
	}
	return append(actions, action.Action{Type: action.SetCustomStatus, CustomStatus: status})
}

// turnTimestamp derives the deterministic "current time" for a turn: the
// timestamp of the most recent event the turn has seen, since
// currentUtcTime must reflect journaled time, not wall-clock (spec
// §4.4.7).
func turnTimestamp(historyBefore, newEvents []history.Event) time.Time {
	if len(newEvents) > 0 {
		return newEvents[len(newEvents)-1].Timestamp
	}
	if len(historyBefore) > 0 {
		return historyBefore[len(historyBefore)-1].Timestamp
	}
	return time.Time{}
}
