package replay

import (
	"strings"

	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

// schedulingRecord captures the shape of a previously journaled scheduling
// entry (TaskScheduled, SubOrchestrationCreated, TimerCreated), used to
// detect nondeterministic replay: if code now requests a different
// operation at the same EventID, the orchestrator is not reproducing its
// prior execution (spec §4.4.2, §7 NondeterministicExecutionError).
type schedulingRecord struct {
	eventType history.EventType
	taskName  registry.TaskName
	fireAt    history.Event
}

// outcome is the resolved value or failure of a completed scheduling
// entry.
type outcome struct {
	output  *string
	failure *failure.Details
}

// historyIndex is the set of lookup structures built once per turn from
// historyBefore and newEvents, before orchestrator code runs. Because both
// slices are fully known upfront, every Future a single straight-line
// execution will ever ask about is already resolvable-or-not at the start
// of the turn: there is no need to resume execution mid-function when a
// new event "arrives" later in the same turn (spec §4.4.2).
type historyIndex struct {
	scheduling map[int64]schedulingRecord
	outcomes   map[int64]outcome
	events     map[string][]*string

	// raisedEvents is every EventRaised entry in journaled order,
	// regardless of name, used to rebuild a global FIFO ordering across
	// names for Continue-As-New carryover (spec §4.4.8).
	raisedEvents []raisedEvent

	// replayScheduleCount is the number of scheduling-type entries present
	// in historyBefore. The Nth scheduling call a turn's execution makes
	// is a replay of prior history iff N <= replayScheduleCount (spec §3
	// invariant 4).
	replayScheduleCount int64
}

// raisedEvent is one EventRaised entry preserved in journaled order, with
// both its original casing (for re-emission) and its lookup key.
type raisedEvent struct {
	key     string
	name    string
	payload *string
}

func buildHistoryIndex(historyBefore, newEvents []history.Event) *historyIndex {
	idx := &historyIndex{
		scheduling: make(map[int64]schedulingRecord),
		outcomes:   make(map[int64]outcome),
		events:     make(map[string][]*string),
	}
	for _, ev := range historyBefore {
		idx.indexSchedulingOrCompletion(ev)
	}
	idx.replayScheduleCount = int64(len(idx.scheduling))
	for _, ev := range newEvents {
		idx.indexSchedulingOrCompletion(ev)
	}
	return idx
}

func (idx *historyIndex) indexSchedulingOrCompletion(ev history.Event) {
	switch ev.Type {
	case history.TaskScheduled, history.SubOrchestrationCreated, history.TimerCreated:
		idx.scheduling[ev.EventID] = schedulingRecord{eventType: ev.Type, taskName: ev.TaskName, fireAt: ev}
	case history.TaskCompleted, history.SubOrchestrationCompleted, history.TimerFired:
		idx.outcomes[ev.ScheduledID] = outcome{output: ev.Output}
	case history.TaskFailed, history.SubOrchestrationFailed:
		idx.outcomes[ev.ScheduledID] = outcome{failure: ev.Failure}
	case history.EventRaised:
		key := strings.ToLower(ev.EventName)
		idx.events[key] = append(idx.events[key], ev.Input)
		idx.raisedEvents = append(idx.raisedEvents, raisedEvent{key: key, name: ev.EventName, payload: ev.Input})
	}
}

// bufferedEvents returns the buffered payloads delivered for name so far,
// ordered as journaled.
func (idx *historyIndex) bufferedEvents(name string) []*string {
	return idx.events[strings.ToLower(name)]
}

// remainingEvents returns every journaled external event not yet consumed
// by this turn, in original delivery order across all names, where
// consumed[key] is the number of WaitForExternalEvent calls already made
// for that (lowercased) name. Used to carry buffered events across a
// preserve=true Continue-As-New boundary (spec §4.4.8).
func (idx *historyIndex) remainingEvents(consumed map[string]int) []raisedEvent {
	seen := make(map[string]int, len(idx.events))
	var remaining []raisedEvent
	for _, ev := range idx.raisedEvents {
		seen[ev.key]++
		if seen[ev.key] <= consumed[ev.key] {
			continue
		}
		remaining = append(remaining, ev)
	}
	return remaining
}
