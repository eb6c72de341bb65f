package replay

// turnSuspended unwinds the call stack back to ExecuteTurn when a Future's
// Get observes an unresolved value. This is not error handling: it is the
// continuation mechanism for "the turn advances by draining micro-steps
// ... when user code reaches a point where no further progress is
// possible without new events, the turn ends" (spec §4.4.1). Recovering it
// at the single call site in ExecuteTurn is the entire suspension model;
// orchestrator code never observes it.
type turnSuspended struct{}

// continueAsNewSignal unwinds the call stack when orchestrator code calls
// Context.ContinueAsNew: the current execution ends immediately and
// unconditionally, discarding any further code in the orchestrator
// function (spec §4.4.8).
type continueAsNewSignal struct {
	input *string

	// carryover holds buffered external events not yet consumed by this
	// execution, in original delivery order, when ContinueAsNew was
	// called with preserve=true. Each is re-emitted as a SendEvent
	// action targeting the new execution of the same instance.
	carryover []carryoverEvent
}

// carryoverEvent is one buffered external event surviving a
// preserve=true Continue-As-New.
type carryoverEvent struct {
	name    string
	payload *string
}

func suspend() {
	panic(turnSuspended{})
}
