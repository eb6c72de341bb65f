package replay

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orkestra/orkestra-go/orkestra/action"
	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/registry"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

// guidNamespace is the fixed namespace UUID newGUID derives values from,
// so the same (instanceID, currentUtcTime, counter) triple always yields
// the same UUID-v5 across replay (spec §4.4.7).
var guidNamespace = uuid.MustParse("5b6a7b4e-8f2e-4a7a-9a0a-6d6e7c3b1a10")

// maximumTimerInterval bounds a single TimerCreated entry's duration;
// longer delays are chained into successive timers summing to the
// requested duration (spec §4.4.3).
const maximumTimerInterval = 3 * 24 * time.Hour

// orchestrationContext implements engine.Context for exactly one turn. It
// is discarded after ExecuteTurn returns; there is no cross-turn state
// beyond what is re-derived from the historyIndex.
type orchestrationContext struct {
	ctx         context.Context
	instanceID  string
	idx         *historyIndex
	codec       codec.Codec
	logger      telemetry.Logger
	currentTime time.Time
	guidCounter int

	nextEventID int64

	eventConsumed map[string]int
	eventTypes    map[string]reflect.Type

	actions      []action.Action
	customStatus *string
	replaying    bool

	continueAsNew bool
}

func newOrchestrationContext(ctx context.Context, instanceID string, idx *historyIndex, c codec.Codec, logger telemetry.Logger, currentTime time.Time) *orchestrationContext {
	oc := &orchestrationContext{
		ctx:           ctx,
		instanceID:    instanceID,
		idx:           idx,
		codec:         c,
		currentTime:   currentTime,
		eventConsumed: make(map[string]int),
		replaying:     idx.replayScheduleCount > 0,
	}
	oc.logger = telemetry.NewReplayGuard(logger, oc.IsReplaying)
	return oc
}

func (c *orchestrationContext) Context() context.Context { return c.ctx }
func (c *orchestrationContext) InstanceID() string       { return c.instanceID }
func (c *orchestrationContext) IsReplaying() bool        { return c.replaying }
func (c *orchestrationContext) Now() time.Time           { return c.currentTime }

func (c *orchestrationContext) NewGUID() string {
	c.guidCounter++
	data := fmt.Sprintf("%s|%s|%d", c.instanceID, c.currentTime.Format(time.RFC3339Nano), c.guidCounter)
	return uuid.NewSHA1(guidNamespace, []byte(data)).String()
}

func (c *orchestrationContext) Logger() telemetry.Logger { return c.logger }

// allocateSchedule assigns the next EventID, checks it against a replayed
// scheduling record for nondeterminism, advances c.replaying at the
// replay/new-decision boundary, and returns the EventID plus whether it
// resolved from history.
func (c *orchestrationContext) allocateSchedule(eventType history.EventType, name registry.TaskName) (int64, bool) {
	c.nextEventID++
	id := c.nextEventID
	c.replaying = id <= c.idx.replayScheduleCount

	if rec, ok := c.idx.scheduling[id]; ok {
		if rec.eventType != eventType || (eventType != history.TimerCreated && !rec.taskName.Equal(name)) {
			panic(failure.NewNonRetriable(failure.TypeNondeterministic, fmt.Sprintf(
				"orchestration replay diverged at eventId %d: history recorded %s %q, code now requests %s %q",
				id, rec.eventType, rec.taskName, eventType, name)))
		}
		return id, true
	}
	return id, false
}

func (c *orchestrationContext) ScheduleActivity(name registry.TaskName, input any, opts engine.TaskOptions) engine.Future {
	return c.scheduleWithRetry(history.TaskScheduled, name, "", input, opts)
}

func (c *orchestrationContext) CallSubOrchestration(name registry.TaskName, instanceID string, input any, opts engine.TaskOptions) engine.Future {
	if instanceID == "" {
		instanceID = c.NewGUID()
	}
	return c.scheduleWithRetry(history.SubOrchestrationCreated, name, instanceID, input, opts)
}

// scheduleWithRetry schedules one attempt and, if a RetryPolicy is set,
// transparently reschedules on retriable failure by creating a durable
// timer between attempts (spec §4.4.6). The returned Future's Get drives
// the entire attempt loop; each step may suspend the turn, which simply
// ends evaluation until the next turn resumes it from the top.
func (c *orchestrationContext) scheduleWithRetry(eventType history.EventType, name registry.TaskName, subInstanceID string, input any, opts engine.TaskOptions) engine.Future {
	policy := opts.RetryPolicy
	first := c.scheduleOnce(eventType, name, subInstanceID, input)
	if policy == nil {
		return first
	}

	// The loop's elapsed time is measured from the original scheduling
	// entry's journaled timestamp, not wall-clock: on a fresh attempt
	// that timestamp is this turn's deterministic clock, and on replay
	// it is read back from history so elapsed stays stable regardless of
	// how many turns the retry loop has spanned (spec §4.4.7).
	startedAt := c.currentTime
	if rec, ok := c.idx.scheduling[c.nextEventID]; ok {
		startedAt = rec.fireAt.Timestamp
	}

	return &retryingFuture{
		ctx:       c,
		policy:    policy,
		timeout:   opts.Timeout,
		cancel:    opts.Cancel,
		startedAt: startedAt,
		attempt: func() engine.Future {
			return c.scheduleOnce(eventType, name, subInstanceID, input)
		},
		current:  first,
		attemptN: 1,
	}
}

func (c *orchestrationContext) scheduleOnce(eventType history.EventType, name registry.TaskName, subInstanceID string, input any) engine.Future {
	id, fromHistory := c.allocateSchedule(eventType, name)
	if !fromHistory {
		encoded, err := c.codec.Encode(input)
		if err != nil {
			panic(failure.FromError(err))
		}
		act := action.Action{Type: action.ScheduleTask, EventID: id, TaskName: name, Input: encoded}
		if eventType == history.SubOrchestrationCreated {
			act.Type = action.ScheduleSubOrchestration
			act.TargetInstanceID = subInstanceID
		}
		c.actions = append(c.actions, act)
	}
	return &future{idx: c.idx, codec: c.codec, id: id}
}

func (c *orchestrationContext) CreateTimer(fireAt time.Time, cancel engine.CancellationToken) engine.Future {
	remaining := fireAt.Sub(c.currentTime)
	if remaining <= maximumTimerInterval {
		return c.createSingleTimer(fireAt, cancel)
	}

	// Chain: each link covers at most maximumTimerInterval, the final
	// link covers whatever remains so the sum equals the requested
	// duration exactly (spec §4.4.3, §8 timer clamp property).
	next := c.currentTime.Add(maximumTimerInterval)
	link := c.createSingleTimer(next, cancel)
	var result any
	if err := link.Get(&result); err != nil {
		return &resolvedFuture{codec: c.codec, out: outcome{failure: failure.FromError(err)}}
	}
	if cancel != nil && cancel.IsCancelled() {
		return &resolvedFuture{codec: c.codec, out: outcome{}}
	}
	return c.CreateTimer(fireAt, cancel)
}

func (c *orchestrationContext) createSingleTimer(fireAt time.Time, cancel engine.CancellationToken) engine.Future {
	id, fromHistory := c.allocateSchedule(history.TimerCreated, registry.TaskName{})
	if !fromHistory {
		c.actions = append(c.actions, action.Action{Type: action.StartTimer, EventID: id, FireAt: fireAt})
	}
	f := &future{idx: c.idx, codec: c.codec, id: id}
	if cancel != nil {
		return &cancellableFuture{inner: f, cancel: cancel}
	}
	return f
}

func (c *orchestrationContext) WaitForExternalEvent(name string, cancel engine.CancellationToken) engine.Future {
	key := strings.ToLower(name)
	c.eventConsumed[key]++
	n := c.eventConsumed[key]
	buffered := c.idx.bufferedEvents(name)

	f := &eventFuture{codec: c.codec, ctx: c, name: key, ordinal: n, payloads: buffered}
	if cancel != nil {
		return &cancellableFuture{inner: f, cancel: cancel}
	}
	return f
}

func (c *orchestrationContext) SendEvent(targetInstanceID, name string, payload any) {
	encoded, err := c.codec.Encode(payload)
	if err != nil {
		panic(failure.FromError(err))
	}
	c.actions = append(c.actions, action.Action{
		Type:             action.SendEvent,
		TargetInstanceID: targetInstanceID,
		EventName:        name,
		EventPayload:     encoded,
	})
}

func (c *orchestrationContext) ContinueAsNew(input any, preserve bool) {
	encoded, err := c.codec.Encode(input)
	if err != nil {
		panic(failure.FromError(err))
	}
	c.continueAsNew = true

	var carryover []carryoverEvent
	if preserve {
		for _, ev := range c.idx.remainingEvents(c.eventConsumed) {
			carryover = append(carryover, carryoverEvent{name: ev.name, payload: ev.payload})
		}
	}
	panic(continueAsNewSignal{input: encoded, carryover: carryover})
}

func (c *orchestrationContext) SetCustomStatus(status any) {
	encoded, err := c.codec.Encode(status)
	if err != nil {
		panic(failure.FromError(err))
	}
	c.customStatus = encoded
}
