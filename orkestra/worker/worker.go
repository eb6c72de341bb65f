// Package worker implements the worker loop (spec §5, §6): it pulls work
// items from a dispatch.WorkDispatcher, routes orchestration items through
// the deterministic replay engine and activity items through the activity
// executor, and reports results to a dispatch.ActionSink. It owns all the
// goroutines and backpressure in the system; neither internal/replay nor
// orkestra/activity know a worker loop exists.
//
// Grounded on the teacher's engine/StartWorkflow dispatch-loop shape
// (runtime/agent/engine/temporal/engine.go's workerBundle start/stop) and
// the atomic-state controller idiom in
// runtime/agent/interrupt/controller.go, generalized from a signal
// controller to a full lifecycle state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/orkestra/orkestra-go/internal/replay"
	"github.com/orkestra/orkestra-go/orkestra/activity"
	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/dispatch"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/registry"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

// State is the worker loop's lifecycle phase. Transitions are strictly
// forward: Created -> Starting -> Running -> Draining -> Stopped. There is
// no way back to an earlier state; a stopped Worker must be discarded.
type State int32

const (
	// Created is the zero state: New returned a Worker, Start has not
	// been called yet.
	Created State = iota
	// Starting is the brief window between Start being called and the
	// poll loop goroutine actually running.
	Starting
	// Running is the steady state: the poll loop is pulling and
	// dispatching work items.
	Running
	// Draining means the poll loop has stopped pulling new work and the
	// worker is waiting for in-flight items to finish, up to the
	// configured grace period.
	Draining
	// Stopped is terminal: no goroutines remain.
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// BackoffConfig controls the delay between Poll retries after a transient
// dispatcher error (e.g. a dropped connection to a remote backend).
// Grounded on runtime/a2a/retry.Config's exponential-backoff-with-jitter
// shape, generalized from HTTP retries to dispatcher reconnects.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the delay regardless of attempt count.
	Max time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// Jitter adds up to this fraction of randomness to each delay,
	// preventing synchronized reconnect storms across many workers.
	Jitter float64
}

// DefaultBackoffConfig returns sensible dispatcher-reconnect backoff
// defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    200 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

func (b BackoffConfig) delay(attempt int) time.Duration {
	d := float64(b.Initial) * pow(b.Multiplier, attempt-1)
	if max := float64(b.Max); d > max {
		d = max
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security-sensitive
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Options configures a Worker. There is no env/CLI parsing layer (out of
// scope per spec §1): callers construct Options as a plain struct, matching
// how the teacher's registry.Config is populated by the embedder.
type Options struct {
	// OrchestrationConcurrency caps how many orchestration turns may be
	// executing concurrently. Defaults to 1 if <= 0: the replay engine's
	// single-turn cost is usually dominated by activity latency, not CPU.
	OrchestrationConcurrency int
	// ActivityConcurrency caps how many activity invocations may be
	// executing concurrently. Defaults to 1 if <= 0; DefaultOptions sets 10.
	ActivityConcurrency int
	// DrainGrace bounds how long Drain waits for in-flight work items to
	// finish before force-cancelling them. Defaults to 30s.
	DrainGrace time.Duration
	// PollLimiter optionally rate-limits how often the worker calls
	// Poll, independent of concurrency caps (e.g. to stay under a
	// backend's request quota). Nil disables rate limiting.
	PollLimiter *rate.Limiter
	// ReconnectBackoff controls the delay between Poll retries after a
	// transient dispatcher error.
	ReconnectBackoff BackoffConfig
	// Logger receives worker lifecycle and per-item diagnostic events.
	// Defaults to a noop logger.
	Logger telemetry.Logger
	// Metrics records polled-item counts, per-kind in-flight gauges, and
	// per-item durations. Defaults to a noop recorder.
	Metrics telemetry.Metrics
}

// DefaultOptions returns Options with conservative concurrency and a 30s
// drain grace period.
func DefaultOptions() Options {
	return Options{
		OrchestrationConcurrency: 1,
		ActivityConcurrency:      10,
		DrainGrace:               30 * time.Second,
		ReconnectBackoff:         DefaultBackoffConfig(),
	}
}

func (o Options) withDefaults() Options {
	if o.OrchestrationConcurrency <= 0 {
		o.OrchestrationConcurrency = 1
	}
	if o.ActivityConcurrency <= 0 {
		o.ActivityConcurrency = 1
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.NewNoopMetrics()
	}
	if o.ReconnectBackoff == (BackoffConfig{}) {
		o.ReconnectBackoff = DefaultBackoffConfig()
	}
	return o
}

// Worker pulls work items from a WorkDispatcher and routes them to the
// replay engine or the activity executor, submitting results to an
// ActionSink. A Worker is single-use: once Stopped it cannot be restarted.
type Worker struct {
	opts       Options
	registry   *registry.Registry
	codec      codec.Codec
	dispatcher dispatch.WorkDispatcher
	sink       dispatch.ActionSink
	activities *activity.Executor

	state int32 // atomic State

	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	orchSem chan struct{}
	actSem  chan struct{}
}

// New returns a Worker wired to reg (for resolving orchestrators and
// activities), c (for decoding orchestration input), dispatcher, and sink.
func New(reg *registry.Registry, c codec.Codec, dispatcher dispatch.WorkDispatcher, sink dispatch.ActionSink, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		opts:       opts,
		registry:   reg,
		codec:      c,
		dispatcher: dispatcher,
		sink:       sink,
		activities: activity.New(reg, c, activity.WithLogger(opts.Logger)),
		state:      int32(Created),
	}
}

// State reports the worker's current lifecycle phase.
func (w *Worker) State() State { return State(atomic.LoadInt32(&w.state)) }

// Start transitions Created -> Starting -> Running and launches the poll
// loop in the background. ctx bounds the worker's entire lifetime: canceling
// it stops the poll loop and cancels in-flight work as Stop does, but leaves
// State unchanged. Returns an error if the worker is not in the Created
// state.
func (w *Worker) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(Created), int32(Starting)) {
		return fmt.Errorf("worker: Start called from state %s, expected %s", w.State(), Created)
	}
	w.stopCh = make(chan struct{})
	w.orchSem = make(chan struct{}, w.opts.OrchestrationConcurrency)
	w.actSem = make(chan struct{}, w.opts.ActivityConcurrency)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	atomic.StoreInt32(&w.state, int32(Running))
	w.wg.Add(1)
	go w.pollLoop(runCtx)
	return nil
}

// Drain transitions Running -> Draining: the poll loop stops pulling new
// work immediately, and Drain waits for in-flight items to finish, up to
// Options.DrainGrace. If the grace period (or ctx) expires first, remaining
// in-flight work is force-cancelled via the context passed to their
// handlers. Called from Running, Drain always leaves the worker in the
// Stopped state before returning; from any other state it returns an error
// and changes nothing.
func (w *Worker) Drain(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(Running), int32(Draining)) {
		return fmt.Errorf("worker: Drain called from state %s, expected %s", w.State(), Running)
	}
	w.stopOnce.Do(func() { close(w.stopCh) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.opts.DrainGrace):
		w.opts.Logger.Warn(ctx, "worker: drain grace period elapsed, cancelling in-flight work", "grace", w.opts.DrainGrace.String())
		w.cancel()
		<-done
	case <-ctx.Done():
		w.cancel()
		<-done
	}
	atomic.StoreInt32(&w.state, int32(Stopped))
	return nil
}

// Stop immediately cancels all in-flight work and transitions straight to
// Stopped without waiting out a grace period. Safe to call from any state;
// a no-op once already Stopped.
func (w *Worker) Stop() {
	for {
		cur := atomic.LoadInt32(&w.state)
		if State(cur) == Stopped {
			return
		}
		if atomic.CompareAndSwapInt32(&w.state, cur, int32(Stopped)) {
			break
		}
	}
	w.stopOnce.Do(func() {
		if w.stopCh != nil {
			close(w.stopCh)
		}
	})
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// pollLoop is the single long-running goroutine a Worker owns for its
// entire lifetime: it pulls work items and hands each to a bounded pool of
// per-item goroutines, backing off on transient dispatcher errors.
func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	attempt := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if w.opts.PollLimiter != nil {
			if err := w.opts.PollLimiter.Wait(ctx); err != nil {
				return
			}
		}

		// A Poll still blocked when Drain or Stop closes stopCh is cancelled,
		// so no new work is pulled once draining has begun.
		pollCtx, stopPoll := context.WithCancel(ctx)
		go func() {
			select {
			case <-w.stopCh:
				stopPoll()
			case <-pollCtx.Done():
			}
		}()
		item, err := w.dispatcher.Poll(pollCtx)
		stopPoll()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			attempt++
			delay := w.opts.ReconnectBackoff.delay(attempt)
			w.opts.Logger.Warn(ctx, "worker: dispatcher poll failed, backing off",
				"error", err.Error(), "attempt", attempt, "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		attempt = 0
		w.opts.Metrics.IncCounter("orkestra.worker.items_polled", 1, "kind", item.Kind.String())
		w.dispatchItem(ctx, item)
	}
}

// dispatchItem validates item, acquires the concurrency slot for its kind
// (blocking, which is the worker loop's backpressure mechanism), and spawns
// the goroutine that actually processes it.
func (w *Worker) dispatchItem(ctx context.Context, item dispatch.WorkItem) {
	if err := validateItem(item); err != nil {
		w.nack(ctx, item, err)
		return
	}

	var sem chan struct{}
	if item.Kind == dispatch.Activity {
		sem = w.actSem
	} else {
		sem = w.orchSem
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	w.opts.Metrics.RecordGauge("orkestra.worker.in_flight", float64(len(sem)), "kind", item.Kind.String())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-sem }()
		defer w.opts.Metrics.RecordGauge("orkestra.worker.in_flight", float64(len(sem)-1), "kind", item.Kind.String())
		start := time.Now()
		w.process(ctx, item)
		w.opts.Metrics.RecordTimer("orkestra.worker.item_duration", time.Since(start), "kind", item.Kind.String())
	}()
}

// validateItem rejects structurally invalid work items before any
// registry lookup or execution is attempted, so a malformed item is NACKed
// rather than silently dropped or panicking a goroutine.
func validateItem(item dispatch.WorkItem) error {
	if item.InstanceID == "" {
		return errors.New("worker: work item missing InstanceID")
	}
	switch item.Kind {
	case dispatch.Orchestration, dispatch.Activity:
		if item.TaskName.Name == "" {
			return fmt.Errorf("worker: %s work item for instance %q missing TaskName", item.Kind, item.InstanceID)
		}
	default:
		return fmt.Errorf("worker: work item for instance %q has unknown kind %d", item.InstanceID, item.Kind)
	}
	return nil
}

// process routes a validated item to the replay engine or the activity
// executor and reports the outcome, recovering a panicking handler into a
// Nack rather than crashing the worker process.
func (w *Worker) process(ctx context.Context, item dispatch.WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			w.nack(ctx, item, fmt.Errorf("worker: panic processing %s item for instance %q: %v", item.Kind, item.InstanceID, r))
		}
	}()

	if item.Kind == dispatch.Activity {
		w.processActivity(ctx, item)
		return
	}
	w.processOrchestration(ctx, item)
}

func (w *Worker) processActivity(ctx context.Context, item dispatch.WorkItem) {
	resp := w.activities.Execute(ctx, activity.Request{
		Name:       item.TaskName,
		Resolver:   item.Resolver,
		RawInput:   item.RawInput,
		InstanceID: item.InstanceID,
	})
	w.submit(ctx, item, dispatch.Result{
		Kind:             dispatch.Activity,
		InstanceID:       item.InstanceID,
		Token:            item.Token,
		ActivityResponse: &resp,
	})
}

func (w *Worker) processOrchestration(ctx context.Context, item dispatch.WorkItem) {
	def, instance, err := w.registry.Lookup(registry.KindOrchestrator, item.TaskName, item.Resolver)
	if err != nil {
		w.nack(ctx, item, err)
		return
	}

	orch, ok := instance.(engine.Orchestrator)
	if !ok {
		fn, ok := instance.(func(engine.Context, any) (any, error))
		if !ok {
			w.nack(ctx, item, fmt.Errorf("worker: registered instance for %s does not implement engine.Orchestrator", item.TaskName))
			return
		}
		orch = engine.OrchestratorFunc(fn)
	}

	input, err := decodeInput(w.codec, item.RawInput, def.InputType)
	if err != nil {
		w.nack(ctx, item, err)
		return
	}

	result, err := replay.ExecuteTurn(ctx, item.InstanceID, orch, input, item.HistoryBefore, item.NewEvents, w.codec, w.opts.Logger)
	if err != nil {
		w.nack(ctx, item, err)
		return
	}

	w.submit(ctx, item, dispatch.Result{
		Kind:       dispatch.Orchestration,
		InstanceID: item.InstanceID,
		Token:      item.Token,
		Actions:    result.Actions,
	})
}

func decodeInput(c codec.Codec, raw *string, target reflect.Type) (any, error) {
	if target == nil {
		target = reflect.TypeOf((*any)(nil)).Elem()
	}
	value, err := c.Decode(raw, target)
	if err != nil {
		return nil, fmt.Errorf("worker: decoding input: %w", err)
	}
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}
	return value, nil
}

func (w *Worker) submit(ctx context.Context, item dispatch.WorkItem, result dispatch.Result) {
	if err := w.sink.Submit(ctx, result); err != nil {
		w.nack(ctx, item, fmt.Errorf("worker: submitting result: %w", err))
		return
	}
	w.ack(ctx, item)
}

func (w *Worker) ack(ctx context.Context, item dispatch.WorkItem) {
	if err := w.dispatcher.Ack(ctx, item); err != nil {
		w.opts.Logger.Warn(ctx, "worker: ack failed", "instance_id", item.InstanceID, "error", err.Error())
	}
}

func (w *Worker) nack(ctx context.Context, item dispatch.WorkItem, reason error) {
	w.opts.Logger.Warn(ctx, "worker: nacking work item", "instance_id", item.InstanceID, "kind", item.Kind.String(), "reason", reason.Error())
	if err := w.dispatcher.Nack(ctx, item, reason); err != nil {
		w.opts.Logger.Error(ctx, "worker: nack failed", "instance_id", item.InstanceID, "error", err.Error())
	}
}
