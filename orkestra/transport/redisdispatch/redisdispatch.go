// Package redisdispatch adapts dispatch.WorkDispatcher and dispatch.ActionSink
// onto Redis Streams (github.com/redis/go-redis/v9), giving a lightweight
// single-process-friendly backend for local workers without a full
// orchestration service, grounded on the teacher's registry.Config.Redis
// wiring and result_stream.go's stream-management style.
package redisdispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orkestra/orkestra-go/orkestra/dispatch"
)

const (
	defaultGroup        = "orkestra-workers"
	defaultBlockTimeout = 5 * time.Second
)

// Options configures a Dispatcher. There is no env/CLI parsing layer (spec
// §1 Non-goals: configuration is a plain struct the embedder populates).
type Options struct {
	// Client is the Redis client work items are read from and acked
	// against. Required.
	Client *redis.Client
	// Stream is the Redis Streams key work items are published to.
	// Defaults to "orkestra:work".
	Stream string
	// DeadLetterStream receives Nacked work items for manual inspection.
	// Defaults to Stream + ":dead".
	DeadLetterStream string
	// Group is the consumer group name all Dispatcher instances sharing
	// Stream should join. Defaults to "orkestra-workers".
	Group string
	// Consumer uniquely identifies this Dispatcher within Group. Required
	// when more than one worker process reads from the same Stream.
	Consumer string
	// BlockTimeout bounds how long a single Poll call blocks the
	// underlying XREADGROUP waiting for a new message. Defaults to 5s;
	// Poll loops internally across blocking windows until ctx is done.
	BlockTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = "orkestra:work"
	}
	if o.DeadLetterStream == "" {
		o.DeadLetterStream = o.Stream + ":dead"
	}
	if o.Group == "" {
		o.Group = defaultGroup
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = defaultBlockTimeout
	}
	return o
}

// Dispatcher implements dispatch.WorkDispatcher against a Redis stream: work
// items are XADDed by a producer, consumed via XREADGROUP (so multiple
// worker processes share the stream without double-delivery), and
// acknowledged via XACK once durably submitted.
type Dispatcher struct {
	opts Options
}

// New returns a Dispatcher wired to opts, creating opts.Group on
// opts.Stream if it does not already exist.
func New(ctx context.Context, opts Options) (*Dispatcher, error) {
	if opts.Client == nil {
		return nil, errors.New("redisdispatch: Options.Client is required")
	}
	opts = opts.withDefaults()
	err := opts.Client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("redisdispatch: creating consumer group: %w", err)
	}
	return &Dispatcher{opts: opts}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Publish encodes item as JSON and XADDs it to opts.Stream. This is the
// producer side of the stream: a separate process (or the same process
// acting as a client) calls Publish to enqueue work; Dispatcher.Poll is the
// consumer side.
func (d *Dispatcher) Publish(ctx context.Context, item dispatch.WorkItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redisdispatch: encoding work item: %w", err)
	}
	return d.opts.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.opts.Stream,
		Values: map[string]any{"payload": string(raw)},
	}).Err()
}

// Poll reads the next undelivered message from the consumer group,
// blocking (and retrying across blocking windows) until one arrives or ctx
// is done. A message that fails to decode as a WorkItem is immediately
// acked and dead-lettered rather than retried forever, since no amount of
// redelivery will make a malformed payload decode successfully.
func (d *Dispatcher) Poll(ctx context.Context) (dispatch.WorkItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return dispatch.WorkItem{}, err
		}

		streams, err := d.opts.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.opts.Group,
			Consumer: d.opts.Consumer,
			Streams:  []string{d.opts.Stream, ">"},
			Count:    1,
			Block:    d.opts.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block window elapsed with no new messages
			}
			if ctx.Err() != nil {
				return dispatch.WorkItem{}, ctx.Err()
			}
			return dispatch.WorkItem{}, fmt.Errorf("redisdispatch: reading stream: %w", err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		msg := streams[0].Messages[0]
		item, ok := decodeMessage(msg)
		if !ok {
			d.deadLetter(ctx, msg.ID, "malformed payload")
			_ = d.opts.Client.XAck(ctx, d.opts.Stream, d.opts.Group, msg.ID).Err()
			continue
		}
		item.Token = msg.ID
		return item, nil
	}
}

func decodeMessage(msg redis.XMessage) (dispatch.WorkItem, bool) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return dispatch.WorkItem{}, false
	}
	var item dispatch.WorkItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return dispatch.WorkItem{}, false
	}
	return item, true
}

// Ack acknowledges item.Token (the stream message ID Poll stamped on it),
// removing it from the consumer group's pending entries list.
func (d *Dispatcher) Ack(ctx context.Context, item dispatch.WorkItem) error {
	return d.opts.Client.XAck(ctx, d.opts.Stream, d.opts.Group, item.Token).Err()
}

// Nack acknowledges item (so it is not redelivered indefinitely) and
// records it, with reason, on the dead-letter stream for manual review.
func (d *Dispatcher) Nack(ctx context.Context, item dispatch.WorkItem, reason error) error {
	d.deadLetter(ctx, item.Token, reason.Error())
	return d.opts.Client.XAck(ctx, d.opts.Stream, d.opts.Group, item.Token).Err()
}

func (d *Dispatcher) deadLetter(ctx context.Context, token, reason string) {
	_ = d.opts.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.opts.DeadLetterStream,
		Values: map[string]any{"token": token, "reason": reason},
	}).Err()
}

// Sink implements dispatch.ActionSink by XADDing each Result as JSON to a
// results stream, so a separate reader process (or management tooling) can
// consume completed turns/activities independently of the worker loop.
type Sink struct {
	client *redis.Client
	stream string
}

// NewSink returns a Sink that XADDs results to stream on client.
func NewSink(client *redis.Client, stream string) *Sink {
	return &Sink{client: client, stream: stream}
}

// Submit encodes result as JSON and XADDs it to the sink's stream.
func (s *Sink) Submit(ctx context.Context, result dispatch.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redisdispatch: encoding result: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"payload": string(raw)},
	}).Err()
}
