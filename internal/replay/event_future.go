package replay

import (
	"fmt"
	"reflect"

	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
)

// eventFuture resolves the ordinal-th WaitForExternalEvent call for one
// event name against the payloads buffered so far for that name (spec
// §4.4.4, §3 invariant 3: FIFO per name). name is already the lowercased
// lookup key, matching historyIndex's normalization.
type eventFuture struct {
	codec    codec.Codec
	ctx      *orchestrationContext
	name     string
	ordinal  int
	payloads []*string
}

func (f *eventFuture) IsReady() bool {
	return f.ordinal <= len(f.payloads)
}

func (f *eventFuture) Get(result any) error {
	if !f.IsReady() {
		suspend()
	}
	payload := f.payloads[f.ordinal-1]
	if result == nil || payload == nil {
		return nil
	}
	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Ptr {
		return failure.Errorf("replay: Future.Get result must be a non-nil pointer")
	}
	elemType := rv.Elem().Type()
	f.checkEventType(elemType)

	decoded, err := f.codec.Decode(payload, elemType)
	if err != nil {
		return failure.FromError(err)
	}
	if decoded != nil {
		rv.Elem().Set(reflect.ValueOf(decoded))
	}
	return nil
}

// checkEventType enforces that every waiter on f.name agrees on the
// payload type it decodes into: the first Get call for a name records the
// type, and any later call requesting a different type fails the whole
// turn with an EventTypeMismatch failure (spec §4.4.4, §7).
func (f *eventFuture) checkEventType(want reflect.Type) {
	if f.ctx == nil {
		return
	}
	if f.ctx.eventTypes == nil {
		f.ctx.eventTypes = make(map[string]reflect.Type)
	}
	if got, ok := f.ctx.eventTypes[f.name]; ok {
		if got != want {
			panic(failure.NewNonRetriable(failure.TypeEventTypeMismatch, fmt.Sprintf(
				"external event %q: waiters disagree on payload type: first %s, now %s", f.name, got, want)))
		}
		return
	}
	f.ctx.eventTypes[f.name] = want
}

// cancellableFuture races inner against a CancellationToken: once
// cancelled, Get returns immediately with a nil result/error even if
// inner never resolves, letting orchestrator code implement the
// wait-vs-timeout race from spec §4.4.4 by cancelling the loser.
type cancellableFuture struct {
	inner  engine.Future
	cancel engine.CancellationToken
}

func (f *cancellableFuture) IsReady() bool {
	return f.inner.IsReady() || f.cancel.IsCancelled()
}

func (f *cancellableFuture) Get(result any) error {
	if f.inner.IsReady() {
		return f.inner.Get(result)
	}
	if f.cancel.IsCancelled() {
		return nil
	}
	suspend()
	panic("unreachable")
}
