package replay

import (
	"reflect"

	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/failure"
)

// future is the Future returned for a single scheduled activity,
// sub-orchestration, or timer: a handle into the turn's historyIndex keyed
// by the EventID of the scheduling entry it completes.
// A future never blocks; Get either decodes an already-known outcome or
// calls suspend, which unwinds the entire turn (spec §4.4.1).
type future struct {
	idx   *historyIndex
	codec codec.Codec
	id    int64
}

func (f *future) resolve() (outcome, bool) {
	o, ok := f.idx.outcomes[f.id]
	return o, ok
}

func (f *future) IsReady() bool {
	_, ok := f.resolve()
	return ok
}

func (f *future) Get(result any) error {
	o, ok := f.resolve()
	if !ok {
		suspend()
	}
	if o.failure != nil {
		return o.failure
	}
	if result == nil || o.output == nil {
		return nil
	}
	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Ptr {
		return failure.Errorf("replay: Future.Get result must be a non-nil pointer")
	}
	decoded, err := f.codec.Decode(o.output, rv.Elem().Type())
	if err != nil {
		return failure.FromError(err)
	}
	if decoded != nil {
		rv.Elem().Set(reflect.ValueOf(decoded))
	}
	return nil
}

// resolvedFuture wraps an outcome already known without a corresponding
// historyIndex entry, used when a Context decision can be answered
// immediately without consuming an EventID of its own: CreateTimer returns
// one when a link of a chained timer failed or the chain was cancelled.
type resolvedFuture struct {
	codec codec.Codec
	out   outcome
}

func (f *resolvedFuture) IsReady() bool { return true }

func (f *resolvedFuture) Get(result any) error {
	if f.out.failure != nil {
		return f.out.failure
	}
	if result == nil || f.out.output == nil {
		return nil
	}
	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Ptr {
		return failure.Errorf("replay: Future.Get result must be a non-nil pointer")
	}
	decoded, err := f.codec.Decode(f.out.output, rv.Elem().Type())
	if err != nil {
		return failure.FromError(err)
	}
	if decoded != nil {
		rv.Elem().Set(reflect.ValueOf(decoded))
	}
	return nil
}
