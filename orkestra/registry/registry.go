// Package registry provides the process-wide mapping from TaskName to the
// factory that produces the orchestrator, activity, or entity instance
// handling invocations of that task. Registration is write-once: a second
// registration under an already-used name fails with ErrAlreadyRegistered.
// Lookup at invocation time returns UnknownTaskError for an unrecognized
// name, surfaced by the activity executor and replay engine as a
// non-retriable failure (spec §7).
package registry

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/orkestra/orkestra-go/orkestra/failure"
)

// Kind distinguishes the three sub-maps a Registry maintains.
type Kind int

const (
	// KindOrchestrator identifies orchestrator (workflow) registrations.
	KindOrchestrator Kind = iota
	// KindActivity identifies activity registrations.
	KindActivity
	// KindEntity identifies entity registrations. The core only supports
	// registration and lookup for entities; dispatch is out of scope
	// (spec §1 Non-goals).
	KindEntity
)

func (k Kind) String() string {
	switch k {
	case KindOrchestrator:
		return "orchestrator"
	case KindActivity:
		return "activity"
	case KindEntity:
		return "entity"
	default:
		return "unknown"
	}
}

// Lookup is the function shape of (*Registry).Lookup: given a kind, name,
// and resolver, resolve the registered Definition and instance. Callers
// that only need lookup behavior (e.g. orkestra/replayhost) can depend on
// this function type instead of *Registry directly; `reg.Lookup` is a
// valid Lookup value.
type Lookup func(kind Kind, name TaskName, resolver Resolver) (Definition, any, error)

// Resolver is an opaque dependency-injection handle passed to factories so
// registered instances can pull in collaborators (a database handle, an
// HTTP client) without the registry itself knowing anything about DI
// wiring. The core places no constraints on what a Resolver is; callers
// supply whatever container type their application uses.
type Resolver any

// Factory constructs a task instance given a Resolver. It is invoked once
// per work item (spec §4.2: "Lookup at invocation returns the instance").
type Factory func(resolver Resolver) (any, error)

// Definition describes one registered task: its identity, declared I/O
// types (so the worker can ask the codec for typed deserialization, per
// spec §4.2), and the factory that produces instances.
type Definition struct {
	Name       TaskName
	Kind       Kind
	InputType  reflect.Type
	OutputType reflect.Type
	Factory    Factory
}

// Registry is the process-wide, write-once map from TaskName to Definition,
// partitioned by Kind. It is safe for concurrent registration and lookup;
// once started, a worker loop treats the registry as immutable (spec §5).
type Registry struct {
	mu    sync.RWMutex
	tasks map[Kind]map[string]Definition
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tasks: map[Kind]map[string]Definition{
			KindOrchestrator: {},
			KindActivity:     {},
			KindEntity:       {},
		},
	}
}

// ErrAlreadyRegistered is returned by Register when name is already bound
// within kind.
type ErrAlreadyRegistered struct {
	Kind Kind
	Name TaskName
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("%s %q is already registered", e.Kind, e.Name)
}

// ErrAnonymousDelegate is returned by RegisterDelegate when a delegate has
// no explicit name and the underlying function is an anonymous closure
// (its runtime-reported name contains a compiler-synthesized "funcN"
// segment), per spec §4.2: "anonymous/lambda delegates without an
// attribute are rejected".
type ErrAnonymousDelegate struct {
	FuncName string
}

func (e *ErrAnonymousDelegate) Error() string {
	return fmt.Sprintf("delegate %q has no explicit task name and is not a named function", e.FuncName)
}

// Register binds name to def within kind. It fails with
// *ErrAlreadyRegistered if name is already bound.
func (r *Registry) Register(def Definition) error {
	if def.Factory == nil {
		return fmt.Errorf("registry: factory must not be nil for %s %q", def.Kind, def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.tasks[def.Kind]
	key := def.Name.key()
	if _, dup := m[key]; dup {
		return &ErrAlreadyRegistered{Kind: def.Kind, Name: def.Name}
	}
	m[key] = def
	return nil
}

// RegisterInstance registers a singleton instance under name: every
// invocation resolves to the same value. inputType/outputType declare the
// types the codec should deserialize/serialize against.
func (r *Registry) RegisterInstance(kind Kind, name TaskName, instance any, inputType, outputType reflect.Type) error {
	return r.Register(Definition{
		Name:       name,
		Kind:       kind,
		InputType:  inputType,
		OutputType: outputType,
		Factory:    func(Resolver) (any, error) { return instance, nil },
	})
}

// RegisterFactory registers a typed factory under name: a new instance is
// resolved per invocation via factory(resolver).
func (r *Registry) RegisterFactory(kind Kind, name TaskName, factory Factory, inputType, outputType reflect.Type) error {
	return r.Register(Definition{
		Name:       name,
		Kind:       kind,
		InputType:  inputType,
		OutputType: outputType,
		Factory:    factory,
	})
}

// RegisterDelegate registers a bound method or function value as a
// singleton task. If name is empty, the name is inferred from the
// delegate's runtime-reported function name (the method name, stripped of
// its package and receiver qualification). Anonymous closures without an
// explicit name are rejected with *ErrAnonymousDelegate, since the core has
// no stable identifier to key history off of for a lambda (spec §4.2).
func (r *Registry) RegisterDelegate(kind Kind, name string, delegate any, inputType, outputType reflect.Type) error {
	if name == "" {
		inferred, ok := inferDelegateName(delegate)
		if !ok {
			return &ErrAnonymousDelegate{FuncName: inferred}
		}
		name = inferred
	}
	return r.RegisterInstance(kind, TaskName{Name: name}, delegate, inputType, outputType)
}

// inferDelegateName derives a task name from a function value's runtime
// symbol name, rejecting compiler-synthesized closures (whose symbol
// contains a ".funcN" or ".gowrap" segment).
func inferDelegateName(delegate any) (string, bool) {
	v := reflect.ValueOf(delegate)
	if v.Kind() != reflect.Func {
		return "", false
	}
	full := runtime.FuncForPC(v.Pointer()).Name()
	short := full
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		short = full[idx+1:]
	}
	if strings.HasPrefix(short, "func") || strings.Contains(full, ".func") || strings.Contains(full, "gowrap") {
		return full, false
	}
	// Method values carry a compiler-added "-fm" suffix.
	return strings.TrimSuffix(short, "-fm"), true
}

// Lookup resolves name within kind to a concrete instance via its
// registered factory. A miss returns a non-retriable *failure.Details with
// ErrorType failure.TypeUnknownTask (spec §7).
func (r *Registry) Lookup(kind Kind, name TaskName, resolver Resolver) (Definition, any, error) {
	r.mu.RLock()
	def, ok := r.tasks[kind][name.key()]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, nil, failure.NewNonRetriable(failure.TypeUnknownTask,
			fmt.Sprintf("%s %q is not registered", kind, name))
	}
	instance, err := def.Factory(resolver)
	if err != nil {
		return Definition{}, nil, err
	}
	return def, instance, nil
}

// Definitions returns a snapshot of all registrations for kind, primarily
// for the worker loop to publish the set of known task names to the
// dispatcher on start (spec §4.5).
func (r *Registry) Definitions(kind Kind) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tasks[kind]))
	for _, d := range r.tasks[kind] {
		defs = append(defs, d)
	}
	return defs
}
