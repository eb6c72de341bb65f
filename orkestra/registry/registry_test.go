package registry

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orkestra/orkestra-go/orkestra/failure"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	err := r.RegisterInstance(KindActivity, TaskName{Name: "Add"}, "instance", nil, nil)
	require.NoError(t, err)

	def, instance, err := r.Lookup(KindActivity, TaskName{Name: "add"}, nil)
	require.NoError(t, err)
	require.Equal(t, "instance", instance)
	require.Equal(t, "Add", def.Name.Name)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance(KindActivity, TaskName{Name: "Add"}, 1, nil, nil))
	err := r.RegisterInstance(KindActivity, TaskName{Name: "ADD"}, 2, nil, nil)
	require.Error(t, err)
	var dup *ErrAlreadyRegistered
	require.ErrorAs(t, err, &dup)
}

func TestLookupUnknownTaskIsNonRetriable(t *testing.T) {
	r := New()
	_, _, err := r.Lookup(KindOrchestrator, TaskName{Name: "Ghost"}, nil)
	require.Error(t, err)
	var d *failure.Details
	require.ErrorAs(t, err, &d)
	require.True(t, d.NonRetriable)
	require.Equal(t, failure.TypeUnknownTask, d.ErrorType)
}

func TestDifferentKindsDoNotCollide(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance(KindActivity, TaskName{Name: "Foo"}, "act", nil, nil))
	require.NoError(t, r.RegisterInstance(KindOrchestrator, TaskName{Name: "Foo"}, "orch", nil, nil))

	_, inst, err := r.Lookup(KindActivity, TaskName{Name: "Foo"}, nil)
	require.NoError(t, err)
	require.Equal(t, "act", inst)
}

func TestRegisterFactoryInvokedPerLookup(t *testing.T) {
	r := New()
	count := 0
	require.NoError(t, r.RegisterFactory(KindActivity, TaskName{Name: "Counter"}, func(Resolver) (any, error) {
		count++
		return count, nil
	}, nil, nil))

	_, first, err := r.Lookup(KindActivity, TaskName{Name: "Counter"}, nil)
	require.NoError(t, err)
	_, second, err := r.Lookup(KindActivity, TaskName{Name: "Counter"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func namedDelegate(resolver Resolver) (any, error) { return "named", nil }

func TestRegisterDelegateInfersName(t *testing.T) {
	r := New()
	err := r.RegisterDelegate(KindActivity, "", Factory(namedDelegate), nil, nil)
	require.NoError(t, err)

	_, _, err = r.Lookup(KindActivity, TaskName{Name: "namedDelegate"}, nil)
	require.NoError(t, err)
}

func TestRegisterDelegateRejectsAnonymous(t *testing.T) {
	r := New()
	anon := func(Resolver) (any, error) { return nil, nil }
	err := r.RegisterDelegate(KindActivity, "", Factory(anon), nil, nil)
	require.Error(t, err)
	var anonErr *ErrAnonymousDelegate
	require.ErrorAs(t, err, &anonErr)
}

func TestTaskNameEqualIsCaseInsensitive(t *testing.T) {
	a := TaskName{Name: "Add"}
	b := TaskName{Name: "ADD"}
	require.True(t, a.Equal(b))

	c := TaskName{Name: "Add", Version: "v2"}
	require.False(t, a.Equal(c))
}

func TestDefinitionsSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterInstance(KindActivity, TaskName{Name: "A"}, 1, reflect.TypeOf(0), reflect.TypeOf(0)))
	require.NoError(t, r.RegisterInstance(KindActivity, TaskName{Name: "B"}, 2, nil, nil))
	defs := r.Definitions(KindActivity)
	require.Len(t, defs, 2)
}
