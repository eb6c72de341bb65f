package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeFuture struct{ ready bool }

func (f *fakeFuture) IsReady() bool        { return f.ready }
func (f *fakeFuture) Get(result any) error { return nil }

func TestSelectReturnsFirstReadyIndex(t *testing.T) {
	idx := Select(&fakeFuture{ready: false}, &fakeFuture{ready: true}, &fakeFuture{ready: true})
	require.Equal(t, 1, idx)
}

func TestSelectSuspendsWhenNoneReady(t *testing.T) {
	suspended := false
	SetSuspendFunc(func() { suspended = true; panic("suspended") })
	defer SetSuspendFunc(func() { panic("engine: Select used outside an orchestration context") })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		require.True(t, suspended)
	}()
	Select(&fakeFuture{ready: false})
}

func TestCancellationTokenStartsUncancelled(t *testing.T) {
	tok := NewCancellationToken()
	require.False(t, tok.IsCancelled())
	tok.Cancel()
	require.True(t, tok.IsCancelled())
}

func TestDefaultRetryPolicyIsExponential(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 2.0, p.BackoffCoefficient)
	require.Equal(t, 0, p.MaxAttempts)
}
