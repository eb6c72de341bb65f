package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayGuardDropsDuringReplay(t *testing.T) {
	replaying := true
	var calls int
	inner := &countingLogger{calls: &calls}
	guard := NewReplayGuard(inner, func() bool { return replaying })

	guard.Info(context.Background(), "should be dropped")
	require.Equal(t, 0, calls)

	replaying = false
	guard.Info(context.Background(), "should pass through")
	require.Equal(t, 1, calls)
}

func TestReplayGuardNilInnerDefaultsToNoop(t *testing.T) {
	guard := NewReplayGuard(nil, func() bool { return false })
	require.NotPanics(t, func() {
		guard.Debug(context.Background(), "msg")
		guard.Warn(context.Background(), "msg")
		guard.Error(context.Background(), "msg")
	})
}

type countingLogger struct {
	calls *int
}

func (c *countingLogger) Debug(context.Context, string, ...any) { *c.calls++ }
func (c *countingLogger) Info(context.Context, string, ...any)  { *c.calls++ }
func (c *countingLogger) Warn(context.Context, string, ...any)  { *c.calls++ }
func (c *countingLogger) Error(context.Context, string, ...any) { *c.calls++ }
