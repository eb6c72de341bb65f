package replayhost

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orkestra/orkestra-go/orkestra/action"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterInstance(registry.KindOrchestrator, registry.TaskName{Name: "Greet"},
		engine.OrchestratorFunc(func(ctx engine.Context, input any) (any, error) {
			var v int
			err := ctx.ScheduleActivity(registry.TaskName{Name: "Add"}, 1, engine.TaskOptions{}).Get(&v)
			return v, err
		}), nil, reflect.TypeOf(0)))
	return reg
}

func encodeRequest(t *testing.T, req Request) string {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestRunOrchestrationFirstTurnEmitsScheduleAction(t *testing.T) {
	reg := testRegistry(t)
	req := Request{
		InstanceID: "inst-1",
		TaskName:   registry.TaskName{Name: "Greet"},
		HistoryBefore: []history.Event{
			{Type: history.ExecutionStarted, Timestamp: time.Unix(0, 0)},
		},
	}

	out, err := RunOrchestration(encodeRequest(t, req), reg.Lookup)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))

	require.False(t, resp.Completed)
	require.Len(t, resp.Actions, 1)
	require.Equal(t, action.ScheduleTask, resp.Actions[0].Type)
}

func TestRunOrchestrationUnknownTaskReturnsError(t *testing.T) {
	reg := testRegistry(t)
	req := Request{
		InstanceID:    "inst-2",
		TaskName:      registry.TaskName{Name: "Ghost"},
		HistoryBefore: []history.Event{{Type: history.ExecutionStarted, Timestamp: time.Unix(0, 0)}},
	}
	_, err := RunOrchestration(encodeRequest(t, req), reg.Lookup)
	require.Error(t, err)
}

func TestRunOrchestrationMalformedBase64ReturnsError(t *testing.T) {
	reg := testRegistry(t)
	_, err := RunOrchestration("not-valid-base64!!", reg.Lookup)
	require.Error(t, err)
}
