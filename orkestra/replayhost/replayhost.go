// Package replayhost exposes a stateless, backend-agnostic entry point for
// running exactly one orchestration turn against a single wire-format
// request/response pair, with no dispatcher or sink involved (spec §6:
// "stateless hosts"). A caller owns its own history storage and transport;
// this package only runs the deterministic turn in between.
//
// Grounded on the teacher's cmd/regolden "decode a scenario, run it
// headlessly, re-encode the output for inspection" shape, generalized from
// regenerating a codegen golden file to replaying one orchestration turn.
package replayhost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/orkestra/orkestra-go/internal/replay"
	"github.com/orkestra/orkestra-go/orkestra/action"
	"github.com/orkestra/orkestra-go/orkestra/codec"
	"github.com/orkestra/orkestra-go/orkestra/engine"
	"github.com/orkestra/orkestra-go/orkestra/failure"
	"github.com/orkestra/orkestra-go/orkestra/history"
	"github.com/orkestra/orkestra-go/orkestra/registry"
	"github.com/orkestra/orkestra-go/orkestra/telemetry"
)

// Request is the wire shape one RunOrchestration call decodes: everything
// one turn needs and nothing it derives from elsewhere.
type Request struct {
	InstanceID    string
	TaskName      registry.TaskName
	Input         *string
	HistoryBefore []history.Event
	NewEvents     []history.Event
}

// Response is the wire shape one RunOrchestration call re-encodes: the same
// fields internal/replay.Result carries.
type Response struct {
	Actions        []action.Action
	CustomStatus   *string
	Completed      bool
	Output         *string
	Failed         bool
	Failure        *failure.Details
	ContinuedNew   bool
	ContinuedInput *string
}

// RunOrchestration decodes base64Request (a base64-encoded JSON Request),
// resolves the named orchestrator via lookup, runs exactly one
// deterministic turn, and returns a base64-encoded JSON Response. lookup is
// typically a *registry.Registry's Lookup method. Input/output encoding
// always uses JSONCodec: the wire envelope is fixed so a stateless host on
// the other side of this call doesn't need to negotiate a codec.
func RunOrchestration(base64Request string, lookup registry.Lookup) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Request)
	if err != nil {
		return "", fmt.Errorf("replayhost: decoding base64 request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", fmt.Errorf("replayhost: decoding request envelope: %w", err)
	}

	def, instance, err := lookup(registry.KindOrchestrator, req.TaskName, nil)
	if err != nil {
		return "", err
	}

	orch, ok := instance.(engine.Orchestrator)
	if !ok {
		fn, ok := instance.(func(engine.Context, any) (any, error))
		if !ok {
			return "", fmt.Errorf("replayhost: registered instance for %s does not implement engine.Orchestrator", req.TaskName)
		}
		orch = engine.OrchestratorFunc(fn)
	}

	c := codec.NewJSONCodec()
	input, err := decodeInput(c, req.Input, def.InputType)
	if err != nil {
		return "", err
	}

	result, err := replay.ExecuteTurn(context.Background(), req.InstanceID, orch, input,
		req.HistoryBefore, req.NewEvents, c, telemetry.NewNoopLogger())
	if err != nil {
		return "", fmt.Errorf("replayhost: executing turn: %w", err)
	}

	resp := Response{
		Actions:        result.Actions,
		CustomStatus:   result.CustomStatus,
		Completed:      result.Completed,
		Output:         result.Output,
		Failed:         result.Failed,
		Failure:        result.Failure,
		ContinuedNew:   result.ContinuedNew,
		ContinuedInput: result.ContinuedInput,
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("replayhost: encoding response envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

func decodeInput(c codec.Codec, raw *string, target reflect.Type) (any, error) {
	if target == nil {
		target = reflect.TypeOf((*any)(nil)).Elem()
	}
	value, err := c.Decode(raw, target)
	if err != nil {
		return nil, fmt.Errorf("replayhost: decoding input: %w", err)
	}
	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}
	return value, nil
}
