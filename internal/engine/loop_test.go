package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// newIndexEchoEngine builds an Engine whose "function" handler returns
// the single resolved "echoed" field verbatim, so a loop's
// per-iteration member output is the raw index/item rather than a
// wrapping object.
func newIndexEchoEngine() *Engine {
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			return config["echoed"], nil
		},
	})
	return NewEngine(mgr)
}

// Scenario: for-loop, iterations=3, single Echo member.
func TestEngine_Loop_For_CollectsPerIterationResults(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("loop", models.BlockKindLoop, nil),
			block("echo", models.BlockKindFunction, map[string]interface{}{"echoed": "{{index}}"}),
		},
		[]models.Connection{
			conn("start", "loop"),
		},
		map[string]*models.Loop{
			"loop": {Nodes: []string{"echo"}, LoopType: models.LoopTypeFor, Iterations: 3},
		},
		nil,
	)

	eng := newIndexEchoEngine()
	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.True(t, result.Success, "result: %+v", result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok, "output: %#v", result.Output)
	assert.Equal(t, []interface{}{0, 1, 2}, out["results"])
	assert.Equal(t, 3, out["totalIterations"])
	assert.Len(t, logForBlock(result.Logs, "echo"), 3)
}

// Scenario: forEach loop over ["a", "b"].
func TestEngine_Loop_ForEach_CollectsItems(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("loop", models.BlockKindLoop, nil),
			block("echo", models.BlockKindFunction, map[string]interface{}{"echoed": "{{item}}"}),
		},
		[]models.Connection{
			conn("start", "loop"),
		},
		map[string]*models.Loop{
			"loop": {Nodes: []string{"echo"}, LoopType: models.LoopTypeForEach, ForEachItems: []interface{}{"a", "b"}},
		},
		nil,
	)

	eng := newIndexEchoEngine()
	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.True(t, result.Success, "result: %+v", result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok, "output: %#v", result.Output)
	assert.Equal(t, []interface{}{"a", "b"}, out["results"])
	assert.Equal(t, 2, out["totalIterations"])

	logs := logForBlock(result.Logs, "echo")
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].OutputSummary)
	assert.Equal(t, "b", logs[1].OutputSummary)
}

// A zero-iteration for-loop is rejected as an invalid workflow.
func TestEngine_Loop_For_ZeroIterationsIsInvalidWorkflow(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("loop", models.BlockKindLoop, nil),
			block("echo", models.BlockKindFunction, map[string]interface{}{"echoed": "{{index}}"}),
		},
		[]models.Connection{
			conn("start", "loop"),
		},
		map[string]*models.Loop{
			"loop": {Nodes: []string{"echo"}, LoopType: models.LoopTypeFor, Iterations: 0},
		},
		nil,
	)

	// Iterations < 1 fails Loop.Validate for "for" loops, so Execute
	// should report InvalidWorkflow rather than silently no-op.
	eng := newIndexEchoEngine()
	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})
	require.False(t, result.Success)
	assert.Equal(t, models.KindInvalidWorkflow, result.Error.Kind)
}

// loopIterationOutput falls back to a per-member map when a loop has
// more than one member block.
func TestLoopIterationOutput_MultiMemberMapsByID(t *testing.T) {
	runCtx := NewExecutionContext(newWorkflow(nil, nil, nil, nil), nil)
	runCtx.RecordExecution("a", "valA", 0)
	runCtx.RecordExecution("b", "valB", 0)

	rn := &run{ctx: runCtx}
	lr := &loopRuntime{loop: &models.Loop{Nodes: []string{"a", "b"}}}

	out := rn.loopIterationOutput(lr)
	assert.Equal(t, map[string]interface{}{"a": "valA", "b": "valB"}, out)
}
