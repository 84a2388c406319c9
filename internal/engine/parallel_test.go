package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// newFailingBranchEngine builds an Engine whose "function" handler
// fails for the branch whose resolved "idx" config equals failOn, and
// otherwise echoes idx back as its output.
func newFailingBranchEngine(failOn int) *Engine {
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			idx, _ := config["idx"].(int)
			if idx == failOn {
				return nil, errors.New("boom")
			}
			return idx, nil
		},
	})
	return NewEngine(mgr)
}

func parallelWorkflow(failFast bool) *models.SerializedWorkflow {
	return newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("par", models.BlockKindParallel, nil),
			block("pfn", models.BlockKindFunction, map[string]interface{}{"idx": "{{branchIndex}}"}),
		},
		[]models.Connection{
			conn("start", "par"),
		},
		nil,
		map[string]*models.Parallel{
			"par": {Nodes: []string{"pfn"}, ParallelType: models.ParallelTypeCount, Count: 4, FailFast: failFast},
		},
	)
}

// Scenario: parallel count=4 with one failing branch, failFast=false:
// the run succeeds, the failing branch's slot carries its error, and
// the result set still has one entry per branch.
func TestEngine_Parallel_PartialFailure_ContinuesWithoutFailFast(t *testing.T) {
	wf := parallelWorkflow(false)
	eng := newFailingBranchEngine(2)

	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.True(t, result.Success, "result: %+v", result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok, "output: %#v", result.Output)

	results, ok := out["results"].([]*ParallelBranchResult)
	require.True(t, ok, "results: %#v", out["results"])
	require.Len(t, results, 4)

	assert.Equal(t, 3, out["succeeded"])
	assert.Equal(t, 1, out["failed"])

	failedBranch := results[2]
	require.NotNil(t, failedBranch)
	assert.False(t, failedBranch.Success)
	assert.Contains(t, failedBranch.Error, "boom")

	for i, r := range results {
		if i == 2 {
			continue
		}
		require.NotNil(t, r)
		assert.True(t, r.Success)
		assert.Equal(t, i, r.Output)
	}
}

// Scenario: parallel count=4 with one failing branch, failFast=true:
// the whole run fails with that branch's error.
func TestEngine_Parallel_PartialFailure_AbortsWithFailFast(t *testing.T) {
	wf := parallelWorkflow(true)
	eng := newFailingBranchEngine(2)

	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.False(t, result.Success)
	assert.Equal(t, models.KindHandlerFailure, result.Error.Kind)
	assert.Contains(t, result.Error.Message, "boom")
}

// All branches failing leaves the parallel itself as a failure.
func TestEngine_Parallel_AllBranchesFail(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("par", models.BlockKindParallel, nil),
			block("pfn", models.BlockKindFunction, nil),
		},
		[]models.Connection{conn("start", "par")},
		nil,
		map[string]*models.Parallel{
			"par": {Nodes: []string{"pfn"}, ParallelType: models.ParallelTypeCount, Count: 2},
		},
	)
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(context.Context, map[string]interface{}, interface{}) (interface{}, error) {
			return nil, errors.New("always fails")
		},
	})
	eng := NewEngine(mgr)

	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})
	require.False(t, result.Success)
	assert.Equal(t, models.KindHandlerFailure, result.Error.Kind)
}

// A collection-type parallel fans out one branch per distribution item,
// exposing "item" to each branch's scope.
func TestEngine_Parallel_Collection_ExposesItemPerBranch(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("par", models.BlockKindParallel, nil),
			block("pfn", models.BlockKindFunction, map[string]interface{}{"echoed": "{{item}}"}),
		},
		[]models.Connection{conn("start", "par")},
		nil,
		map[string]*models.Parallel{
			"par": {
				Nodes:        []string{"pfn"},
				ParallelType: models.ParallelTypeCollection,
				Distribution: []interface{}{"x", "y", "z"},
			},
		},
	)
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			return config["echoed"], nil
		},
	})
	eng := NewEngine(mgr)

	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})
	require.True(t, result.Success, "result: %+v", result.Error)
	out := result.Output.(map[string]interface{})
	results := out["results"].([]*ParallelBranchResult)
	require.Len(t, results, 3)

	seen := map[interface{}]bool{}
	for _, r := range results {
		require.NotNil(t, r)
		require.True(t, r.Success)
		seen[r.Output] = true
	}
	assert.True(t, seen["x"] && seen["y"] && seen["z"])
}
