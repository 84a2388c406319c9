package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// IsInActivePath with no incoming edges depends only on activation.
func TestPathTracker_NoIncoming_DependsOnActivation(t *testing.T) {
	wf := newWorkflow([]*models.Block{block("a", models.BlockKindFunction, nil)}, nil, nil, nil)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()

	assert.False(t, pt.IsInActivePath("a", ctx))
	ctx.Activate("a")
	assert.True(t, pt.IsInActivePath("a", ctx))
}

// A router's unselected successor is never in the active path even if
// it happens to be marked active directly.
func TestPathTracker_RouterEdge_OnlySelectedTargetSatisfied(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("router", models.BlockKindRouter, nil),
			block("t1", models.BlockKindFunction, nil),
			block("t2", models.BlockKindFunction, nil),
		},
		[]models.Connection{conn("router", "t1"), conn("router", "t2")},
		nil, nil,
	)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()

	ctx.RecordRouterDecision("router", "t2")
	ctx.Activate("t1", "t2")

	assert.False(t, pt.IsInActivePath("t1", ctx))
	assert.True(t, pt.IsInActivePath("t2", ctx))
}

// A condition's edge is only satisfied when its handle names the
// recorded selection.
func TestPathTracker_ConditionEdge_MatchesSelectedHandle(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("cond", models.BlockKindCondition, nil),
			block("onTrue", models.BlockKindFunction, nil),
			block("onFalse", models.BlockKindFunction, nil),
		},
		[]models.Connection{
			connHandle("cond", "onTrue", models.ConditionHandle("cond", "c1")),
			connHandle("cond", "onFalse", models.ConditionHandle("cond", "else1")),
		},
		nil, nil,
	)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()

	ctx.RecordConditionDecision("cond", "c1")
	ctx.Activate("onTrue", "onFalse")

	assert.True(t, pt.IsInActivePath("onTrue", ctx))
	assert.False(t, pt.IsInActivePath("onFalse", ctx))
}

// A loop-end-source edge only satisfies once the loop has completed.
func TestPathTracker_LoopEndEdge_WaitsForCompletion(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("loop", models.BlockKindLoop, nil),
			block("after", models.BlockKindFunction, nil),
		},
		[]models.Connection{connHandle("loop", "after", models.HandleLoopEndSource)},
		nil, nil,
	)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()
	ctx.Activate("after")

	assert.False(t, pt.IsInActivePath("after", ctx))
	ctx.CompleteLoop("loop")
	assert.True(t, pt.IsInActivePath("after", ctx))
}

// A parallel-end-source edge only satisfies once every branch has
// recorded a result.
func TestPathTracker_ParallelEndEdge_WaitsForAllBranches(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("par", models.BlockKindParallel, nil),
			block("after", models.BlockKindFunction, nil),
		},
		[]models.Connection{connHandle("par", "after", models.HandleParallelEndSource)},
		nil, nil,
	)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()
	ctx.Activate("after")
	ctx.InitParallel("par", 2)

	assert.False(t, pt.IsInActivePath("after", ctx))
	ctx.RecordParallelBranch("par", &ParallelBranchResult{BranchID: 0, Success: true})
	assert.False(t, pt.IsInActivePath("after", ctx))
	ctx.RecordParallelBranch("par", &ParallelBranchResult{BranchID: 1, Success: true})
	assert.True(t, pt.IsInActivePath("after", ctx))
}

// A default edge from a plain (non-decision) block is satisfied purely
// by the source having executed.
func TestPathTracker_DefaultEdge_SatisfiedByExecution(t *testing.T) {
	wf := newWorkflow(
		[]*models.Block{
			block("a", models.BlockKindFunction, nil),
			block("b", models.BlockKindFunction, nil),
		},
		[]models.Connection{conn("a", "b")},
		nil, nil,
	)
	ctx := NewExecutionContext(wf, nil)
	pt := NewPathTracker()
	ctx.Activate("b")

	assert.False(t, pt.IsInActivePath("b", ctx))
	ctx.RecordExecution("a", nil, 0)
	assert.True(t, pt.IsInActivePath("b", ctx))
}
