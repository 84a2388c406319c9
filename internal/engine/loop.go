package engine

import (
	"context"
	"time"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// loopRuntime is the scheduler-side bookkeeping for one Loop container
// in flight (§4.4): its resolved item sequence (forEach) or iteration
// count (for), and the per-iteration outputs collected so far.
type loopRuntime struct {
	id    string
	loop  *models.Loop
	items []interface{} // only set for forEach loops

	totalIterations   int
	iterationResults  []interface{}
	breakRequested    bool // a Response with scope "loop" fired inside this loop
}

// enterLoop handles a Loop container becoming ready: it resolves the
// iteration plan, enters iteration 0 (Pending -> Iterating(0), §4.4),
// and records a placeholder execution for the container block itself.
// The container's real output (results, totalIterations) is recorded
// later, in finishLoop.
func (rn *run) enterLoop(ctx context.Context, block *models.Block) error {
	loop := rn.ctx.Workflow.Loops[block.ID]
	if loop == nil {
		return models.NewExecutionError(models.KindInvalidWorkflow, block.ID, "loop container has no loop definition")
	}

	start := time.Now()
	rn.notifyBlockStarted(block, start)

	lr := &loopRuntime{id: block.ID, loop: loop}
	total := loop.Iterations
	if loop.LoopType == models.LoopTypeForEach {
		resolved, err := rn.engine.resolver.ResolveValue(loop.ForEachItems, rn.ctx, nil)
		if err != nil {
			rn.finishBlockLog(block, start, false, err, nil)
			return err
		}
		items, ok := toSlice(resolved)
		if !ok {
			err := models.NewExecutionError(models.KindEvaluationError, block.ID, "forEachItems did not resolve to a sequence")
			rn.finishBlockLog(block, start, false, err, nil)
			return err
		}
		lr.items = items
		total = len(items)
	}
	lr.totalIterations = total

	if rn.loops == nil {
		rn.loops = map[string]*loopRuntime{}
	}
	rn.loops[block.ID] = lr

	rn.ctx.RecordExecution(block.ID, nil, time.Since(start).Milliseconds())
	rn.finishBlockLog(block, start, true, nil, nil)

	if total == 0 {
		return rn.finishLoop(block.ID)
	}
	rn.beginIteration(block.ID, 0)
	return nil
}

// beginIteration seeds iteration vars for index k and resets the
// member blocks' execution state so they run again (§3, §4.4).
func (rn *run) beginIteration(loopID string, k int) {
	lr := rn.loops[loopID]
	rn.ctx.SetLoopIteration(loopID, k)

	var item interface{} = k
	if lr.loop.LoopType == models.LoopTypeForEach && k < len(lr.items) {
		item = lr.items[k]
	}
	rn.ctx.SetLoopItem(loopID, item)

	rn.ctx.ResetForIteration(lr.loop.Nodes)
	rn.ctx.Activate(lr.loop.Nodes...)
	for _, conn := range rn.ctx.Workflow.OutgoingConnections(loopID) {
		if conn.SourceHandle == models.HandleLoopStartSource {
			rn.ctx.Activate(conn.Target)
		}
	}

	rn.ctx.notify(ExecutionEvent{
		Type:      models.EventTypeLoopIteration,
		BlockID:   loopID,
		Message:   "iteration",
		LayerIndex: k,
		Timestamp: time.Now(),
	})
}

// loopQuiesced reports whether the current iteration of loopID has
// nothing left to run: every member block has either executed, or is
// no longer reachable on the active path (§4.4).
func (rn *run) loopQuiesced(loopID string) bool {
	lr := rn.loops[loopID]
	if lr == nil {
		return false
	}
	for _, n := range lr.loop.Nodes {
		if rn.ctx.IsExecuted(n) {
			continue
		}
		if rn.engine.pathTracker.IsInActivePath(n, rn.ctx) {
			return false
		}
	}
	return true
}

// advanceLoop moves loopID from the just-finished iteration to the
// next one, or to Completed if this was the last iteration or a
// loop-scoped Response broke out early (§4.4).
func (rn *run) advanceLoop(loopID string) (bool, error) {
	lr := rn.loops[loopID]
	if lr == nil {
		return false, nil
	}

	lr.iterationResults = append(lr.iterationResults, rn.loopIterationOutput(lr))

	k, _ := rn.ctx.LoopIteration(loopID)
	next := k + 1
	if !lr.breakRequested && next < lr.totalIterations {
		rn.beginIteration(loopID, next)
		return true, nil
	}
	return true, rn.finishLoop(loopID)
}

// loopIterationOutput is the per-iteration value folded into the
// Loop's final "results" sequence: the single member block's own
// output when the loop has exactly one member (the common case,
// §8 scenario 3/4), or a map of every member's output keyed by id
// otherwise.
func (rn *run) loopIterationOutput(lr *loopRuntime) interface{} {
	if len(lr.loop.Nodes) == 1 {
		v, _ := rn.ctx.BlockOutput(lr.loop.Nodes[0])
		return v
	}
	out := make(map[string]interface{}, len(lr.loop.Nodes))
	for _, n := range lr.loop.Nodes {
		if v, ok := rn.ctx.BlockOutput(n); ok {
			out[n] = v
		}
	}
	return out
}

// finishLoop records the container's final output and activates its
// loop-end-source successors (§4.1, §4.4 Completed).
func (rn *run) finishLoop(loopID string) error {
	lr := rn.loops[loopID]
	output := map[string]interface{}{
		"results":         lr.iterationResults,
		"totalIterations": len(lr.iterationResults),
	}
	if lr.breakRequested {
		output["brokeEarly"] = true
	}

	rn.ctx.Deactivate(lr.loop.Nodes...)
	rn.ctx.CompleteLoop(loopID)
	rn.ctx.RecordExecution(loopID, output, 0)

	for _, conn := range rn.ctx.Workflow.OutgoingConnections(loopID) {
		if conn.SourceHandle == models.HandleLoopEndSource {
			rn.ctx.Activate(conn.Target)
		}
	}
	return nil
}

// breakIteration force-completes every not-yet-executed member block
// of loopID's current iteration with a nil output, so the next
// scheduling pass sees the iteration as quiesced (§9 ResponseScope
// "iteration").
func (rn *run) breakIteration(loopID string) {
	lr := rn.loops[loopID]
	if lr == nil {
		return
	}
	for _, n := range lr.loop.Nodes {
		if !rn.ctx.IsExecuted(n) {
			rn.ctx.RecordExecution(n, nil, 0)
		}
	}
}

// breakLoop marks loopID to complete after the current iteration
// instead of continuing (§9 ResponseScope "loop").
func (rn *run) breakLoop(loopID string) {
	lr := rn.loops[loopID]
	if lr == nil {
		return
	}
	lr.breakRequested = true
	rn.breakIteration(loopID)
}

// fireResponse resolves a Response block's effective scope (§9 open
// question, models.Loop.EffectiveResponseScope) and applies it: "run"
// ends the whole execution with this output, "loop" ends the
// enclosing loop early, "iteration" ends only the current iteration.
// A Response outside any loop always ends the run.
func (rn *run) fireResponse(block *models.Block, output interface{}) {
	loopID, loop := rn.ctx.Workflow.LoopContaining(block.ID)
	if loop == nil {
		rn.ctx.FireResponse(output)
		return
	}
	switch loop.EffectiveResponseScope() {
	case models.ResponseScopeLoop:
		rn.breakLoop(loopID)
	case models.ResponseScopeIteration:
		rn.breakIteration(loopID)
	default:
		rn.ctx.FireResponse(output)
	}
}
