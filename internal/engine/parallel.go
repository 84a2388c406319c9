package engine

import (
	"context"
	"sync"
	"time"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// parallelRuntime records a completed Parallel container's fan-out for
// introspection; unlike loopRuntime it needs no further scheduler
// advancement, since enterParallel runs every branch to completion
// before returning (§4.5).
type parallelRuntime struct {
	id            string
	parallel      *models.Parallel
	totalBranches int
}

// enterParallel handles a Parallel container becoming ready: it
// resolves the branch plan, runs every branch against its own
// isolated child ExecutionContext (§4.5 "copy-on-write view... scoped
// to member blocks"), aggregates the per-branch results, and activates
// parallel-end-source successors.
func (rn *run) enterParallel(ctx context.Context, block *models.Block) error {
	parallel := rn.ctx.Workflow.Parallels[block.ID]
	if parallel == nil {
		return models.NewExecutionError(models.KindInvalidWorkflow, block.ID, "parallel container has no parallel definition")
	}

	start := time.Now()
	rn.notifyBlockStarted(block, start)

	var items []interface{}
	total := parallel.Count
	if parallel.ParallelType == models.ParallelTypeCollection {
		resolved, err := rn.engine.resolver.ResolveValue(parallel.Distribution, rn.ctx, nil)
		if err != nil {
			rn.finishBlockLog(block, start, false, err, nil)
			return err
		}
		slice, ok := toSlice(resolved)
		if !ok {
			err := models.NewExecutionError(models.KindEvaluationError, block.ID, "distribution did not resolve to a sequence")
			rn.finishBlockLog(block, start, false, err, nil)
			return err
		}
		items = slice
		total = len(slice)
	}

	if rn.parallels == nil {
		rn.parallels = map[string]*parallelRuntime{}
	}
	rn.parallels[block.ID] = &parallelRuntime{id: block.ID, parallel: parallel, totalBranches: total}
	rn.ctx.InitParallel(block.ID, total)

	if total == 0 {
		return rn.finishParallel(block, start, 0)
	}

	members := make(map[string]bool, len(parallel.Nodes))
	for _, n := range parallel.Nodes {
		members[n] = true
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, rn.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstFailure error

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(branchID int) {
			defer wg.Done()
			defer func() { <-sem }()

			branchVars := map[string]interface{}{"branchId": branchID, "branchIndex": branchID}
			if parallel.ParallelType == models.ParallelTypeCollection && branchID < len(items) {
				branchVars["item"] = items[branchID]
			}
			child := NewBranchContext(rn.ctx, branchVars)
			for _, n := range parallel.Nodes {
				child.Activate(n)
			}
			for _, conn := range rn.ctx.Workflow.OutgoingConnections(block.ID) {
				if conn.SourceHandle == models.HandleParallelStartSource {
					child.Activate(conn.Target)
				}
			}

			branchRun := &run{
				engine:         rn.engine,
				ctx:            child,
				envelope:       rn.envelope,
				maxLayers:      rn.maxLayers,
				maxConcurrency: rn.maxConcurrency,
				failFast:       rn.failFast,
				memberFilter:   members,
			}
			result := branchRun.loop(branchCtx)

			br := &ParallelBranchResult{BranchID: branchID, Success: result.Success}
			if result.Success {
				br.Output = result.Output
			} else if result.Error != nil {
				br.Error = result.Error.Message
			}
			rn.ctx.RecordParallelBranch(block.ID, br)

			if !result.Success {
				mu.Lock()
				if firstFailure == nil {
					firstFailure = models.NewExecutionError(models.KindHandlerFailure, block.ID, br.Error)
				}
				mu.Unlock()
				if parallel.FailFast || rn.failFast {
					cancel()
				}
			}
		}(i)
	}
	wg.Wait()

	failFast := parallel.FailFast || rn.failFast
	if failFast && firstFailure != nil {
		rn.finishBlockLog(block, start, false, firstFailure, nil)
		return firstFailure
	}

	return rn.finishParallel(block, start, total)
}

// finishParallel records the container's aggregated output and
// activates its successors. Per §4.5, the Parallel as a whole succeeds
// iff at least one branch succeeded; with zero branches scheduled
// (total == 0) there is nothing to have failed, so it succeeds too.
func (rn *run) finishParallel(block *models.Block, start time.Time, total int) error {
	results := rn.ctx.ParallelResults(block.ID)
	succeeded, failed := 0, 0
	for _, r := range results {
		if r == nil {
			failed++
			continue
		}
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	if total > 0 && succeeded == 0 {
		err := models.NewExecutionError(models.KindHandlerFailure, block.ID, "all parallel branches failed")
		rn.finishBlockLog(block, start, false, err, nil)
		return err
	}
	output := map[string]interface{}{
		"results":       results,
		"totalBranches": len(results),
		"succeeded":     succeeded,
		"failed":        failed,
	}
	rn.ctx.RecordExecution(block.ID, output, time.Since(start).Milliseconds())
	rn.finishBlockLog(block, start, true, nil, output)

	for _, conn := range rn.ctx.Workflow.OutgoingConnections(block.ID) {
		if conn.SourceHandle == models.HandleParallelEndSource {
			rn.ctx.Activate(conn.Target)
		}
	}
	return nil
}
