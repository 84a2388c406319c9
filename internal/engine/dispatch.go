package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/smilemakc/flowrunner/internal/infrastructure/tracing"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// executeLayer runs every block in ready concurrently, bounded by
// maxConcurrency, then folds the finished set into the path tracker
// in one batch (§4.3 step 2: "concurrent intra-layer execution").
func (rn *run) executeLayer(ctx context.Context, ready []string) error {
	return tracing.TraceLayer(ctx, rn.layerIndex, len(ready), func(ctx context.Context) error {
		sem := make(chan struct{}, rn.maxConcurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var finished []string
		var firstErr error

		for _, id := range ready {
			wg.Add(1)
			sem <- struct{}{}
			go func(blockID string) {
				defer wg.Done()
				defer func() { <-sem }()

				err := rn.executeBlock(ctx, blockID)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				finished = append(finished, blockID)
			}(id)
		}
		wg.Wait()

		if err := rn.engine.pathTracker.UpdateActivePath(finished, rn.ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// executeBlock resolves a block's config against the current context,
// dispatches to the appropriate handler, and records the result
// (§4.2, §4.6). Control-flow block kinds are handled inline by the
// engine; everything else goes through the generic executor.Manager.
func (rn *run) executeBlock(ctx context.Context, blockID string) error {
	block := rn.ctx.Workflow.GetBlock(blockID)
	if block == nil {
		return models.NewExecutionError(models.KindInvalidWorkflow, blockID, "block disappeared from workflow during execution")
	}

	if block.Kind == models.BlockKindLoop {
		return rn.enterLoop(ctx, block)
	}
	if block.Kind == models.BlockKindParallel {
		return rn.enterParallel(ctx, block)
	}

	start := time.Now()
	rn.notifyBlockStarted(block, start)

	resolved, err := rn.engine.resolver.ResolveBlockConfig(block, rn.ctx)
	if err != nil {
		rn.finishBlockLog(block, start, false, err, nil)
		return err
	}

	if !block.Enabled {
		rn.ctx.RecordExecution(block.ID, resolved, time.Since(start).Milliseconds())
		rn.finishBlockLog(block, start, true, nil, resolved)
		return nil
	}

	output, err := tracing.TraceBlock(ctx, block.ID, string(block.Kind), func(ctx context.Context) (interface{}, error) {
		return rn.dispatch(ctx, block, resolved)
	})
	if err != nil {
		if rp, ok := rn.retryableDispatch(ctx, block, resolved, err); ok {
			output, err = rp, nil
		}
	}
	if err != nil {
		rn.finishBlockLog(block, start, false, err, nil)
		return err
	}

	rn.ctx.RecordExecution(block.ID, output, time.Since(start).Milliseconds())
	rn.finishBlockLog(block, start, true, nil, output)

	if block.Kind == models.BlockKindResponse {
		rn.fireResponse(block, output)
	}
	return nil
}

// retryableDispatch retries a failed dispatch under the engine's retry
// policy only when the error is explicitly marked Retryable (§7
// HandlerFailure{Retryable}).
func (rn *run) retryableDispatch(ctx context.Context, block *models.Block, resolved map[string]interface{}, firstErr error) (interface{}, bool) {
	ee, ok := firstErr.(*models.ExecutionError)
	if !ok || !ee.Retryable {
		return nil, false
	}
	// The failed dispatch was the first attempt; a policy allowing at
	// most one attempt leaves nothing to retry.
	if rn.engine.retryPolicy == nil || rn.engine.retryPolicy.MaxAttempts <= 1 {
		return nil, false
	}
	var out interface{}
	err := rn.engine.retryPolicy.Execute(ctx, func() error {
		o, err := rn.dispatch(ctx, block, resolved)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

func (rn *run) dispatch(ctx context.Context, block *models.Block, resolved map[string]interface{}) (interface{}, error) {
	switch block.Kind {
	case models.BlockKindStarter:
		return executeStarter(rn.envelope), nil
	case models.BlockKindCondition:
		return rn.engine.executeCondition(block, resolved, rn.ctx)
	case models.BlockKindRouter:
		return executeRouter(block, resolved, rn.ctx)
	case models.BlockKindResponse:
		return executeResponse(resolved), nil
	default:
		handler, err := rn.engine.handlers.Get(string(block.Kind))
		if err != nil {
			return nil, models.NewExecutionError(models.KindHandlerFailure, block.ID, "no handler registered for block kind "+string(block.Kind))
		}
		input, _ := rn.blockInput(block)
		out, err := handler.Execute(ctx, resolved, input)
		if err != nil {
			return nil, wrapHandlerError(block.ID, err)
		}
		return out, nil
	}
}

// wrapHandlerError attaches blockID to a handler's error, preserving a
// Retryable classification the handler already made (e.g. the Api
// handler's network-error path, §4.6) instead of flattening it to a
// fresh non-retryable HandlerFailure.
func wrapHandlerError(blockID string, err error) error {
	if ee, ok := err.(*models.ExecutionError); ok {
		if ee.BlockID == "" {
			ee.BlockID = blockID
		}
		return ee
	}
	return models.NewExecutionError(models.KindHandlerFailure, blockID, err.Error())
}

// blockInput feeds a work-block handler the output of its (single,
// typical) upstream predecessor, falling back to the run envelope for
// blocks with no predecessor in scope.
func (rn *run) blockInput(block *models.Block) (interface{}, bool) {
	incoming := rn.ctx.Workflow.IncomingConnections(block.ID)
	for _, conn := range incoming {
		if out, ok := rn.ctx.BlockOutput(conn.Source); ok {
			return out, true
		}
	}
	return rn.envelope, true
}

func (rn *run) notifyBlockStarted(block *models.Block, start time.Time) {
	rn.ctx.notify(ExecutionEvent{
		Type:      models.EventTypeBlockStarted,
		BlockID:   block.ID,
		BlockName: block.Name,
		BlockType: string(block.Kind),
		Timestamp: start,
	})
}

func (rn *run) finishBlockLog(block *models.Block, start time.Time, success bool, err error, output interface{}) {
	end := time.Now()
	log := models.BlockLog{
		BlockID:       block.ID,
		BlockName:     block.Name,
		BlockType:     block.Kind,
		StartedAt:     start,
		EndedAt:       end,
		Success:       success,
		OutputSummary: output,
	}
	if err != nil {
		log.Error = err.Error()
	}
	rn.ctx.AppendLog(log)

	eventType := models.EventTypeBlockCompleted
	if !success {
		eventType = models.EventTypeBlockFailed
	}
	rn.ctx.notify(ExecutionEvent{
		Type:       eventType,
		BlockID:    block.ID,
		BlockName:  block.Name,
		BlockType:  string(block.Kind),
		Success:    success,
		Error:      err,
		Output:     output,
		DurationMs: end.Sub(start).Milliseconds(),
		Timestamp:  end,
	})
}

// toSlice coerces a resolved forEachItems value into a []interface{},
// accepting both a native slice and a JSON array encoded as a string.
func toSlice(v interface{}) ([]interface{}, bool) {
	switch val := v.(type) {
	case []interface{}:
		return val, true
	case string:
		var out []interface{}
		if err := json.Unmarshal([]byte(val), &out); err == nil {
			return out, true
		}
		return nil, false
	default:
		return nil, false
	}
}
