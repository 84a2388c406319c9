package engine

import (
	"context"
	"sort"
	"time"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// Engine is the workflow execution engine (§4.3, §6): a thin shell
// around PathTracker, InputResolver and the generic handler registry
// that drives one run at a time through Execute. An Engine is
// stateless between runs and safe for concurrent use by multiple
// goroutines each calling Execute with their own workflow/context.
type Engine struct {
	handlers      executor.Manager
	pathTracker   *PathTracker
	resolver      *InputResolver
	conditionEval *ExprConditionEvaluator

	maxLayers      int
	maxConcurrency int
	retryPolicy    *RetryPolicy
	observers      []Observer

	log *logger.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxLayers overrides DefaultMaxLayers.
func WithMaxLayers(n int) Option { return func(e *Engine) { e.maxLayers = n } }

// WithMaxConcurrency overrides DefaultMaxConcurrency.
func WithMaxConcurrency(n int) Option { return func(e *Engine) { e.maxConcurrency = n } }

// WithRetryPolicy overrides the per-block retry policy applied to
// HandlerFailure{Retryable: true} errors (§7).
func WithRetryPolicy(p *RetryPolicy) Option { return func(e *Engine) { e.retryPolicy = p } }

// WithLogger attaches a structured logger; defaults to logger.Default().
func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l } }

// WithObserver registers an observer notified of every block/layer
// lifecycle event across every run this Engine executes (SPEC_FULL.md's
// observer supplement). Multiple calls accumulate.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// NewEngine builds an Engine around a handler registry holding the
// generic work-block executors (function/api/agent/evaluator); the
// control-flow blocks (starter/condition/router/loop/parallel/response)
// are handled by the engine itself since they need direct access to
// scheduler state the plug-in Executor interface doesn't expose.
func NewEngine(handlers executor.Manager, opts ...Option) *Engine {
	e := &Engine{
		handlers:      handlers,
		pathTracker:   NewPathTracker(),
		resolver:      NewInputResolver(),
		conditionEval: NewExprConditionEvaluator(),

		maxLayers:      DefaultMaxLayers,
		maxConcurrency: DefaultMaxConcurrency,
		retryPolicy:    NoRetryPolicy(),

		log: logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs workflow to completion against envelope (the starter's
// input payload) and env (§3 environmentVariables), honoring opts.
// No error crosses this boundary (§6): failures are reported inside
// the returned ExecutionResult.
func (e *Engine) Execute(ctx context.Context, workflow *models.SerializedWorkflow, envelope map[string]interface{}, env map[string]string, opts models.ExecuteOptions) *models.ExecutionResult {
	start := time.Now()

	if err := workflow.Validate(); err != nil {
		return e.failResult(start, models.KindInvalidWorkflow, "", err.Error())
	}

	maxLayers := e.maxLayers
	if opts.MaxLayers > 0 {
		maxLayers = opts.MaxLayers
	}
	maxConcurrency := e.maxConcurrency
	if opts.MaxConcurrency > 0 {
		maxConcurrency = opts.MaxConcurrency
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	runCtx := NewExecutionContext(workflow, env)
	for _, o := range e.observers {
		runCtx.AddObserver(o)
	}

	starter := findStarter(workflow)
	runCtx.Activate(starter.ID)

	rn := &run{
		engine:         e,
		ctx:            runCtx,
		envelope:       envelope,
		maxLayers:      maxLayers,
		maxConcurrency: maxConcurrency,
		failFast:       opts.FailFast,
	}

	result := rn.loop(ctx)
	result.Metadata.StartTime = start
	result.Metadata.EndTime = time.Now()
	result.Metadata.DurationMs = result.Metadata.EndTime.Sub(start).Milliseconds()
	result.Logs = runCtx.Logs()
	return result
}

func findStarter(workflow *models.SerializedWorkflow) *models.Block {
	for _, b := range workflow.Blocks {
		if b.Kind == models.BlockKindStarter {
			return b
		}
	}
	return nil
}

func (e *Engine) failResult(start time.Time, kind models.ErrorKind, blockID, message string) *models.ExecutionResult {
	end := time.Now()
	return &models.ExecutionResult{
		Success: false,
		Error:   &models.ExecutionResultError{Kind: kind, Message: message, BlockID: blockID},
		Metadata: models.ExecutionResultMetadata{
			StartTime:  start,
			EndTime:    end,
			DurationMs: end.Sub(start).Milliseconds(),
		},
	}
}

// run holds the mutable state of a single Execute call: the shared
// ExecutionContext, the loop/parallel runtime bookkeeping keyed by
// container id, and the limits to enforce (§4.3, §4.4, §4.5).
type run struct {
	engine   *Engine
	ctx      *ExecutionContext
	envelope map[string]interface{}

	maxLayers      int
	maxConcurrency int
	failFast       bool

	loops      map[string]*loopRuntime
	parallels  map[string]*parallelRuntime
	layerIndex int

	// memberFilter, when non-nil, restricts readyLayer/lastOutput to
	// this set of block ids. Used by a Parallel branch's nested run
	// (§4.5) so a branch only ever schedules its own member blocks
	// even though it shares the same *models.SerializedWorkflow.
	memberFilter map[string]bool
}

func (rn *run) inScope(blockID string) bool {
	return rn.memberFilter == nil || rn.memberFilter[blockID]
}

// loop drives the layered scheduling algorithm of §4.3 until the run
// terminates: a Response fires, a layer is empty with nothing left to
// advance, an unrecoverable error occurs, or MAX_LAYERS is exceeded.
func (rn *run) loop(ctx context.Context) *models.ExecutionResult {
	for {
		select {
		case <-ctx.Done():
			return rn.cancelledResult(ctx.Err())
		default:
		}

		if out, fired := rn.ctx.ResponseFired(); fired {
			return &models.ExecutionResult{Success: true, Output: out}
		}

		if rn.layerIndex >= rn.maxLayers {
			return rn.engine.failResult(time.Time{}, models.KindRuntimeLimitExceeded, "",
				"execution exceeded the maximum number of scheduling layers")
		}

		ready := rn.readyLayer()
		if len(ready) == 0 {
			advanced, err := rn.advanceContainers(ctx)
			if err != nil {
				return rn.errResult(err)
			}
			if advanced {
				continue
			}
			// Nothing ready and nothing to advance: the run is done.
			return &models.ExecutionResult{Success: true, Output: rn.lastOutput()}
		}

		rn.layerIndex++
		if err := rn.executeLayer(ctx, ready); err != nil {
			return rn.errResult(err)
		}
	}
}

// readyLayer computes the set of blocks eligible to run right now:
// active, not yet executed this iteration scope, with every incoming
// decision edge satisfied (§4.1, §4.3 step 1).
func (rn *run) readyLayer() []string {
	var ready []string
	for id := range rn.ctx.Workflow.Blocks {
		if !rn.inScope(id) {
			continue
		}
		if rn.ctx.IsExecuted(id) {
			continue
		}
		if !rn.engine.pathTracker.IsInActivePath(id, rn.ctx) {
			continue
		}
		ready = append(ready, id)
	}
	sort.Strings(ready)
	return ready
}

func (rn *run) lastOutput() interface{} {
	var newest *models.Block
	for id := range rn.ctx.Workflow.Blocks {
		if !rn.inScope(id) {
			continue
		}
		if !rn.ctx.IsExecuted(id) {
			continue
		}
		// A loop member's output is folded into its container's results.
		if _, l := rn.ctx.Workflow.LoopContaining(id); l != nil {
			continue
		}
		b := rn.ctx.Workflow.GetBlock(id)
		hasInScopeSuccessor := false
		for _, c := range rn.ctx.Workflow.OutgoingConnections(id) {
			if rn.inScope(c.Target) {
				hasInScopeSuccessor = true
				break
			}
		}
		if b != nil && !hasInScopeSuccessor {
			newest = b
		}
	}
	if newest == nil {
		return nil
	}
	out, _ := rn.ctx.BlockOutput(newest.ID)
	return out
}

func (rn *run) errResult(err error) *models.ExecutionResult {
	if ee, ok := err.(*models.ExecutionError); ok {
		return &models.ExecutionResult{
			Success: false,
			Error:   &models.ExecutionResultError{Kind: ee.Kind, Message: ee.Message, BlockID: ee.BlockID},
		}
	}
	return &models.ExecutionResult{
		Success: false,
		Error:   &models.ExecutionResultError{Kind: models.KindHandlerFailure, Message: err.Error()},
	}
}

// advanceContainers is called whenever readyLayer is empty: it finds
// an in-flight Loop whose current iteration has quiesced and advances
// it one step (§4.3 step 3, §4.4). Parallel containers need no
// advancement here since enterParallel runs every branch to
// completion before returning (§4.5).
func (rn *run) advanceContainers(ctx context.Context) (bool, error) {
	for loopID := range rn.loops {
		if rn.ctx.IsLoopCompleted(loopID) {
			continue
		}
		if rn.loopQuiesced(loopID) {
			return rn.advanceLoop(loopID)
		}
	}
	return false, nil
}

func (rn *run) cancelledResult(err error) *models.ExecutionResult {
	msg := "execution cancelled"
	if err != nil {
		msg = err.Error()
	}
	return &models.ExecutionResult{
		Success: false,
		Error:   &models.ExecutionResultError{Kind: models.KindCancelled, Message: msg},
	}
}
