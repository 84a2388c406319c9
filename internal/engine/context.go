package engine

import (
	"sync"
	"time"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// BlockState is one entry of §3's blockStates map: the output produced
// by a block's last execution, whether it has executed at all in the
// current iteration scope, and how long that execution took.
type BlockState struct {
	Output          interface{}
	Executed        bool
	ExecutionTimeMs int64
}

// ExecutionContext is the mutable per-run state of §3. A single run has
// exactly one ExecutionContext, exclusively owned by the Scheduler; all
// mutation goes through its methods, which take the short critical
// sections §5 calls for rather than exposing the maps directly.
type ExecutionContext struct {
	mu sync.RWMutex

	Workflow             *models.SerializedWorkflow
	EnvironmentVariables map[string]string

	blockStates map[string]*BlockState
	blockLogs   []models.BlockLog

	decisionRouter    map[string]string // RouterBlockId -> selected target BlockId
	decisionCondition map[string]string // ConditionBlockId -> selected condition id

	executedBlocks      map[string]bool
	activeExecutionPath map[string]bool

	loopIterations map[string]int         // LoopId -> current 0-based iteration
	loopItems      map[string]interface{} // LoopId -> current item/index
	completedLoops map[string]bool

	parallelState map[string]*parallelRuntimeState // ParallelId -> branch bookkeeping

	responseFired  bool
	responseOutput interface{}

	observers []Observer

	// parent and branchVars support Parallel branch isolation (§4.5):
	// a branch runs against its own child ExecutionContext so its
	// blockStates/executedBlocks don't leak to sibling branches, while
	// still resolving references to blocks outside the Parallel via
	// the parent chain.
	parent     *ExecutionContext
	branchVars map[string]interface{}
}

// NewBranchContext creates a child ExecutionContext for one Parallel
// branch: it shares the workflow/env/observers of parent but starts
// with empty blockStates/executedBlocks/activeExecutionPath so the
// branch's member blocks run in isolation (§4.5). branchVars seeds the
// iteration variables the resolver exposes for this branch (e.g.
// branchId, item).
func NewBranchContext(parent *ExecutionContext, branchVars map[string]interface{}) *ExecutionContext {
	child := NewExecutionContext(parent.Workflow, parent.EnvironmentVariables)
	child.parent = parent
	child.branchVars = branchVars
	child.observers = parent.observers
	return child
}

// parallelRuntimeState tracks one Parallel container's in-flight branch
// bookkeeping; it lives alongside, not inside, the plain blockStates map
// since a branch's member blocks each need their own isolated sub-scope
// (§4.5 "own isolated sub-scope of blockStates/executedBlocks").
type parallelRuntimeState struct {
	totalBranches int
	branchResults []*ParallelBranchResult
	started       bool
}

// ParallelBranchResult is one slot of a completed Parallel's output
// (§4.5, §8 "|results| == totalBranches").
type ParallelBranchResult struct {
	BranchID int         `json:"branchId"`
	Output   interface{} `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	Success  bool        `json:"success"`
}

// NewExecutionContext creates the context for one run, seeded with the
// workflow and environment variables (§3 "provided once per run").
func NewExecutionContext(workflow *models.SerializedWorkflow, env map[string]string) *ExecutionContext {
	if env == nil {
		env = map[string]string{}
	}
	return &ExecutionContext{
		Workflow:             workflow,
		EnvironmentVariables: env,
		blockStates:          make(map[string]*BlockState),
		decisionRouter:       make(map[string]string),
		decisionCondition:    make(map[string]string),
		executedBlocks:       make(map[string]bool),
		activeExecutionPath:  make(map[string]bool),
		loopIterations:       make(map[string]int),
		loopItems:            make(map[string]interface{}),
		completedLoops:       make(map[string]bool),
		parallelState:        make(map[string]*parallelRuntimeState),
	}
}

// AddObserver registers an observer to be notified as the run progresses.
// Must be called before Run starts; it is not itself safe to call
// concurrently with a run in progress.
func (c *ExecutionContext) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

func (c *ExecutionContext) notify(event ExecutionEvent) {
	for _, o := range c.observers {
		o.Notify(event)
	}
}

// BlockOutput returns the recorded output for blockID, and whether it
// has been recorded at all.
func (c *ExecutionContext) BlockOutput(blockID string) (interface{}, bool) {
	c.mu.RLock()
	st, ok := c.blockStates[blockID]
	c.mu.RUnlock()
	if ok {
		return st.Output, true
	}
	if c.parent != nil {
		return c.parent.BlockOutput(blockID)
	}
	return nil, false
}

// IsExecuted reports whether blockID has executed at least once in the
// current iteration scope (§3 executedBlocks). Falls through to the
// parent context for blocks outside this branch's own scope (§4.5).
func (c *ExecutionContext) IsExecuted(blockID string) bool {
	c.mu.RLock()
	ok := c.executedBlocks[blockID]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.parent != nil {
		return c.parent.IsExecuted(blockID)
	}
	return false
}

// IsActive reports whether blockID is currently in activeExecutionPath.
func (c *ExecutionContext) IsActive(blockID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeExecutionPath[blockID]
}

// Activate adds blockIDs to activeExecutionPath.
func (c *ExecutionContext) Activate(blockIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range blockIDs {
		c.activeExecutionPath[id] = true
	}
}

// Deactivate removes blockIDs from activeExecutionPath, used when a
// Loop's members fall out of scope at the end of the loop (§4.4).
func (c *ExecutionContext) Deactivate(blockIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range blockIDs {
		delete(c.activeExecutionPath, id)
	}
}

// RecordExecution folds a completed block's result into the context
// under one short critical section (§4.3 step 2c, §5).
func (c *ExecutionContext) RecordExecution(blockID string, output interface{}, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockStates[blockID] = &BlockState{Output: output, Executed: true, ExecutionTimeMs: durationMs}
	c.executedBlocks[blockID] = true
}

// ResetForIteration clears blockStates/executedBlocks for the given
// member blocks, the boundary of an "iteration scope" (§3, §4.4): a
// loop's members run again in the next iteration, visible as if for
// the first time.
func (c *ExecutionContext) ResetForIteration(blockIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range blockIDs {
		delete(c.blockStates, id)
		delete(c.executedBlocks, id)
	}
}

// AppendLog appends a block activation record in completion order (§6 Logs).
func (c *ExecutionContext) AppendLog(log models.BlockLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockLogs = append(c.blockLogs, log)
}

// Logs returns a copy of the activation log in completion order.
func (c *ExecutionContext) Logs() []models.BlockLog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.BlockLog, len(c.blockLogs))
	copy(out, c.blockLogs)
	return out
}

// RecordRouterDecision records decisions.router[routerID] = target (§4.1 rule 1).
func (c *ExecutionContext) RecordRouterDecision(routerID, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisionRouter[routerID] = target
}

// RouterDecision returns the recorded target for routerID, if any.
func (c *ExecutionContext) RouterDecision(routerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.decisionRouter[routerID]
	return t, ok
}

// RecordConditionDecision records decisions.condition[conditionID] = selectedConditionID (§4.1 rule 2).
func (c *ExecutionContext) RecordConditionDecision(conditionBlockID, selectedConditionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisionCondition[conditionBlockID] = selectedConditionID
}

// ConditionDecision returns the recorded selected condition id for conditionBlockID.
func (c *ExecutionContext) ConditionDecision(conditionBlockID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.decisionCondition[conditionBlockID]
	return id, ok
}

// LoopIteration returns the current 0-based iteration index for LoopId.
func (c *ExecutionContext) LoopIteration(loopID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.loopIterations[loopID]
	return it, ok
}

// SetLoopIteration sets the current iteration index for LoopId.
func (c *ExecutionContext) SetLoopIteration(loopID string, iteration int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopIterations[loopID] = iteration
}

// LoopItem returns the current item/index value an enclosing loop
// exposes to the resolver (§3 loopItems).
func (c *ExecutionContext) LoopItem(loopID string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.loopItems[loopID]
	return v, ok
}

// SetLoopItem sets the current item/index value for LoopId.
func (c *ExecutionContext) SetLoopItem(loopID string, item interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopItems[loopID] = item
}

// IsLoopCompleted reports whether LoopId has finished all iterations.
func (c *ExecutionContext) IsLoopCompleted(loopID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completedLoops[loopID]
}

// CompleteLoop marks LoopId as completed (§4.4).
func (c *ExecutionContext) CompleteLoop(loopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedLoops[loopID] = true
}

// InitParallel establishes bookkeeping for a Parallel container about
// to fan out totalBranches branches.
func (c *ExecutionContext) InitParallel(parallelID string, totalBranches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parallelState[parallelID] = &parallelRuntimeState{
		totalBranches: totalBranches,
		branchResults: make([]*ParallelBranchResult, totalBranches),
		started:       true,
	}
}

// ParallelStarted reports whether InitParallel has been called for parallelID.
func (c *ExecutionContext) ParallelStarted(parallelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.parallelState[parallelID]
	return ok && st.started
}

// RecordParallelBranch records a branch's result in its result slot (§4.5).
func (c *ExecutionContext) RecordParallelBranch(parallelID string, result *ParallelBranchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.parallelState[parallelID]
	if st == nil {
		return
	}
	if result.BranchID >= 0 && result.BranchID < len(st.branchResults) {
		st.branchResults[result.BranchID] = result
	}
}

// ParallelBranchCount returns how many of totalBranches have recorded
// a result so far, and the total.
func (c *ExecutionContext) ParallelBranchCount(parallelID string) (done, total int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.parallelState[parallelID]
	if st == nil {
		return 0, 0
	}
	for _, r := range st.branchResults {
		if r != nil {
			done++
		}
	}
	return done, st.totalBranches
}

// ParallelResults returns the recorded branch results for parallelID in
// branch-id order (§4.5, §8 "|results| == totalBranches").
func (c *ExecutionContext) ParallelResults(parallelID string) []*ParallelBranchResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.parallelState[parallelID]
	if st == nil {
		return nil
	}
	out := make([]*ParallelBranchResult, len(st.branchResults))
	copy(out, st.branchResults)
	return out
}

// FireResponse marks the run as finished-with-explicit-output (§4.6 Response).
func (c *ExecutionContext) FireResponse(output interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.responseFired {
		c.responseFired = true
		c.responseOutput = output
	}
}

// ResponseFired reports whether a Response block has fired this run,
// and the output it fired with.
func (c *ExecutionContext) ResponseFired() (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responseOutput, c.responseFired
}

// nowMs is split out so tests can stub timing-sensitive assertions if needed.
func nowMs(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
