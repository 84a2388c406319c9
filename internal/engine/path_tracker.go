package engine

import (
	"strings"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// PathTracker decides which downstream blocks become active after a
// block finishes (§4.1). It holds no state of its own; all state lives
// on the ExecutionContext it is handed.
type PathTracker struct{}

// NewPathTracker creates a PathTracker.
func NewPathTracker() *PathTracker {
	return &PathTracker{}
}

// UpdateActivePath applies §4.1's rules to every outgoing edge of each
// block in justFinished, activating the targets that are still
// eligible to run.
func (t *PathTracker) UpdateActivePath(justFinished []string, ctx *ExecutionContext) error {
	for _, blockID := range justFinished {
		block := ctx.Workflow.GetBlock(blockID)
		if block == nil {
			continue
		}
		if err := t.activateSuccessors(block, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *PathTracker) activateSuccessors(block *models.Block, ctx *ExecutionContext) error {
	outgoing := ctx.Workflow.OutgoingConnections(block.ID)

	switch block.Kind {
	case models.BlockKindRouter:
		target, err := routerSelection(block, ctx)
		if err != nil {
			return err
		}
		ctx.RecordRouterDecision(block.ID, target)
		ctx.Activate(target)
		return nil

	case models.BlockKindCondition:
		selectedID, target, err := conditionSelection(block, ctx)
		if err != nil {
			return err
		}
		ctx.RecordConditionDecision(block.ID, selectedID)
		ctx.Activate(target)
		return nil
	}

	for _, conn := range outgoing {
		switch {
		case conn.SourceHandle == models.HandleLoopStartSource:
			// Loop member activation for the first iteration is driven by
			// the scheduler's loop state machine (§4.4), not here — the
			// loop container's own execute() call establishes iteration 0
			// before members are activated, so activating eagerly on
			// every re-finish of the container would double-activate.
			continue
		case conn.SourceHandle == models.HandleLoopEndSource:
			// Only activates once the loop has actually completed.
			loopID := block.ID
			if ctx.IsLoopCompleted(loopID) {
				ctx.Activate(conn.Target)
			}
			continue
		case conn.SourceHandle == models.HandleParallelStartSource:
			continue // analogous to loop-start-source, driven by the scheduler.
		case conn.SourceHandle == models.HandleParallelEndSource:
			parallelID := block.ID
			if done, total := ctx.ParallelBranchCount(parallelID); total > 0 && done == total {
				ctx.Activate(conn.Target)
			}
			continue
		default:
			// Default edge (§4.1 rule 5): no handle, or an unrecognized one.
			ctx.Activate(conn.Target)
		}
	}
	return nil
}

// routerSelection reads blockStates[router].output.selectedPath.blockId
// and validates it names a direct successor (§4.1 rule 1, §7 RouterSelectionError).
func routerSelection(router *models.Block, ctx *ExecutionContext) (string, error) {
	output, ok := ctx.BlockOutput(router.ID)
	if !ok {
		return "", models.NewExecutionError(models.KindRouterSelectionError, router.ID, "router produced no output")
	}
	target, err := selectedPathBlockID(output)
	if err != nil {
		return "", models.NewExecutionError(models.KindRouterSelectionError, router.ID, err.Error())
	}
	if !hasDirectSuccessor(ctx.Workflow, router.ID, target) {
		return "", models.NewExecutionError(models.KindRouterSelectionError, router.ID,
			"selected target "+target+" is not a direct successor of the router")
	}
	return target, nil
}

// conditionSelection reads blockStates[cond].output.selectedConditionId
// and finds the single outgoing edge whose sourceHandle names it (§4.1 rule 2).
func conditionSelection(cond *models.Block, ctx *ExecutionContext) (selectedID, target string, err error) {
	output, ok := ctx.BlockOutput(cond.ID)
	if !ok {
		return "", "", models.NewExecutionError(models.KindEvaluationError, cond.ID, "condition produced no output")
	}
	m, ok := asMap(output)
	if !ok {
		return "", "", models.NewExecutionError(models.KindEvaluationError, cond.ID, "condition output is not an object")
	}
	selectedID, ok = m["selectedConditionId"].(string)
	if !ok || selectedID == "" {
		return "", "", models.NewExecutionError(models.KindEvaluationError, cond.ID, "condition output missing selectedConditionId")
	}
	wantHandle := models.ConditionHandle(cond.ID, selectedID)
	for _, conn := range ctx.Workflow.OutgoingConnections(cond.ID) {
		if conn.SourceHandle == wantHandle {
			return selectedID, conn.Target, nil
		}
	}
	return "", "", models.NewExecutionError(models.KindEvaluationError, cond.ID,
		"no outgoing edge for selected condition "+selectedID)
}

// selectedPathBlockID extracts output.selectedPath.blockId from a
// router/condition handler's returned output, whatever its concrete
// shape (map[string]any or a typed struct marshaled through JSON).
func selectedPathBlockID(output interface{}) (string, error) {
	m, ok := asMap(output)
	if !ok {
		return "", models.ErrRequired
	}
	sp, ok := m["selectedPath"]
	if !ok {
		return "", models.ErrRequired
	}
	spm, ok := asMap(sp)
	if !ok {
		return "", models.ErrRequired
	}
	id, ok := spm["blockId"].(string)
	if !ok || id == "" {
		return "", models.ErrRequired
	}
	return id, nil
}

func hasDirectSuccessor(wf *models.SerializedWorkflow, source, target string) bool {
	for _, conn := range wf.OutgoingConnections(source) {
		if conn.Target == target {
			return true
		}
	}
	return false
}

// IsInActivePath resolves transitively whether blockID is currently
// eligible to run: every incoming edge either originates from a
// non-decision block, or from a decision block that selected this
// target (§4.1 rule 6). Loop/parallel boundary edges are resolved via
// container completion state rather than plain decisions.
func (t *PathTracker) IsInActivePath(blockID string, ctx *ExecutionContext) bool {
	incoming := ctx.Workflow.IncomingConnections(blockID)
	if len(incoming) == 0 {
		return ctx.IsActive(blockID)
	}
	if !ctx.IsActive(blockID) {
		return false
	}
	for _, conn := range incoming {
		if !t.edgeSatisfied(conn, ctx) {
			return false
		}
	}
	return true
}

func (t *PathTracker) edgeSatisfied(conn models.Connection, ctx *ExecutionContext) bool {
	source := ctx.Workflow.GetBlock(conn.Source)
	if source == nil {
		return false
	}

	switch {
	case strings.HasPrefix(conn.SourceHandle, "condition-"):
		selectedID, ok := ctx.ConditionDecision(conn.Source)
		if !ok {
			return false
		}
		return conn.SourceHandle == models.ConditionHandle(conn.Source, selectedID)

	case conn.SourceHandle == models.HandleLoopEndSource:
		return ctx.IsLoopCompleted(conn.Source)

	case conn.SourceHandle == models.HandleParallelEndSource:
		done, total := ctx.ParallelBranchCount(conn.Source)
		return total > 0 && done == total

	case conn.SourceHandle == models.HandleLoopStartSource, conn.SourceHandle == models.HandleParallelStartSource:
		return ctx.IsExecuted(conn.Source)
	}

	if source.Kind == models.BlockKindRouter {
		target, ok := ctx.RouterDecision(conn.Source)
		return ok && target == conn.Target
	}

	return ctx.IsExecuted(conn.Source)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
