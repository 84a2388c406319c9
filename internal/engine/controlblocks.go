package engine

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// conditionSpec is one entry of a Condition block's resolved
// "conditions" input: an ordered expression list, the last of which
// may be the implicit else branch (§4.6).
type conditionSpec struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// executeStarter seeds the run's initial output from the envelope
// (§4.6 Starter): manual input, webhook payload, or scheduled trigger
// data, whichever the caller supplied.
func executeStarter(envelope map[string]interface{}) interface{} {
	out := make(map[string]interface{}, len(envelope))
	for k, v := range envelope {
		out[k] = v
	}
	return out
}

// executeCondition evaluates resolvedInputs["conditions"] in order,
// the first true expression winning; an empty-value entry is the
// implicit else (§4.6). Each expression's <blockName.field> references
// were already substituted to literal text by the resolver; the
// sandboxed scope exposed to expr-lang is the ambient "context" built
// from ctx (§9).
func (e *Engine) executeCondition(block *models.Block, resolved map[string]interface{}, ctx *ExecutionContext) (interface{}, error) {
	raw, ok := resolved["conditions"]
	if !ok {
		return nil, models.NewExecutionError(models.KindInvalidConditionsFormat, block.ID, "conditions field is required")
	}

	specs, err := parseConditionSpecs(raw)
	if err != nil {
		return nil, models.NewExecutionError(models.KindInvalidConditionsFormat, block.ID, err.Error())
	}

	scope := e.conditionScope(block, ctx)

	for _, spec := range specs {
		if spec.Value == "" {
			// Implicit else: always matches.
			return conditionOutput(block, ctx, spec, true), nil
		}
		matched, err := e.conditionEval.Evaluate(spec.Value, scope)
		if err != nil {
			return nil, models.NewExecutionError(models.KindEvaluationError, block.ID, err.Error())
		}
		if matched {
			return conditionOutput(block, ctx, spec, true), nil
		}
	}

	return nil, models.NewExecutionError(models.KindNoMatchingBranch, block.ID, "no condition matched and no else branch is present")
}

func conditionOutput(block *models.Block, ctx *ExecutionContext, spec conditionSpec, matched bool) map[string]interface{} {
	target := firstTargetForHandle(ctx.Workflow, block.ID, models.ConditionHandle(block.ID, spec.ID))
	return map[string]interface{}{
		"conditionResult":     matched,
		"selectedConditionId": spec.ID,
		"selectedPath": map[string]interface{}{
			"blockId":   target,
			"blockType": targetKind(ctx.Workflow, target),
			"blockTitle": targetName(ctx.Workflow, target),
		},
	}
}

func parseConditionSpecs(raw interface{}) ([]conditionSpec, error) {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("conditions is not JSON-encodable: %w", err)
		}
		text = string(data)
	}
	var specs []conditionSpec
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		return nil, fmt.Errorf("conditions is not a valid JSON-encoded sequence: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("conditions sequence is empty")
	}
	return specs, nil
}

// conditionScope builds the sandboxed evaluation scope exposed to
// expr-lang as "context": upstream outputs keyed by block id and name,
// enclosing loop vars, and environment variables (§9). Host access is
// never exposed.
func (e *Engine) conditionScope(block *models.Block, ctx *ExecutionContext) map[string]interface{} {
	scope := map[string]interface{}{}
	for id, b := range ctx.Workflow.Blocks {
		if out, ok := ctx.BlockOutput(id); ok {
			scope[id] = out
			if b.Name != "" && b.Name != id {
				scope[b.Name] = out
			}
		}
	}
	env := map[string]interface{}{}
	for k, v := range ctx.EnvironmentVariables {
		env[k] = v
	}
	scope["env"] = env

	iter := e.resolver.iterationScope(block, ctx)
	for k, v := range iter {
		scope[k] = v
	}
	return scope
}

// executeRouter validates that resolvedInputs names a direct successor
// and builds the router's output shape (§4.6 Router). The actual
// classification (which target to pick) is opaque to the engine; a
// real router handler would call an LLM classifier or rule table. This
// control-block wrapper exists so routers authored purely with a
// static "target" config field work without a custom handler.
func executeRouter(block *models.Block, resolved map[string]interface{}, ctx *ExecutionContext) (interface{}, error) {
	targetID, _ := resolved["target"].(string)
	if targetID == "" {
		return nil, models.NewExecutionError(models.KindRouterSelectionError, block.ID, "router produced no target selection")
	}
	if !hasDirectSuccessor(ctx.Workflow, block.ID, targetID) {
		return nil, models.NewExecutionError(models.KindRouterSelectionError, block.ID,
			"selected target "+targetID+" is not a direct successor of the router")
	}
	return map[string]interface{}{
		"selectedPath": map[string]interface{}{
			"blockId":    targetID,
			"blockType":  targetKind(ctx.Workflow, targetID),
			"blockTitle": targetName(ctx.Workflow, targetID),
		},
	}, nil
}

// executeResponse marks the run finished-with-explicit-output (§4.6
// Response). The scope at which this terminates (iteration/loop/run)
// is resolved by the Loop's EffectiveResponseScope when the block is a
// loop member (§9 open question).
func executeResponse(resolved map[string]interface{}) interface{} {
	out := make(map[string]interface{}, len(resolved))
	for k, v := range resolved {
		out[k] = v
	}
	return out
}

func firstTargetForHandle(wf *models.SerializedWorkflow, source, handle string) string {
	for _, c := range wf.OutgoingConnections(source) {
		if c.SourceHandle == handle {
			return c.Target
		}
	}
	return ""
}

func targetKind(wf *models.SerializedWorkflow, id string) models.BlockKind {
	if b := wf.GetBlock(id); b != nil {
		return b.Kind
	}
	return ""
}

func targetName(wf *models.SerializedWorkflow, id string) string {
	if b := wf.GetBlock(id); b != nil {
		return b.Name
	}
	return ""
}
