package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/smilemakc/flowrunner/internal/template"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// curlyRefPattern matches {{blockName_or_id.field.subfield}} references.
var curlyRefPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// wholeCurlyRefPattern matches a string that is *entirely* one {{..}}
// reference, so the resolver can return the typed value rather than a
// stringified one (§4.2 "Whole-value references").
var wholeCurlyRefPattern = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)

// angleRefPattern matches <blockName.field> references used inside
// code/condition expressions (§4.2).
var angleRefPattern = regexp.MustCompile(`<([A-Za-z0-9_]+(?:\.[A-Za-z0-9_\[\]]+)*)>`)

// InputResolver substitutes {{...}} and <...> references in a block's
// config against the ExecutionContext immediately before execution
// (§4.2). It holds no mutable state; all state is read from the
// ExecutionContext and the iteration variables derived from it.
type InputResolver struct{}

// NewInputResolver creates an InputResolver.
func NewInputResolver() *InputResolver {
	return &InputResolver{}
}

// ResolveBlockConfig resolves every template reference in block.Config,
// producing the final input record handed to the block's handler.
func (r *InputResolver) ResolveBlockConfig(block *models.Block, ctx *ExecutionContext) (map[string]interface{}, error) {
	iter := r.iterationScope(block, ctx)
	resolved := make(map[string]interface{}, len(block.Config))
	for k, v := range block.Config {
		rv, err := r.ResolveValue(v, ctx, iter)
		if err != nil {
			return nil, err
		}
		resolved[k] = rv
	}
	return resolved, nil
}

// ResolveValue resolves references anywhere inside an arbitrary
// value — string, map, or slice — recursively.
func (r *InputResolver) ResolveValue(v interface{}, ctx *ExecutionContext, iter map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, ctx, iter)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			rv, err := r.ResolveValue(item, ctx, iter)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rv, err := r.ResolveValue(item, ctx, iter)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString resolves both reference syntaxes in s. A string that
// is entirely a single {{..}} reference yields the resolved value
// as-is (object/array preserved); otherwise matches are stringified
// and substituted inline, preserving surrounding text (§4.2).
func (r *InputResolver) resolveString(s string, ctx *ExecutionContext, iter map[string]interface{}) (interface{}, error) {
	s, err := r.resolveAngleRefs(s, ctx, iter)
	if err != nil {
		return nil, err
	}

	if m := wholeCurlyRefPattern.FindStringSubmatch(s); m != nil {
		val, err := r.resolveReference(m[1], ctx, iter)
		if err != nil {
			return nil, err
		}
		return val, nil
	}

	var firstErr error
	out := curlyRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := curlyRefPattern.FindStringSubmatch(match)
		val, err := r.resolveReference(sub[1], ctx, iter)
		if err != nil {
			firstErr = err
			return match
		}
		return stringifyValue(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// resolveAngleRefs substitutes <blockName.field> tokens inline as
// strings — the syntax used inside Function code and Condition
// expressions (§4.2), resolved with the same priority rules as {{..}}.
func (r *InputResolver) resolveAngleRefs(s string, ctx *ExecutionContext, iter map[string]interface{}) (string, error) {
	if !strings.Contains(s, "<") {
		return s, nil
	}
	var firstErr error
	out := angleRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := angleRefPattern.FindStringSubmatch(match)
		val, err := r.resolveReference(sub[1], ctx, iter)
		if err != nil {
			firstErr = err
			return match
		}
		return stringifyValue(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// resolveReference resolves one "type.path" (or bare "name") reference
// body against, in priority order: iteration variables, block outputs,
// environment variables, literal passthrough (§4.2). An unresolved
// reference raises ReferenceResolutionError.
func (r *InputResolver) resolveReference(ref string, ctx *ExecutionContext, iter map[string]interface{}) (interface{}, error) {
	name, path := splitRef(ref)

	if iter != nil {
		if root, ok := iter[name]; ok {
			v, found := template.ResolvePath(root, path)
			if found {
				return v, nil
			}
		}
	}

	if name == "env" {
		envName, rest := splitRef(path)
		if v, ok := ctx.EnvironmentVariables[envName]; ok {
			resolved, found := template.ResolvePath(interface{}(v), rest)
			if found {
				return resolved, nil
			}
		}
		return nil, unresolvedErr(ref)
	}

	if block := ctx.Workflow.BlockByNameOrID(name); block != nil {
		output, ok := ctx.BlockOutput(block.ID)
		if ok {
			if v, found := template.ResolvePath(output, path); found {
				return v, nil
			}
		}
		return nil, unresolvedErr(ref)
	}

	return nil, unresolvedErr(ref)
}

func unresolvedErr(ref string) error {
	return models.NewExecutionError(models.KindReferenceResolutionError, "", "unresolved reference: {{"+ref+"}}")
}

// splitRef splits "name.rest.of.path" into ("name", "rest.of.path").
func splitRef(ref string) (string, string) {
	idx := strings.IndexByte(ref, '.')
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}

// iterationScope builds the iteration variables visible to block, from
// its directly enclosing Loop or Parallel container, if any (§4.2
// priority 1, §4.4/§4.5). A block belongs to at most one direct
// container; a container nested in another owns its own scope (§4.4
// tie-break), so no merging across levels is needed here.
func (r *InputResolver) iterationScope(block *models.Block, ctx *ExecutionContext) map[string]interface{} {
	scope := map[string]interface{}{}
	if ctx.branchVars != nil {
		for k, v := range ctx.branchVars {
			scope[k] = v
		}
	}
	if loopID, loop := ctx.Workflow.LoopContaining(block.ID); loop != nil {
		item, _ := ctx.LoopItem(loopID)
		index, _ := ctx.LoopIteration(loopID)
		scope["index"] = index
		scope["item"] = item
		scope["currentItem"] = item
		scope["loop"] = map[string]interface{}{"index": index, "item": item}
	}
	if len(scope) == 0 {
		return nil
	}
	return scope
}

func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
