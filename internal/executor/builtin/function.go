// Package builtin provides the concrete block handlers registered with
// the executor Manager: Function, Api, Agent, Evaluator (§4.6).
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/itchyny/gojq"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/executor/config"
)

const defaultFunctionTimeout = 30 * time.Second

// FunctionExecutor runs user code against resolvedInputs in a sandboxed
// JavaScript runtime (§4.6 Function). Grounded on the javascript engine
// of the rest of the retrieval pack (goja-backed sandbox with a timeout
// context and vm.Interrupt on cancellation), simplified to a single VM
// per call rather than a pooled runtime — this engine calls Function
// blocks at most once per layer per block, so pooling buys nothing here.
type FunctionExecutor struct {
	*executor.BaseExecutor
}

// NewFunctionExecutor creates a new Function block handler.
func NewFunctionExecutor() *FunctionExecutor {
	return &FunctionExecutor{BaseExecutor: executor.NewBaseExecutor("function")}
}

// Validate checks the Function block's config.
func (f *FunctionExecutor) Validate(cfg map[string]any) error {
	c, err := config.ParseConfig[config.FunctionConfig](cfg)
	if err != nil {
		return err
	}
	return c.Validate()
}

// Execute runs cfg["code"] as the body of a JavaScript function with
// `input` bound to the handler's input argument (the upstream block's
// output, or the run envelope), returning the function's return value.
func (f *FunctionExecutor) Execute(ctx context.Context, cfg map[string]any, input any) (any, error) {
	c, err := config.ParseConfig[config.FunctionConfig](cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	timeout := defaultFunctionTimeout
	if c.TimeoutMs > 0 {
		timeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}
	if err := vm.Set("jq", jqHelper); err != nil {
		return nil, fmt.Errorf("bind jq: %w", err)
	}

	type result struct {
		value goja.Value
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("function panicked: %v", r)}
			}
		}()
		wrapped := "(function() {\n" + c.Code + "\n})();"
		val, err := vm.RunString(wrapped)
		resultCh <- result{value: val, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("function execution failed: %w", res.err)
		}
		if res.value == nil {
			return nil, nil
		}
		return res.value.Export(), nil
	case <-execCtx.Done():
		vm.Interrupt("function timed out")
		return nil, fmt.Errorf("function timed out after %s", timeout)
	}
}

// jqHelper exposes gojq to Function block code as `jq(query, value)`,
// a built-in for reshaping JSON-shaped payloads without the block
// author needing to hand-write traversal logic. This is opt-in tooling
// inside the Function block's own sandbox, distinct from the resolver's
// fixed reference grammar (§9: "do not embed a general expression
// language" applies to the resolver, not to what a Function block may
// call internally).
func jqHelper(query string, value any) (any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse jq query: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile jq query: %w", err)
	}
	iter := code.Run(value)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("jq query execution: %w", err)
	}
	return v, nil
}
