package builtin

import "github.com/smilemakc/flowrunner/internal/executor"

// RegisterBuiltins registers the generic handlers (Function, Api, Agent,
// Evaluator, Webhook) with mgr, keyed by block kind. Condition/Router/Loop/
// Parallel/Response/Starter are engine-internal handlers, handled inline
// by internal/engine's dispatch and never registered here (§4.6's note that those kinds
// are too tightly coupled to scheduler state to live behind this
// generic plug-in interface).
func RegisterBuiltins(mgr executor.Manager) error {
	handlers := map[string]executor.Executor{
		"function":  NewFunctionExecutor(),
		"api":       NewApiExecutor(),
		"agent":     NewAgentExecutor(),
		"evaluator": NewEvaluatorExecutor(),
		"webhook":   NewWebhookExecutor(),
	}
	for kind, h := range handlers {
		if err := mgr.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}
