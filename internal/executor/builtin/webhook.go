package builtin

import (
	"context"

	"github.com/smilemakc/flowrunner/internal/executor"
)

// WebhookExecutor is the in-graph boundary node for a webhook-trigger
// block (§4.6). Signature verification and replay-guard checks already
// happened at the HTTP edge before the run started (internal/trigger);
// by the time the scheduler reaches this block its job is only to
// surface the already-verified payload as the block's own output so
// downstream references like {{webhookNode.payload}} resolve.
type WebhookExecutor struct {
	*executor.BaseExecutor
}

// NewWebhookExecutor creates a new webhook-trigger block handler.
func NewWebhookExecutor() *WebhookExecutor {
	return &WebhookExecutor{BaseExecutor: executor.NewBaseExecutor("webhook")}
}

// Validate accepts any config; the webhook's provider/path are
// enforced by internal/trigger at registration time, not here.
func (w *WebhookExecutor) Validate(cfg map[string]any) error {
	return nil
}

// Execute returns input verbatim: the envelope produced by the trigger
// dispatcher for a `webhook` Starter. When the block also carries static
// config fields, it returns the config with the input's fields merged
// over it (a key present in both keeps the input's value).
func (w *WebhookExecutor) Execute(_ context.Context, cfg map[string]any, input any) (any, error) {
	if len(cfg) == 0 {
		return input, nil
	}
	out := make(map[string]any, len(cfg)+1)
	for k, v := range cfg {
		out[k] = v
	}
	if m, ok := input.(map[string]interface{}); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if input != nil {
		out["input"] = input
	}
	return out, nil
}
