package trigger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/smilemakc/flowrunner/internal/infrastructure/cache"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// WebhookRegistration is the (path, active, deployed) lookup entry the
// webhook trigger interface resolves before running a workflow (§6):
// path -> workflow + provider + providerConfig.
type WebhookRegistration struct {
	Path           string
	Provider       string
	ProviderConfig map[string]interface{}
	WorkflowID     string
	Active         bool
	Deployed       bool
}

// WebhookRegistry is the webhook dispatcher: it maps an inbound HTTP
// event to a workflow + initial envelope, then drives one execution
// (spec.md §2 "Webhook dispatcher").
type WebhookRegistry struct {
	runner *Runner
	cache  *cache.RedisCache
	log    *logger.Logger

	mu     sync.RWMutex
	byPath map[string]*WebhookRegistration
}

// NewWebhookRegistry creates a webhook registry around runner. cache
// may be nil, in which case replay/rate-limit guards are skipped.
func NewWebhookRegistry(runner *Runner, rc *cache.RedisCache) *WebhookRegistry {
	return &WebhookRegistry{
		runner: runner,
		cache:  rc,
		log:    runner.Log,
		byPath: make(map[string]*WebhookRegistration),
	}
}

// Register adds or replaces the registration for reg.Path.
func (wr *WebhookRegistry) Register(reg *WebhookRegistration) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.byPath[reg.Path] = reg
}

// Unregister removes any registration at path.
func (wr *WebhookRegistry) Unregister(path string) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	delete(wr.byPath, path)
}

func (wr *WebhookRegistry) lookup(path string) (*WebhookRegistration, error) {
	wr.mu.RLock()
	reg, ok := wr.byPath[path]
	wr.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no webhook registered at path %q", path)
	}
	if !reg.Active || !reg.Deployed {
		return nil, fmt.Errorf("webhook at path %q is not active", path)
	}
	return reg, nil
}

// HandleVerification answers the provider handshake GET (§6 scenario 6).
// whatsapp requires hub.mode=subscribe and a matching hub.verify_token,
// returning hub.challenge verbatim on success and 403 on mismatch.
// github and stripe need no pre-verification; any other provider
// simply answers 200 OK so dashboard "test connection" pings succeed.
func (wr *WebhookRegistry) HandleVerification(path string, query map[string]string) (status int, body string) {
	reg, err := wr.lookup(path)
	if err != nil {
		return http.StatusNotFound, err.Error()
	}

	if reg.Provider != "whatsapp" {
		return http.StatusOK, "OK"
	}

	if query["hub.mode"] != "subscribe" {
		return http.StatusOK, "OK"
	}

	expected, _ := reg.ProviderConfig["verificationToken"].(string)
	if query["hub.verify_token"] != expected {
		return http.StatusForbidden, "verification token mismatch"
	}
	return http.StatusOK, query["hub.challenge"]
}

// HandleDelivery verifies and executes an inbound POST delivery,
// synthesizing the envelope the spec requires:
// {webhook: {data: {path, provider, providerConfig, payload, headers, method}}}.
func (wr *WebhookRegistry) HandleDelivery(ctx context.Context, path string, payload map[string]interface{}, headers map[string]string, method string) (*models.ExecutionResult, error) {
	reg, err := wr.lookup(path)
	if err != nil {
		return nil, err
	}

	if err := wr.verify(reg, headers); err != nil {
		return nil, err
	}

	if wr.cache != nil {
		if err := wr.checkReplay(ctx, reg, headers); err != nil {
			return nil, err
		}
	}

	envelope := map[string]interface{}{
		"webhook": map[string]interface{}{
			"data": map[string]interface{}{
				"path":           reg.Path,
				"provider":       reg.Provider,
				"providerConfig": reg.ProviderConfig,
				"payload":        payload,
				"headers":        headers,
				"method":         method,
			},
		},
	}

	result, err := wr.runner.Run(ctx, reg.WorkflowID, envelope, nil)
	if err != nil {
		return nil, err
	}

	if wr.cache != nil {
		state, stateErr := LoadTriggerState(ctx, wr.cache, reg.Path)
		if stateErr != nil {
			state = NewTriggerState(reg.Path)
		}
		state.MarkExecuted()
		if err := state.Save(ctx, wr.cache); err != nil {
			wr.log.Warn("failed to save webhook trigger state", "path", reg.Path, "error", err)
		}
	}

	return result, nil
}

// verify applies the per-provider pre-execution check (§6): whatsapp's
// handshake already happened on GET so POST deliveries pass through;
// github/stripe never pre-verify here either (their own payload
// signature, if configured, is a workflow-level concern past the
// boundary); a generic provider compares an optional bearer token.
func (wr *WebhookRegistry) verify(reg *WebhookRegistration, headers map[string]string) error {
	switch reg.Provider {
	case "whatsapp", "github", "stripe":
		return nil
	default:
		token, _ := reg.ProviderConfig["token"].(string)
		if token == "" {
			return nil
		}
		auth := headers["Authorization"]
		if auth != "Bearer "+token {
			return fmt.Errorf("unauthorized: bearer token mismatch")
		}
		return nil
	}
}

// checkReplay dedupes inbound provider retries by a short-lived
// fingerprint so a webhook delivery retried by the provider after a
// slow response doesn't re-run the workflow.
func (wr *WebhookRegistry) checkReplay(ctx context.Context, reg *WebhookRegistration, headers map[string]string) error {
	fingerprint := headers["X-Request-Id"]
	if fingerprint == "" {
		fingerprint = headers["X-Idempotency-Key"]
	}
	if fingerprint == "" {
		return nil
	}
	key := fmt.Sprintf("webhook:%s:seen:%s", reg.Path, fingerprint)
	count, err := wr.cache.Increment(ctx, key)
	if err != nil {
		return nil // fail open: a broken cache must not block delivery
	}
	if count == 1 {
		if err := wr.cache.Expire(ctx, key, 10*time.Minute); err != nil {
			wr.log.Warn("failed to set webhook replay guard expiration", "path", reg.Path, "error", err)
		}
	}
	if count > 1 {
		return fmt.Errorf("duplicate delivery for request %s", fingerprint)
	}
	return nil
}
