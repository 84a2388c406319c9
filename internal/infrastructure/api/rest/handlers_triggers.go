package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smilemakc/flowrunner/internal/infrastructure/cache"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/internal/trigger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// TriggerHandlers registers the activation sources that can start a
// run without a direct Execute call: webhook paths, cron/interval
// schedules, and internal pub/sub events (SPEC_FULL.md's trigger
// supplement, §6).
type TriggerHandlers struct {
	webhooks *trigger.WebhookRegistry
	cron     *trigger.CronScheduler
	events   *trigger.EventListener
	cache    *cache.RedisCache
	log      *logger.Logger
}

func NewTriggerHandlers(webhooks *trigger.WebhookRegistry, cron *trigger.CronScheduler, events *trigger.EventListener, rc *cache.RedisCache, log *logger.Logger) *TriggerHandlers {
	return &TriggerHandlers{webhooks: webhooks, cron: cron, events: events, cache: rc, log: log}
}

type createWebhookTriggerRequest struct {
	Path           string                 `json:"path" binding:"required"`
	Provider       string                 `json:"provider" binding:"required"`
	WorkflowID     string                 `json:"workflow_id" binding:"required"`
	ProviderConfig map[string]interface{} `json:"provider_config,omitempty"`
	Active         bool                   `json:"active"`
	Deployed       bool                   `json:"deployed"`
}

// HandleCreateWebhookTrigger registers a (path, provider) -> workflow
// binding with the webhook dispatcher.
func (h *TriggerHandlers) HandleCreateWebhookTrigger(c *gin.Context) {
	var req createWebhookTriggerRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	h.webhooks.Register(&trigger.WebhookRegistration{
		Path:           req.Path,
		Provider:       req.Provider,
		ProviderConfig: req.ProviderConfig,
		WorkflowID:     req.WorkflowID,
		Active:         req.Active,
		Deployed:       req.Deployed,
	})

	h.log.Info("webhook trigger registered", "path", req.Path, "provider", req.Provider, "workflow_id", req.WorkflowID)
	respondJSON(c, http.StatusCreated, gin.H{"path": req.Path})
}

// HandleDeleteWebhookTrigger removes a webhook path binding.
func (h *TriggerHandlers) HandleDeleteWebhookTrigger(c *gin.Context) {
	path, ok := getParam(c, "path")
	if !ok {
		return
	}
	h.webhooks.Unregister(path)
	c.Status(http.StatusNoContent)
}

type createCronTriggerRequest struct {
	WorkflowID string                 `json:"workflow_id" binding:"required"`
	Schedule   string                 `json:"schedule" binding:"required"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Enabled    bool                   `json:"enabled"`
}

// HandleCreateCronTrigger registers a cron-scheduled run. The engine
// itself has no notion of scheduled triggers; CronScheduler is the
// supplement that drives Runner.Run on a timer instead of in response
// to a request.
func (h *TriggerHandlers) HandleCreateCronTrigger(c *gin.Context) {
	if h.cron == nil {
		respondAPIErrorWithRequestID(c, NewAPIError("CRON_DISABLED", "cron scheduling is disabled", http.StatusServiceUnavailable))
		return
	}

	var req createCronTriggerRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	t := &models.Trigger{
		ID:         uuid.New().String(),
		WorkflowID: req.WorkflowID,
		Type:       models.TriggerTypeCron,
		Config:     map[string]interface{}{"schedule": req.Schedule, "input": req.Input},
		Enabled:    req.Enabled,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := h.cron.AddTrigger(c.Request.Context(), t); err != nil {
		respondAPIErrorWithRequestID(c, NewAPIErrorWithDetails("INVALID_SCHEDULE", err.Error(), http.StatusBadRequest, nil))
		return
	}

	respondJSON(c, http.StatusCreated, t)
}

// HandleDeleteCronTrigger cancels a cron trigger's schedule entry.
func (h *TriggerHandlers) HandleDeleteCronTrigger(c *gin.Context) {
	if h.cron == nil {
		c.Status(http.StatusNoContent)
		return
	}
	id, ok := getParam(c, "trigger_id")
	if !ok {
		return
	}
	h.cron.RemoveTrigger(id)
	c.Status(http.StatusNoContent)
}

type createEventTriggerRequest struct {
	WorkflowID string                 `json:"workflow_id" binding:"required"`
	EventType  string                 `json:"event_type" binding:"required"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Enabled    bool                   `json:"enabled"`
}

// HandleCreateEventTrigger registers a trigger that fires when a
// matching Event is published on the internal pub/sub bus (requires
// redis; disabled otherwise).
func (h *TriggerHandlers) HandleCreateEventTrigger(c *gin.Context) {
	if h.events == nil {
		respondAPIErrorWithRequestID(c, NewAPIError("EVENTS_DISABLED", "event triggers require redis", http.StatusServiceUnavailable))
		return
	}

	var req createEventTriggerRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	cfg := map[string]interface{}{"event_type": req.EventType}
	if req.Filter != nil {
		cfg["filter"] = req.Filter
	}
	if req.Input != nil {
		cfg["input"] = req.Input
	}

	t := &models.Trigger{
		ID:         uuid.New().String(),
		WorkflowID: req.WorkflowID,
		Type:       models.TriggerTypeEvent,
		Config:     cfg,
		Enabled:    req.Enabled,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	if err := h.events.AddTrigger(c.Request.Context(), t); err != nil {
		respondAPIErrorWithRequestID(c, NewAPIErrorWithDetails("INVALID_EVENT_TRIGGER", err.Error(), http.StatusBadRequest, nil))
		return
	}

	respondJSON(c, http.StatusCreated, t)
}

type publishEventRequest struct {
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// HandlePublishEvent publishes an Event onto the bus by type, letting
// any matching event trigger fire asynchronously.
func (h *TriggerHandlers) HandlePublishEvent(c *gin.Context) {
	if h.cache == nil {
		respondAPIErrorWithRequestID(c, NewAPIError("EVENTS_DISABLED", "event publishing requires redis", http.StatusServiceUnavailable))
		return
	}

	eventType, ok := getParam(c, "event_type")
	if !ok {
		return
	}

	var req publishEventRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return
		}
	}

	event := trigger.Event{Type: eventType, Source: req.Source, Data: req.Data}
	if err := trigger.PublishEvent(c.Request.Context(), h.cache, event); err != nil {
		respondAPIErrorWithRequestID(c, NewAPIErrorWithDetails("PUBLISH_FAILED", err.Error(), http.StatusInternalServerError, nil))
		return
	}

	c.Status(http.StatusAccepted)
}
