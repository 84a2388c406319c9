package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/internal/trigger"
)

// WebhookHandlers is the thin external HTTP layer the spec calls out
// in §6: it resolves (path, active, deployed) to a workflow, runs the
// provider handshake on GET, and drives one execution per POST.
type WebhookHandlers struct {
	registry *trigger.WebhookRegistry
	log      *logger.Logger
}

func NewWebhookHandlers(registry *trigger.WebhookRegistry, log *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{registry: registry, log: log}
}

// HandleWebhookGet answers a provider's verification handshake
// (§6 scenario 6: whatsapp's hub.mode/hub.verify_token/hub.challenge
// dance, or a plain 200 OK for providers that don't pre-verify).
func (h *WebhookHandlers) HandleWebhookGet(c *gin.Context) {
	path, ok := getParam(c, "path")
	if !ok {
		return
	}

	query := map[string]string{
		"hub.mode":         c.Query("hub.mode"),
		"hub.verify_token": c.Query("hub.verify_token"),
		"hub.challenge":    c.Query("hub.challenge"),
	}
	status, body := h.registry.HandleVerification(path, query)
	c.String(status, body)
}

// HandleWebhook drives one execution from an inbound provider
// delivery, synthesizing the envelope described in §6.
func (h *WebhookHandlers) HandleWebhook(c *gin.Context) {
	path, ok := getParam(c, "path")
	if !ok {
		return
	}

	var payload map[string]interface{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil && err != io.EOF {
			respondAPIErrorWithRequestID(c, ErrInvalidJSON)
			return
		}
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.GetHeader(k)
	}

	result, err := h.registry.HandleDelivery(c.Request.Context(), path, payload, headers, c.Request.Method)
	if err != nil {
		h.log.Error("webhook delivery failed", "path", path, "error", err, "request_id", GetRequestID(c))
		respondAPIErrorWithRequestID(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}
