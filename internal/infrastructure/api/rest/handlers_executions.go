package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smilemakc/flowrunner/internal/engine"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// ExecutionHandlers is the Engine entry point's HTTP face (§6
// "Execute(workflow, envelope, env, options) -> ExecutionResult").
type ExecutionHandlers struct {
	eng   *engine.Engine
	store *WorkflowStore
	log   *logger.Logger
}

func NewExecutionHandlers(eng *engine.Engine, store *WorkflowStore, log *logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{eng: eng, store: store, log: log}
}

// executeRequest accepts either a workflow_id referencing a previously
// registered document, or an inline workflow body — whichever the
// caller finds more convenient for a one-off run.
type executeRequest struct {
	WorkflowID string                      `json:"workflow_id,omitempty"`
	Workflow   *models.SerializedWorkflow  `json:"workflow,omitempty"`
	Input      map[string]interface{}      `json:"input"`
	Env        map[string]string           `json:"env,omitempty"`
	Options    models.ExecuteOptions       `json:"options,omitempty"`
}

// HandleExecute runs a workflow to completion and returns the
// ExecutionResult synchronously; the engine has no async/polling mode
// of its own (§6).
func (h *ExecutionHandlers) HandleExecute(c *gin.Context) {
	var req executeRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}

	if pathID := c.Param("workflow_id"); pathID != "" {
		req.WorkflowID = pathID
	}

	wf := req.Workflow
	if wf == nil {
		if req.WorkflowID == "" {
			respondAPIErrorWithRequestID(c, NewAPIError("WORKFLOW_ID_REQUIRED", "workflow_id or an inline workflow is required", http.StatusBadRequest))
			return
		}
		resolved, err := h.store.Workflow(c.Request.Context(), req.WorkflowID)
		if err != nil {
			respondAPIErrorWithRequestID(c, err)
			return
		}
		wf = resolved
	}

	result := h.eng.Execute(c.Request.Context(), wf, req.Input, req.Env, req.Options)

	h.log.Info("workflow executed",
		"workflow_id", req.WorkflowID,
		"success", result.Success,
		"duration_ms", result.Metadata.DurationMs,
		"request_id", GetRequestID(c),
	)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}
