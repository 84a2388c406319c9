package rest

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// WorkflowHandlers exposes the minimal CRUD surface the engine needs
// around the serialized workflow format (§3, §6): register a document
// once, execute it by id as many times as needed. There is no authoring
// or versioning here — that's explicitly out of scope.
type WorkflowHandlers struct {
	store *WorkflowStore
	log   *logger.Logger
}

func NewWorkflowHandlers(store *WorkflowStore, log *logger.Logger) *WorkflowHandlers {
	return &WorkflowHandlers{store: store, log: log}
}

// HandleCreateWorkflow registers a SerializedWorkflow document,
// validating it eagerly so authoring mistakes surface at registration
// time rather than on first execution. The body may be JSON or YAML
// (§6 "JSON or equivalent"); YAML is selected via a yaml/yml
// Content-Type so JSON remains the default with no extra ceremony.
func (h *WorkflowHandlers) HandleCreateWorkflow(c *gin.Context) {
	var wf models.SerializedWorkflow

	contentType := c.GetHeader("Content-Type")
	if strings.Contains(contentType, "yaml") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondAPIErrorWithRequestID(c, ErrInvalidJSON)
			return
		}
		parsed, err := models.ParseSerializedWorkflowYAML(body)
		if err != nil {
			respondAPIErrorWithRequestID(c, NewAPIErrorWithDetails("INVALID_YAML", err.Error(), http.StatusBadRequest, nil))
			return
		}
		wf = *parsed
	} else if err := bindJSON(c, &wf); err != nil {
		return
	}

	if err := wf.Validate(); err != nil {
		respondAPIErrorWithRequestID(c, NewAPIErrorWithDetails("INVALID_WORKFLOW", err.Error(), http.StatusBadRequest, nil))
		return
	}

	for _, w := range wf.Warnings() {
		h.log.Warn("workflow validation warning", "block_id", w.BlockID, "field", w.Field, "message", w.Message, "request_id", GetRequestID(c))
	}

	id := uuid.New().String()
	h.store.Put(id, &wf)
	h.log.Info("workflow registered", "workflow_id", id, "request_id", GetRequestID(c))
	respondJSON(c, http.StatusCreated, gin.H{"id": id})
}

// HandleListWorkflows returns every registered workflow id.
func (h *WorkflowHandlers) HandleListWorkflows(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{"ids": h.store.List()})
}

// HandleGetWorkflow returns the workflow document for a previously
// registered id.
func (h *WorkflowHandlers) HandleGetWorkflow(c *gin.Context) {
	id, ok := getParam(c, "workflow_id")
	if !ok {
		return
	}
	wf, err := h.store.Workflow(c.Request.Context(), id)
	if err != nil {
		respondAPIErrorWithRequestID(c, err)
		return
	}
	respondJSON(c, http.StatusOK, wf)
}

// HandleDeleteWorkflow unregisters a workflow id.
func (h *WorkflowHandlers) HandleDeleteWorkflow(c *gin.Context) {
	id, ok := getParam(c, "workflow_id")
	if !ok {
		return
	}
	h.store.Delete(id)
	c.Status(http.StatusNoContent)
}
