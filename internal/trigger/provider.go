package trigger

import (
	"context"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// WorkflowProvider resolves a workflow id to the serialized workflow the
// engine should run. Persistence/authoring is a non-goal (see
// DESIGN.md), so triggers never own a workflow store of their own: they
// hold a handle to whatever source of workflows the embedding
// application wires in (an in-memory map, a loader keyed by file path,
// or anything else satisfying this one-method interface).
type WorkflowProvider interface {
	Workflow(ctx context.Context, workflowID string) (*models.SerializedWorkflow, error)
}

// WorkflowProviderFunc adapts a plain function to WorkflowProvider.
type WorkflowProviderFunc func(ctx context.Context, workflowID string) (*models.SerializedWorkflow, error)

func (f WorkflowProviderFunc) Workflow(ctx context.Context, workflowID string) (*models.SerializedWorkflow, error) {
	return f(ctx, workflowID)
}

// StaticWorkflowProvider serves workflows from a fixed in-memory set,
// keyed by id. Suitable for the cmd/server bootstrap, which loads
// workflow documents from disk or the execution request itself rather
// than a database (no persistence layer, per spec's Non-goals).
type StaticWorkflowProvider map[string]*models.SerializedWorkflow

func (p StaticWorkflowProvider) Workflow(_ context.Context, workflowID string) (*models.SerializedWorkflow, error) {
	wf, ok := p[workflowID]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	return wf, nil
}
