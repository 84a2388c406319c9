package rest

import (
	"context"
	"sync"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// WorkflowStore is an in-memory, process-lifetime registry of
// SerializedWorkflow documents keyed by id. Authoring/persistence of
// workflows is explicitly out of scope (spec.md §1 Non-goals); this
// exists only so the HTTP boundary has somewhere to stash a workflow
// submitted once and executed by id afterward (triggers and cron jobs
// need a stable id to resolve), and satisfies trigger.WorkflowProvider.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.SerializedWorkflow
}

// NewWorkflowStore creates an empty store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{workflows: make(map[string]*models.SerializedWorkflow)}
}

// Put registers or replaces the workflow at id.
func (s *WorkflowStore) Put(id string, wf *models.SerializedWorkflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[id] = wf
}

// Delete removes the workflow at id, if any.
func (s *WorkflowStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
}

// List returns every registered workflow id.
func (s *WorkflowStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	return ids
}

// Workflow implements trigger.WorkflowProvider.
func (s *WorkflowStore) Workflow(_ context.Context, workflowID string) (*models.SerializedWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	return wf, nil
}
