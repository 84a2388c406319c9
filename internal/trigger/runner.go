package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/flowrunner/internal/engine"
	"github.com/smilemakc/flowrunner/internal/infrastructure/logger"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// Runner resolves a workflow by id and drives one Execute call against
// it. Both CronScheduler and the webhook dispatcher share this so
// neither embeds engine wiring of its own.
type Runner struct {
	Engine    *engine.Engine
	Workflows WorkflowProvider
	Options   models.ExecuteOptions
	Log       *logger.Logger
}

// NewRunner builds a Runner with sane defaults; Log defaults to
// logger.Default() when nil.
func NewRunner(eng *engine.Engine, workflows WorkflowProvider, opts models.ExecuteOptions) *Runner {
	return &Runner{Engine: eng, Workflows: workflows, Options: opts, Log: logger.Default()}
}

// Run resolves workflowID, synthesizes the Starter envelope from
// envelope and env, and executes it to completion.
func (r *Runner) Run(ctx context.Context, workflowID string, envelope map[string]interface{}, env map[string]string) (*models.ExecutionResult, error) {
	wf, err := r.Workflows.Workflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow %s: %w", workflowID, err)
	}
	result := r.Engine.Execute(ctx, wf, envelope, env, r.Options)
	return result, nil
}

// defaultTriggerTimeout bounds a single trigger-initiated run so a
// stuck cron job or webhook delivery can't hold its goroutine forever.
const defaultTriggerTimeout = 5 * time.Minute
