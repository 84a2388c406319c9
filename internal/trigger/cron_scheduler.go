package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smilemakc/flowrunner/internal/infrastructure/cache"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// CronScheduler drives the scheduled-trigger supplement (SPEC_FULL.md
// "Scheduled trigger"): a cron or fixed-interval alternative to the
// webhook entry point that synthesizes an envelope and runs the engine
// on its own schedule rather than in response to an inbound request.
type CronScheduler struct {
	runner *Runner
	cache  *cache.RedisCache

	cron    *cron.Cron
	entries map[string]cron.EntryID
	mu      sync.RWMutex
}

// NewCronScheduler creates a cron scheduler around runner. cache may be
// nil, in which case trigger state (last/next execution time) is not
// persisted across process restarts.
func NewCronScheduler(runner *Runner, cache *cache.RedisCache) *CronScheduler {
	return &CronScheduler{
		runner:  runner,
		cache:   cache,
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers every cron/interval trigger in triggers and starts
// the underlying cron goroutine.
func (cs *CronScheduler) Start(ctx context.Context, triggers []*models.Trigger) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, t := range triggers {
		if t.Type != models.TriggerTypeCron && t.Type != models.TriggerTypeInterval {
			continue
		}
		if !t.Enabled {
			continue
		}
		if err := cs.addTriggerLocked(ctx, t); err != nil {
			cs.runner.Log.Error("failed to add cron trigger", "triggerId", t.ID, "error", err)
		}
	}

	cs.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (cs *CronScheduler) Stop() {
	<-cs.cron.Stop().Done()
}

// AddTrigger registers a single trigger, replacing any existing
// schedule entry for the same trigger id.
func (cs *CronScheduler) AddTrigger(ctx context.Context, t *models.Trigger) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.addTriggerLocked(ctx, t)
}

func (cs *CronScheduler) addTriggerLocked(ctx context.Context, t *models.Trigger) error {
	if t.Type != models.TriggerTypeCron && t.Type != models.TriggerTypeInterval {
		return fmt.Errorf("trigger %s is not a cron/interval trigger", t.ID)
	}

	if entryID, exists := cs.entries[t.ID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, t.ID)
	}

	schedule, err := parseSchedule(t)
	if err != nil {
		return fmt.Errorf("parse schedule for trigger %s: %w", t.ID, err)
	}

	entryID := cs.cron.Schedule(schedule, cs.job(t))
	cs.entries[t.ID] = entryID

	entry := cs.cron.Entry(entryID)
	cs.saveNextExecution(ctx, t.ID, entry.Next)
	return nil
}

// RemoveTrigger cancels a trigger's schedule entry, if any.
func (cs *CronScheduler) RemoveTrigger(triggerID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if entryID, exists := cs.entries[triggerID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, triggerID)
	}
}

func (cs *CronScheduler) job(t *models.Trigger) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTriggerTimeout)
		defer cancel()
		if err := cs.fire(ctx, t); err != nil {
			cs.runner.Log.Error("cron trigger execution failed", "triggerId", t.ID, "error", err)
		}
	})
}

func (cs *CronScheduler) fire(ctx context.Context, t *models.Trigger) error {
	input, _ := t.Config["input"].(map[string]interface{})
	envelope := map[string]interface{}{"trigger": map[string]interface{}{
		"id":   t.ID,
		"type": string(t.Type),
		"data": input,
	}}

	result, err := cs.runner.Run(ctx, t.WorkflowID, envelope, nil)
	if err != nil {
		return err
	}
	if !result.Success && result.Error != nil {
		cs.runner.Log.Warn("cron-triggered run failed", "triggerId", t.ID, "errorKind", result.Error.Kind, "message", result.Error.Message)
	}

	if cs.cache == nil {
		return nil
	}

	state, err := LoadTriggerState(ctx, cs.cache, t.ID)
	if err != nil {
		state = NewTriggerState(t.ID)
	}
	state.MarkExecuted()

	cs.mu.RLock()
	if entryID, exists := cs.entries[t.ID]; exists {
		state.SetNextExecution(cs.cron.Entry(entryID).Next)
	}
	cs.mu.RUnlock()

	if err := state.Save(ctx, cs.cache); err != nil {
		cs.runner.Log.Warn("failed to save trigger state", "triggerId", t.ID, "error", err)
	}
	return nil
}

func (cs *CronScheduler) saveNextExecution(ctx context.Context, triggerID string, next time.Time) {
	if cs.cache == nil {
		return
	}
	state, err := LoadTriggerState(ctx, cs.cache, triggerID)
	if err != nil {
		state = NewTriggerState(triggerID)
	}
	state.SetNextExecution(next)
	if err := state.Save(ctx, cs.cache); err != nil {
		cs.runner.Log.Warn("failed to save trigger state", "triggerId", triggerID, "error", err)
	}
}

func parseSchedule(t *models.Trigger) (cron.Schedule, error) {
	switch t.Type {
	case models.TriggerTypeCron:
		return parseCronSchedule(t)
	case models.TriggerTypeInterval:
		return parseIntervalSchedule(t)
	default:
		return nil, fmt.Errorf("unsupported trigger type: %s", t.Type)
	}
}

func parseCronSchedule(t *models.Trigger) (cron.Schedule, error) {
	expr, ok := t.Config["schedule"].(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("schedule not found in trigger config")
	}

	location := time.UTC
	if tz, ok := t.Config["timezone"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", tz, err)
		}
		location = loc
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %s: %w", expr, err)
	}
	if tzSchedule, ok := schedule.(*cron.SpecSchedule); ok {
		tzSchedule.Location = location
	}
	return schedule, nil
}

func parseIntervalSchedule(t *models.Trigger) (cron.Schedule, error) {
	raw, ok := t.Config["interval"]
	if !ok {
		return nil, fmt.Errorf("interval not found in trigger config")
	}

	var duration time.Duration
	var err error
	switch v := raw.(type) {
	case string:
		duration, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval duration %s: %w", v, err)
		}
	case float64:
		duration = time.Duration(v) * time.Second
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("invalid interval type: %T", raw)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}
