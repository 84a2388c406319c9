package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smilemakc/flowrunner/internal/infrastructure/cache"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// Event is a message published to the internal pub/sub bus that event
// triggers subscribe to. It is a supplement to the webhook and cron
// trigger sources (models.TriggerTypeEvent), useful for
// in-process fan-out (one block's Response firing a side-effect that
// kicks off another workflow) without going back out over HTTP.
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// PublishEvent publishes event to the channel its Type maps to.
func PublishEvent(ctx context.Context, rc *cache.RedisCache, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return rc.Client().Publish(ctx, eventChannel(event.Type), string(data)).Err()
}

// EventListener runs event-type triggers, executing their workflow
// whenever a matching Event arrives over Redis pub/sub.
type EventListener struct {
	runner *Runner
	cache  *cache.RedisCache

	pubsub   *redis.PubSub
	triggers map[string][]*models.Trigger // eventType -> triggers
	mu       sync.RWMutex

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
}

// NewEventListener creates an event listener around runner.
func NewEventListener(runner *Runner, rc *cache.RedisCache) *EventListener {
	return &EventListener{
		runner:    runner,
		cache:     rc,
		triggers:  make(map[string][]*models.Trigger),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start registers every event-type trigger and subscribes to their
// event channels.
func (el *EventListener) Start(ctx context.Context, triggers []*models.Trigger) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	for _, t := range triggers {
		if t.Type != models.TriggerTypeEvent || !t.Enabled {
			continue
		}
		if err := el.addTriggerLocked(t); err != nil {
			el.runner.Log.Error("failed to add event trigger", "triggerId", t.ID, "error", err)
		}
	}

	if len(el.triggers) == 0 {
		close(el.stoppedCh)
		return nil
	}

	el.pubsub = el.cache.Client().Subscribe(ctx, el.channelsLocked()...)
	el.running = true
	go el.listen(ctx)
	return nil
}

// Stop unsubscribes and waits for the listen goroutine to exit.
func (el *EventListener) Stop() error {
	el.mu.Lock()
	running := el.running
	el.mu.Unlock()

	if running {
		close(el.stopCh)
	}
	if el.pubsub != nil {
		if err := el.pubsub.Close(); err != nil {
			return fmt.Errorf("close pub/sub: %w", err)
		}
	}
	if running {
		<-el.stoppedCh
	}
	return nil
}

// AddTrigger registers a single event trigger, subscribing to its
// channel if the listener is already running.
func (el *EventListener) AddTrigger(ctx context.Context, t *models.Trigger) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if err := el.addTriggerLocked(t); err != nil {
		return err
	}
	if el.pubsub != nil {
		return el.pubsub.Subscribe(ctx, eventChannel(t.Config["event_type"].(string)))
	}
	return nil
}

func (el *EventListener) addTriggerLocked(t *models.Trigger) error {
	if t.Type != models.TriggerTypeEvent {
		return fmt.Errorf("trigger %s is not an event trigger", t.ID)
	}
	eventType, ok := t.Config["event_type"].(string)
	if !ok || eventType == "" {
		return fmt.Errorf("event_type not found in trigger config")
	}
	el.triggers[eventType] = append(el.triggers[eventType], t)
	return nil
}

func (el *EventListener) channelsLocked() []string {
	channels := make([]string, 0, len(el.triggers))
	for eventType := range el.triggers {
		channels = append(channels, eventChannel(eventType))
	}
	return channels
}

func (el *EventListener) listen(ctx context.Context) {
	defer close(el.stoppedCh)
	ch := el.pubsub.Channel()
	for {
		select {
		case <-el.stopCh:
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				el.runner.Log.Warn("failed to decode event payload", "error", err)
				continue
			}
			el.dispatch(ctx, event)
		}
	}
}

func (el *EventListener) dispatch(ctx context.Context, event Event) {
	el.mu.RLock()
	triggers := append([]*models.Trigger(nil), el.triggers[event.Type]...)
	el.mu.RUnlock()

	for _, t := range triggers {
		if !matchesFilter(event, t) {
			continue
		}
		go func(t *models.Trigger) {
			runCtx, cancel := context.WithTimeout(context.Background(), defaultTriggerTimeout)
			defer cancel()
			if err := el.fire(runCtx, t, event.Data); err != nil {
				el.runner.Log.Error("event trigger execution failed", "triggerId", t.ID, "error", err)
			}
		}(t)
	}
}

func matchesFilter(event Event, t *models.Trigger) bool {
	filter, ok := t.Config["filter"].(map[string]interface{})
	if !ok || len(filter) == 0 {
		return true
	}
	if source, ok := filter["source"].(string); ok && source != "" && event.Source != source {
		return false
	}
	for key, want := range filter {
		if key == "source" {
			continue
		}
		if got, exists := event.Data[key]; !exists || got != want {
			return false
		}
	}
	return true
}

func (el *EventListener) fire(ctx context.Context, t *models.Trigger, eventData map[string]interface{}) error {
	input := map[string]interface{}{}
	if defaults, ok := t.Config["input"].(map[string]interface{}); ok {
		for k, v := range defaults {
			input[k] = v
		}
	}
	for k, v := range eventData {
		input[k] = v
	}
	envelope := map[string]interface{}{"trigger": map[string]interface{}{
		"id":   t.ID,
		"type": string(t.Type),
		"data": input,
	}}

	result, err := el.runner.Run(ctx, t.WorkflowID, envelope, nil)
	if err != nil {
		return err
	}
	if !result.Success && result.Error != nil {
		el.runner.Log.Warn("event-triggered run failed", "triggerId", t.ID, "errorKind", result.Error.Kind, "message", result.Error.Message)
	}

	state, err := LoadTriggerState(ctx, el.cache, t.ID)
	if err != nil {
		state = NewTriggerState(t.ID)
	}
	state.MarkExecuted()
	if err := state.Save(ctx, el.cache); err != nil {
		el.runner.Log.Warn("failed to save trigger state", "triggerId", t.ID, "error", err)
	}
	return nil
}

func eventChannel(eventType string) string {
	return fmt.Sprintf("flowrunner:events:%s", eventType)
}
