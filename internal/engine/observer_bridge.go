package engine

import (
	"context"
	"time"

	"github.com/smilemakc/flowrunner/internal/observer"
)

// ManagerBridge adapts an *observer.ObserverManager (the richer fan-out
// sink with logger/websocket/http observers registered) to the engine's
// own lightweight Observer interface, so a single WithObserver(bridge)
// call wires a run's block/layer events into the whole observer stack
// (SPEC_FULL.md's observer supplement).
type ManagerBridge struct {
	manager *observer.ObserverManager
}

// NewManagerBridge wraps manager for use with engine.WithObserver.
func NewManagerBridge(manager *observer.ObserverManager) *ManagerBridge {
	return &ManagerBridge{manager: manager}
}

// Notify converts an ExecutionEvent into an observer.Event and fans it
// out through the wrapped manager. Notify never blocks on slow sinks:
// ObserverManager.Notify dispatches to each registered observer on its
// own goroutine.
func (b *ManagerBridge) Notify(event ExecutionEvent) {
	if b.manager == nil {
		return
	}

	out := observer.Event{
		Type:        observer.EventType(event.Type),
		ExecutionID: event.ExecutionID,
		WorkflowID:  "",
		Timestamp:   event.Timestamp,
		Error:       event.Error,
	}
	if event.Success {
		out.Status = "completed"
	} else if event.Error != nil {
		out.Status = "failed"
	} else {
		out.Status = "running"
	}
	if event.BlockID != "" {
		id := event.BlockID
		out.NodeID = &id
	}
	if event.BlockName != "" {
		name := event.BlockName
		out.NodeName = &name
	}
	if event.BlockType != "" {
		kind := event.BlockType
		out.NodeType = &kind
	}
	if event.LayerIndex != 0 {
		idx := event.LayerIndex
		out.WaveIndex = &idx
	}
	if event.BlockCount != 0 {
		cnt := event.BlockCount
		out.NodeCount = &cnt
	}
	if event.DurationMs != 0 {
		d := event.DurationMs
		out.DurationMs = &d
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	if m, ok := event.Output.(map[string]interface{}); ok {
		out.Output = m
	}

	b.manager.Notify(context.Background(), out)
}
