package models

import "time"

// Event is an observer notification emitted as the run progresses.
// It is additive instrumentation on top of BlockLog (§6 "Logs"): every
// Event also has a corresponding BlockLog entry once the block
// finishes, but events are pushed live (see internal/observer) while
// BlockLog entries are assembled into the final ExecutionResult.
type Event struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"executionId"`
	EventType   string                 `json:"eventType"`
	Sequence    int64                  `json:"sequence"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Event type constants (dot notation for hierarchical categorization).
const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeExecutionCancelled = "execution.cancelled"

	EventTypeBlockStarted   = "block.started"
	EventTypeBlockCompleted = "block.completed"
	EventTypeBlockFailed    = "block.failed"
	EventTypeBlockRetrying  = "block.retrying"

	EventTypeLayerStarted   = "layer.started"
	EventTypeLayerCompleted = "layer.completed"

	EventTypeConditionEvaluated = "condition.evaluated"
	EventTypeRouterSelected     = "router.selected"
	EventTypeLoopIteration      = "loop.iteration"
	EventTypeParallelBranch     = "parallel.branch"
)

// IsExecutionEvent returns true if the event is a run-level event.
func (e *Event) IsExecutionEvent() bool {
	switch e.EventType {
	case EventTypeExecutionStarted, EventTypeExecutionCompleted,
		EventTypeExecutionFailed, EventTypeExecutionCancelled:
		return true
	}
	return false
}

// IsBlockEvent returns true if the event is a block-level event.
func (e *Event) IsBlockEvent() bool {
	switch e.EventType {
	case EventTypeBlockStarted, EventTypeBlockCompleted,
		EventTypeBlockFailed, EventTypeBlockRetrying:
		return true
	}
	return false
}

// Validate validates the event structure.
func (e *Event) Validate() error {
	if e.ExecutionID == "" {
		return &ValidationError{Field: "executionId", Message: "execution ID is required"}
	}
	if e.EventType == "" {
		return &ValidationError{Field: "eventType", Message: "event type is required"}
	}
	return nil
}

// GetBlockID extracts the block id from the event payload if present.
func (e *Event) GetBlockID() string {
	if e.Payload == nil {
		return ""
	}
	if blockID, ok := e.Payload["blockId"].(string); ok {
		return blockID
	}
	return ""
}

// GetError extracts the error message from the event payload if present.
func (e *Event) GetError() string {
	if e.Payload == nil {
		return ""
	}
	if err, ok := e.Payload["error"].(string); ok {
		return err
	}
	return ""
}
