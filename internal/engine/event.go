package engine

import "time"

// ExecutionEvent is the lifecycle event passed to an Observer as a run
// progresses (SPEC_FULL.md's observer supplement). It carries enough to
// build a models.Event for fan-out to a websocket subscriber or the
// structured logger without the scheduler depending on either.
type ExecutionEvent struct {
	Type        string
	ExecutionID string
	BlockID     string
	BlockName   string
	BlockType   string
	LayerIndex  int
	BlockCount  int
	Success     bool
	Error       error
	Output      interface{}
	DurationMs  int64
	Message     string
	Timestamp   time.Time
}

// Observer receives lifecycle events as the scheduler runs. Implementations
// must not block significantly; the scheduler calls observers synchronously
// on its own goroutines, after the execution context's lock is released,
// so a slow observer delays the run (see internal/observer for the fan-out
// implementation that hands each event to every sink on its own goroutine).
type Observer interface {
	Notify(event ExecutionEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(event ExecutionEvent)

func (f ObserverFunc) Notify(event ExecutionEvent) { f(event) }
