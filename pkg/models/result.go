package models

import "time"

// BlockLog is the per-block activation record appended in completion
// order (§6 "Logs").
type BlockLog struct {
	BlockID       string      `json:"blockId"`
	BlockName     string      `json:"blockName"`
	BlockType     BlockKind   `json:"blockType"`
	StartedAt     time.Time   `json:"startedAt"`
	EndedAt       time.Time   `json:"endedAt"`
	Success       bool        `json:"success"`
	Error         string      `json:"error,omitempty"`
	OutputSummary interface{} `json:"outputSummary,omitempty"`
}

// ExecutionResultError is the error payload carried in a failed
// ExecutionResult (§6, §7): the semantic Kind, a message, and the
// offending block when one is identifiable.
type ExecutionResultError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	BlockID string    `json:"blockId,omitempty"`
}

// ExecutionResultMetadata carries run timing.
type ExecutionResultMetadata struct {
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	DurationMs  int64     `json:"durationMs"`
}

// ExecutionResult is the Engine entry point's return value (§6):
// `Execute(workflow, envelope, env, options) -> ExecutionResult`. No
// exception crosses the engine boundary; failure is represented here.
type ExecutionResult struct {
	Success  bool                    `json:"success"`
	Output   interface{}             `json:"output"`
	Logs     []BlockLog              `json:"logs"`
	Metadata ExecutionResultMetadata `json:"metadata"`
	Error    *ExecutionResultError   `json:"error,omitempty"`
}
