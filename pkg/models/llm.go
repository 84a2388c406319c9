package models

import "time"

// LLMProvider identifies which external LLM provider an Agent or
// Evaluator block calls (§4.6). The engine treats the provider's wire
// format as opaque; only the shape below is visible to the scheduler.
type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
)

// LLMRequest is the normalized request built from an Agent block's
// resolved config before it is translated to the provider's SDK call.
type LLMRequest struct {
	Provider    LLMProvider `json:"provider"`
	Model       string      `json:"model"`
	Instruction string      `json:"instruction,omitempty"` // system message
	Prompt      string      `json:"prompt"`                // user message
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	Tools       []LLMTool   `json:"tools,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

// LLMTool represents a function tool available to the model.
type LLMTool struct {
	Type     string          `json:"type"` // "function"
	Function LLMFunctionTool `json:"function"`
}

// LLMFunctionTool describes a callable function the model may invoke.
type LLMFunctionTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// LLMResponse is the Agent block's output shape (§4.6): content, any
// tool calls, token usage, provider timing, and an estimated cost.
type LLMResponse struct {
	Content        string          `json:"content"`
	ToolCalls      []LLMToolCall   `json:"toolCalls,omitempty"`
	Tokens         LLMUsage        `json:"tokens"`
	ProviderTiming time.Duration   `json:"providerTiming"`
	Cost           float64         `json:"cost"`
	FinishReason   string          `json:"finishReason,omitempty"`
}

// LLMUsage reports token accounting for one LLM call.
type LLMUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// LLMToolCall is a function call the model requested.
type LLMToolCall struct {
	ID       string          `json:"id"`
	Function LLMFunctionCall `json:"function"`
}

// LLMFunctionCall carries a tool call's name and JSON-encoded arguments.
type LLMFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// LLMError represents a failure returned by an LLM provider call. It is
// wrapped into an *ExecutionError of kind HandlerFailure by the Agent
// handler, not surfaced directly to the engine.
type LLMError struct {
	Provider LLMProvider `json:"provider"`
	Code     string      `json:"code"`
	Message  string      `json:"message"`
}

func (e *LLMError) Error() string {
	return "llm error (" + string(e.Provider) + "): " + e.Message
}

// StreamingExecution is the envelope an Agent handler returns when its
// config requests streaming output (§4.6). The engine propagates this
// value verbatim as the block's output without re-encoding it; the
// stream itself is relayed out-of-band via the websocket observer.
type StreamingExecution struct {
	Stream    <-chan LLMStreamChunk `json:"-"`
	Execution LLMResponse           `json:"execution"`
}

// LLMStreamChunk is one incremental piece of a streaming LLM response.
type LLMStreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

// EvaluatorResult is the Evaluator block's output shape (§4.6): a
// rubric score per criterion plus an overall score.
type EvaluatorResult struct {
	Scores  map[string]float64 `json:"scores"`
	Overall float64            `json:"overall"`
}
