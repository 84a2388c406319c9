// Package config provides typed configuration structs for the builtin
// block handlers. These give the handlers type safety over the
// map[string]any config the engine hands them after resolution, and a
// validator-tag surface for go-playground/validator to check before a
// handler ever runs.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ApiConfig is the resolved configuration for an Api block (§4.6).
type ApiConfig struct {
	Method      string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URL         string            `json:"url" validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        any               `json:"body,omitempty"`
	TimeoutMs   int               `json:"timeoutMs,omitempty"`
	Retries     int               `json:"retries,omitempty" validate:"gte=0"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
}

// Validate checks ApiConfig against its struct tags.
func (c *ApiConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid api config: %w", err)
	}
	return nil
}

// AgentConfig is the resolved configuration for an Agent block (§4.6).
type AgentConfig struct {
	Provider    string  `json:"provider" validate:"required,oneof=openai"`
	Model       string  `json:"model" validate:"required"`
	Instruction string  `json:"instruction,omitempty"`
	Prompt      string  `json:"prompt" validate:"required"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

// Validate checks AgentConfig against its struct tags.
func (c *AgentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	return nil
}

// EvaluatorConfig is the resolved configuration for an Evaluator block
// (§4.6): a rubric-scored LLM call over one or more named criteria.
type EvaluatorConfig struct {
	Provider   string   `json:"provider" validate:"required,oneof=openai"`
	Model      string   `json:"model" validate:"required"`
	Prompt     string   `json:"prompt" validate:"required"`
	Criteria   []string `json:"criteria" validate:"required,min=1"`
	MaxTokens  int      `json:"maxTokens,omitempty"`
}

// Validate checks EvaluatorConfig against its struct tags.
func (c *EvaluatorConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid evaluator config: %w", err)
	}
	return nil
}

// FunctionConfig is the resolved configuration for a Function block
// (§4.6): user code run against resolvedInputs with a timeout.
type FunctionConfig struct {
	Code      string `json:"code" validate:"required"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Validate checks FunctionConfig against its struct tags.
func (c *FunctionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid function config: %w", err)
	}
	return nil
}

// ParseConfig parses a map[string]any into a typed config struct via a
// JSON round-trip.
func ParseConfig[T any](raw map[string]any) (*T, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &result, nil
}
