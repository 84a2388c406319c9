package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/executor/config"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// EvaluatorExecutor is a rubric-scored LLM call returning
// {scores: mapping criterionId -> number, overall: number} (§4.6
// Evaluator). It asks the model for a JSON object matching its
// criteria list and parses the response rather than trusting free text.
type EvaluatorExecutor struct {
	*executor.BaseExecutor
	newClient func(apiKey string) *openai.Client
}

// NewEvaluatorExecutor creates a new Evaluator block handler.
func NewEvaluatorExecutor() *EvaluatorExecutor {
	return &EvaluatorExecutor{
		BaseExecutor: executor.NewBaseExecutor("evaluator"),
		newClient:    openai.NewClient,
	}
}

// Validate checks the Evaluator block's config.
func (e *EvaluatorExecutor) Validate(cfg map[string]any) error {
	c, err := config.ParseConfig[config.EvaluatorConfig](cfg)
	if err != nil {
		return err
	}
	return c.Validate()
}

// Execute asks the model to score c.Prompt against each criterion on a
// 0-1 scale and returns a models.EvaluatorResult.
func (e *EvaluatorExecutor) Execute(ctx context.Context, cfg map[string]any, _ any) (any, error) {
	c, err := config.ParseConfig[config.EvaluatorConfig](cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	apiKey, _ := cfg["apiKey"].(string)
	client := e.newClient(apiKey)

	instruction := fmt.Sprintf(
		"Score the following against each criterion on a 0 to 1 scale. "+
			"Respond with only a JSON object mapping each criterion name to its "+
			"numeric score. Criteria: %s",
		strings.Join(c.Criteria, ", "),
	)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: c.Prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("evaluator llm returned no choices")
	}

	var scores map[string]float64
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &scores); err != nil {
		return nil, fmt.Errorf("parse evaluator scores: %w", err)
	}

	var total float64
	for _, crit := range c.Criteria {
		total += scores[crit]
	}
	overall := 0.0
	if len(c.Criteria) > 0 {
		overall = total / float64(len(c.Criteria))
	}

	return &models.EvaluatorResult{Scores: scores, Overall: overall}, nil
}
