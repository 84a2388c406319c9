package builtin

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/executor/config"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// AgentExecutor calls an external LLM provider (§4.6 Agent). Output
// includes content, toolCalls, tokens, providerTiming, and cost; a
// streaming request returns a models.StreamingExecution envelope that
// the engine propagates verbatim without re-encoding it (§4.6).
type AgentExecutor struct {
	*executor.BaseExecutor
	newClient func(apiKey string) *openai.Client
}

// NewAgentExecutor creates a new Agent block handler. apiKey is read
// from the block config at execution time, not captured here, so a
// single executor instance can serve blocks configured with different
// keys.
func NewAgentExecutor() *AgentExecutor {
	return &AgentExecutor{
		BaseExecutor: executor.NewBaseExecutor("agent"),
		newClient:    openai.NewClient,
	}
}

// Validate checks the Agent block's config.
func (a *AgentExecutor) Validate(cfg map[string]any) error {
	c, err := config.ParseConfig[config.AgentConfig](cfg)
	if err != nil {
		return err
	}
	return c.Validate()
}

// Execute calls the configured provider and returns an
// models.LLMResponse, or a models.StreamingExecution when Stream=true.
func (a *AgentExecutor) Execute(ctx context.Context, cfg map[string]any, _ any) (any, error) {
	c, err := config.ParseConfig[config.AgentConfig](cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	apiKey, _ := cfg["apiKey"].(string)
	client := a.newClient(apiKey)

	messages := []openai.ChatCompletionMessage{}
	if c.Instruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.Instruction,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: c.Prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: float32(c.Temperature),
	}

	if c.Stream {
		req.Stream = true
		start := time.Now()
		stream, err := client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("llm stream request failed: %w", err)
		}
		out := make(chan models.LLMStreamChunk, 16)
		go streamChunks(stream, out)
		// Token usage (and so Cost) isn't known until the stream
		// completes; go-openai's streaming API doesn't surface it on
		// this request shape, so Execution.Cost stays zero for a
		// streaming call.
		return &models.StreamingExecution{
			Stream: out,
			Execution: models.LLMResponse{
				Content:        "",
				ProviderTiming: time.Since(start),
			},
		}, nil
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	elapsed := time.Since(start)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	usage := models.LLMUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	return &models.LLMResponse{
		Content:        resp.Choices[0].Message.Content,
		FinishReason:   string(resp.Choices[0].FinishReason),
		Tokens:         usage,
		ProviderTiming: elapsed,
		Cost:           calculateCost(c.Model, usage),
		ToolCalls:      convertToolCalls(resp.Choices[0].Message.ToolCalls),
	}, nil
}

func convertToolCalls(calls []openai.ToolCall) []models.LLMToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.LLMToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, models.LLMToolCall{
			ID: c.ID,
			Function: models.LLMFunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

func streamChunks(stream *openai.ChatCompletionStream, out chan<- models.LLMStreamChunk) {
	defer close(out)
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if err != nil {
			out <- models.LLMStreamChunk{Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		out <- models.LLMStreamChunk{Delta: resp.Choices[0].Delta.Content}
	}
}
