package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// newTestAgentExecutor points an AgentExecutor at a local httptest
// server standing in for the OpenAI API, the way a client test fakes
// its transport rather than mocking the SDK itself.
func newTestAgentExecutor(t *testing.T, handler http.HandlerFunc) *AgentExecutor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := NewAgentExecutor()
	a.newClient = func(apiKey string) *openai.Client {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = srv.URL
		return openai.NewClientWithConfig(cfg)
	}
	return a
}

func chatCompletionResponse(promptTokens, completionTokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: "hi there"},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// A completed (non-streaming) Agent call must report a non-zero Cost
// computed from the provider's reported token usage (§4.6 "Output
// includes ... cost").
func TestAgentExecutor_Execute_SetsCost(t *testing.T) {
	a := newTestAgentExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse(1000, 500))
	})

	out, err := a.Execute(context.Background(), map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"prompt":   "hello",
	}, nil)
	require.NoError(t, err)

	resp, ok := out.(*models.LLMResponse)
	require.True(t, ok)
	assert.Equal(t, 1000, resp.Tokens.PromptTokens)
	assert.Equal(t, 500, resp.Tokens.CompletionTokens)
	assert.Greater(t, resp.Cost, 0.0)
	assert.InDelta(t, 1000.0/1_000_000*2.50+500.0/1_000_000*10.00, resp.Cost, 1e-9)
}

// An unlisted model falls back to a known rate rather than reporting
// zero cost.
func TestCalculateCost_UnknownModelFallsBackToDefault(t *testing.T) {
	usage := models.LLMUsage{PromptTokens: 1_000_000, CompletionTokens: 0}
	got := calculateCost("some-future-model", usage)
	want := openaiPricing[fallbackPricingModel].InputPricePerMillion
	assert.InDelta(t, want, got, 1e-9)
}
