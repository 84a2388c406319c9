package builtin

import "github.com/smilemakc/flowrunner/pkg/models"

// modelPricing is the per-million-token USD rate for one model.
// Grounded on the teacher pack's dedicated pricing table
// (tombee-conductor's pkg/llm/pricing), scaled down to the single
// provider this module's Agent executor actually calls.
type modelPricing struct {
	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

// openaiPricing is a built-in rate table for the OpenAI models this
// executor is validated against (config.AgentConfig.Provider is
// currently always "openai"). Rates are USD per million tokens, in the
// same shape as the teacher pack's pricing table, current as of this
// writing; an unlisted model falls back to gpt-4o-mini's rate rather
// than reporting a silent zero cost.
var openaiPricing = map[string]modelPricing{
	"gpt-4o":        {InputPricePerMillion: 2.50, OutputPricePerMillion: 10.00},
	"gpt-4o-mini":   {InputPricePerMillion: 0.15, OutputPricePerMillion: 0.60},
	"gpt-4-turbo":   {InputPricePerMillion: 10.00, OutputPricePerMillion: 30.00},
	"gpt-4":         {InputPricePerMillion: 30.00, OutputPricePerMillion: 60.00},
	"gpt-3.5-turbo": {InputPricePerMillion: 0.50, OutputPricePerMillion: 1.50},
	"o1":            {InputPricePerMillion: 15.00, OutputPricePerMillion: 60.00},
	"o1-mini":       {InputPricePerMillion: 1.10, OutputPricePerMillion: 4.40},
}

const fallbackPricingModel = "gpt-4o-mini"

// calculateCost converts a call's token usage into an estimated USD
// cost for the Agent block's output (§4.6 "Output includes ... cost").
func calculateCost(model string, usage models.LLMUsage) float64 {
	rate, ok := openaiPricing[model]
	if !ok {
		rate = openaiPricing[fallbackPricingModel]
	}
	inputCost := float64(usage.PromptTokens) / 1_000_000.0 * rate.InputPricePerMillion
	outputCost := float64(usage.CompletionTokens) / 1_000_000.0 * rate.OutputPricePerMillion
	return inputCost + outputCost
}
