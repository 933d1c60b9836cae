package ai

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ModelInfo describes the capabilities and pricing of a routed model.
type ModelInfo struct {
	ID                string  // Gateway model identifier, e.g. "openai/gpt-5-mini"
	Family            string  // Family/category name
	MaxTokens         int     // Maximum context length
	InputCostPerMTok  float64 // USD per 1M input tokens
	OutputCostPerMTok float64 // USD per 1M output tokens
}

// Free reports whether the model bills nothing.
func (m ModelInfo) Free() bool {
	return m.InputCostPerMTok == 0 && m.OutputCostPerMTok == 0
}

const (
	// DefaultModel is used when a run does not name a model.
	DefaultModel = "x-ai/grok-4.1-fast:free"

	// FallbackPricingModel prices calls to models missing from the catalog.
	FallbackPricingModel = "openai/gpt-5-mini"
)

var catalog = map[string]ModelInfo{
	"x-ai/grok-4.1-fast:free": {
		ID:        "x-ai/grok-4.1-fast:free",
		Family:    "grok",
		MaxTokens: 131072,
	},
	"meta-llama/llama-3.3-70b-instruct:free": {
		ID:        "meta-llama/llama-3.3-70b-instruct:free",
		Family:    "llama",
		MaxTokens: 65536,
	},
	"ollama": {
		ID:        "ollama",
		Family:    "ollama",
		MaxTokens: 32768,
	},
	"openai/gpt-5-nano": {
		ID:                "openai/gpt-5-nano",
		Family:            "gpt",
		MaxTokens:         131072,
		InputCostPerMTok:  0.05,
		OutputCostPerMTok: 0.40,
	},
	"openai/gpt-5-mini": {
		ID:                "openai/gpt-5-mini",
		Family:            "gpt",
		MaxTokens:         131072,
		InputCostPerMTok:  0.25,
		OutputCostPerMTok: 2.00,
	},
	"google/gemini-2.5-flash-lite": {
		ID:                "google/gemini-2.5-flash-lite",
		Family:            "gemini",
		MaxTokens:         1048576,
		InputCostPerMTok:  0.10,
		OutputCostPerMTok: 0.40,
	},
	"google/gemini-3-pro-preview": {
		ID:                "google/gemini-3-pro-preview",
		Family:            "gemini",
		MaxTokens:         1048576,
		InputCostPerMTok:  2.00,
		OutputCostPerMTok: 12.00,
	},
	"anthropic/claude-sonnet-4.5": {
		ID:                "anthropic/claude-sonnet-4.5",
		Family:            "claude",
		MaxTokens:         200000,
		InputCostPerMTok:  3.00,
		OutputCostPerMTok: 15.00,
	},
}

// LookupModel returns catalog metadata for a model ID.
func LookupModel(id string) (ModelInfo, bool) {
	info, ok := catalog[id]
	return info, ok
}

// ModelPricing returns pricing for a model, falling back to
// FallbackPricingModel for unknown IDs so unlisted models are never free.
func ModelPricing(id string) ModelInfo {
	if info, ok := catalog[id]; ok {
		return info
	}
	fallback := catalog[FallbackPricingModel]
	fallback.ID = id
	return fallback
}

// KnownModels lists catalog entries sorted by ID.
func KnownModels() []ModelInfo {
	models := make([]ModelInfo, 0, len(catalog))
	for _, info := range catalog {
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}

var million = decimal.NewFromInt(1_000_000)

// CalculateCost prices a call from token counts using the catalog.
func CalculateCost(model string, inputTokens, outputTokens int64) decimal.Decimal {
	info := ModelPricing(model)
	inputCost := decimal.NewFromInt(inputTokens).
		Mul(decimal.NewFromFloat(info.InputCostPerMTok)).
		Div(million)
	outputCost := decimal.NewFromInt(outputTokens).
		Mul(decimal.NewFromFloat(info.OutputCostPerMTok)).
		Div(million)
	return inputCost.Add(outputCost)
}
