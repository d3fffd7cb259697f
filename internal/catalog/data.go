package catalog

import "tenai/internal/providers"

const perMillionTokens = "per 1M tokens"

// StaticModels is the full registry of known models, defined at build time.
// Routed (OpenRouter) models are namespaced with the "openrouter:" prefix so
// their ids never collide with the direct-provider entries.
func StaticModels() []ModelConfig {
	return []ModelConfig{
		{
			ID:            "gpt-5",
			Name:          "GPT-5",
			Provider:      "OpenAI",
			ProviderID:    providers.OpenAI,
			APIModel:      "gpt-5",
			Description:   "Flagship GPT model with advanced reasoning.",
			ContextWindow: 2000000,
			InputCost:     5.0,
			OutputCost:    15.0,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			Audio:         true,
			Reasoning:     true,
			WebSearch:     true,
		},
		{
			ID:            "gpt-5-nano",
			Name:          "GPT-5 Nano",
			Provider:      "OpenAI",
			ProviderID:    providers.OpenAI,
			APIModel:      "gpt-5-nano",
			Description:   "Small, fast GPT-5 variant for everyday tasks.",
			ContextWindow: 128000,
			InputCost:     0.1,
			OutputCost:    0.4,
			PriceUnit:     perMillionTokens,
			Tools:         true,
		},
		{
			ID:            "claude-sonnet-4",
			Name:          "Claude Sonnet 4",
			Provider:      "Anthropic",
			ProviderID:    providers.Anthropic,
			APIModel:      "claude-sonnet-4",
			Description:   "Claude model with transparent reasoning mode, strong at coding.",
			ContextWindow: 200000,
			InputCost:     3.0,
			OutputCost:    15.0,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			Reasoning:     true,
		},
		{
			ID:            "claude-haiku-3.5",
			Name:          "Claude Haiku 3.5",
			Provider:      "Anthropic",
			ProviderID:    providers.Anthropic,
			APIModel:      "claude-3-5-haiku-latest",
			Description:   "Fastest Claude model, tuned for latency.",
			ContextWindow: 200000,
			InputCost:     0.8,
			OutputCost:    4.0,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
		},
		{
			ID:            "grok-2",
			Name:          "Grok 2",
			Provider:      "xAI",
			ProviderID:    providers.XAI,
			APIModel:      "grok-2",
			Description:   "Second-generation xAI model for reasoning and general tasks.",
			ContextWindow: 128000,
			InputCost:     2.0,
			OutputCost:    10.0,
			PriceUnit:     perMillionTokens,
			Tools:         true,
			Reasoning:     true,
		},
		{
			ID:            "grok-2-vision",
			Name:          "Grok 2 Vision",
			Provider:      "xAI",
			ProviderID:    providers.XAI,
			APIModel:      "grok-2-vision",
			Description:   "Vision-capable Grok 2 variant for multimodal use.",
			ContextWindow: 128000,
			InputCost:     2.5,
			OutputCost:    12.5,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			Reasoning:     true,
		},
		{
			ID:            "openrouter:anthropic/claude-sonnet-4",
			Name:          "Claude Sonnet 4",
			Provider:      "OpenRouter",
			ProviderID:    providers.OpenRouter,
			APIModel:      "anthropic/claude-sonnet-4",
			Description:   "Claude Sonnet 4 routed through OpenRouter.",
			ContextWindow: 200000,
			InputCost:     3.0,
			OutputCost:    15.0,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			Reasoning:     true,
			WebSearch:     true,
		},
		{
			ID:            "openrouter:openai/gpt-5",
			Name:          "GPT-5",
			Provider:      "OpenRouter",
			ProviderID:    providers.OpenRouter,
			APIModel:      "openai/gpt-5",
			Description:   "GPT-5 routed through OpenRouter.",
			ContextWindow: 2000000,
			InputCost:     5.0,
			OutputCost:    15.0,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			Audio:         true,
			Reasoning:     true,
			WebSearch:     true,
		},
		{
			ID:            "openrouter:deepseek/deepseek-chat-v3",
			Name:          "DeepSeek V3",
			Provider:      "OpenRouter",
			ProviderID:    providers.OpenRouter,
			APIModel:      "deepseek/deepseek-chat-v3",
			Description:   "Open-weights general model routed through OpenRouter.",
			ContextWindow: 64000,
			InputCost:     0.3,
			OutputCost:    0.9,
			PriceUnit:     perMillionTokens,
			Tools:         true,
			OpenSource:    true,
		},
		{
			ID:            "openrouter:meta-llama/llama-4-maverick",
			Name:          "Llama 4 Maverick",
			Provider:      "OpenRouter",
			ProviderID:    providers.OpenRouter,
			APIModel:      "meta-llama/llama-4-maverick",
			Description:   "Meta's open multimodal model routed through OpenRouter.",
			ContextWindow: 1000000,
			InputCost:     0.2,
			OutputCost:    0.6,
			PriceUnit:     perMillionTokens,
			Vision:        true,
			Tools:         true,
			OpenSource:    true,
		},
	}
}
