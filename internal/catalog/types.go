package catalog

import "tenai/internal/providers"

// ModelConfig describes one statically known model. Accessible is derived per
// request by the access resolver and never persisted.
type ModelConfig struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Provider   string       `json:"provider"`
	ProviderID providers.ID `json:"providerId"`

	// APIModel is the identifier sent on the wire; for routed providers it
	// differs from ID (e.g. "openrouter:openai/gpt-5" -> "openai/gpt-5").
	APIModel string `json:"apiModel"`

	Description   string  `json:"description,omitempty"`
	ContextWindow int     `json:"contextWindow"`
	InputCost     float64 `json:"inputCost"`
	OutputCost    float64 `json:"outputCost"`
	PriceUnit     string  `json:"priceUnit"`

	Vision     bool `json:"vision"`
	Tools      bool `json:"tools"`
	Audio      bool `json:"audio"`
	Reasoning  bool `json:"reasoning"`
	WebSearch  bool `json:"webSearch"`
	OpenSource bool `json:"openSource"`

	Accessible bool `json:"accessible"`
}
