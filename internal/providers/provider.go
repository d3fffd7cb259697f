package providers

import "context"

// ID is a canonical provider key. The set is closed: routing decisions are
// table lookups on ID, never string comparisons at call sites.
type ID string

const (
	OpenAI     ID = "openai"
	Anthropic  ID = "anthropic"
	XAI        ID = "xai"
	OpenRouter ID = "openrouter"
)

func All() []ID {
	return []ID{OpenAI, Anthropic, XAI, OpenRouter}
}

func Parse(s string) (ID, bool) {
	switch ID(s) {
	case OpenAI, Anthropic, XAI, OpenRouter:
		return ID(s), true
	}
	return "", false
}

func (id ID) DisplayName() string {
	switch id {
	case OpenAI:
		return "OpenAI"
	case Anthropic:
		return "Anthropic"
	case XAI:
		return "xAI"
	case OpenRouter:
		return "OpenRouter"
	}
	return string(id)
}

type Turn struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
