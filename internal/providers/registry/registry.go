package registry

import (
	"fmt"
	"net/http"
	"time"

	"tenai/internal/providers"
	"tenai/internal/providers/anthropic_messages"
	"tenai/internal/providers/openai_compat"
)

type BuildOptions struct {
	Provider    providers.ID
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type buildFunc func(BuildOptions) providers.Client

// builders maps every supported provider to its invocation strategy. An ID
// missing here is an unsupported provider, not a fallback case.
var builders = map[providers.ID]buildFunc{
	providers.OpenAI:     buildOpenAICompat,
	providers.XAI:        buildOpenAICompat,
	providers.OpenRouter: buildOpenAICompat,
	providers.Anthropic:  buildAnthropic,
}

func Build(opts BuildOptions) (providers.Client, error) {
	build, ok := builders[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", opts.Provider)
	}
	return build(opts), nil
}

func buildOpenAICompat(opts BuildOptions) providers.Client {
	return openai_compat.New(openai_compat.Config{
		BaseURL:     opts.BaseURL,
		APIKey:      opts.APIKey,
		HTTPClient:  opts.HTTPClient,
		MaxRetries:  opts.MaxRetries,
		BackoffBase: opts.BackoffBase,
	})
}

func buildAnthropic(opts BuildOptions) providers.Client {
	return anthropic_messages.New(anthropic_messages.Config{
		BaseURL:     opts.BaseURL,
		APIKey:      opts.APIKey,
		HTTPClient:  opts.HTTPClient,
		MaxRetries:  opts.MaxRetries,
		BackoffBase: opts.BackoffBase,
	})
}
