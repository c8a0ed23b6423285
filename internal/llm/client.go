// Package llm answers the customer messages the funnel cannot script, through
// a hosted chat model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Chat roles understood by both providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single-shot chat completion. Zero MaxTokens and an
// empty Model fall back to provider defaults.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the answer and the usage reported for metrics.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
}

// Client is a chat completion provider.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Name labels metrics and logs.
	Name() string
}

// Provider names a supported backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ErrNoAPIKey is returned by SelectClient when no provider has a key.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// ParseProvider accepts a provider name in any case.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderAnthropic, ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("unknown LLM provider %q", s)
	}
}

// NewClient creates the client for provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// Keys holds the API key of each provider. Empty means not configured.
type Keys struct {
	OpenAI    string
	Anthropic string
}

func (k Keys) forProvider(p Provider) string {
	if p == ProviderAnthropic {
		return k.Anthropic
	}
	return k.OpenAI
}

// SelectClient builds a client for the preferred provider, or for whichever
// provider has a key when the preferred one has none. An unknown preference
// is treated the same as one without a key.
func SelectClient(preferred string, keys Keys) (Client, error) {
	order := []Provider{ProviderOpenAI, ProviderAnthropic}
	if p, err := ParseProvider(preferred); err == nil {
		if keys.forProvider(p) != "" {
			return NewClient(p, keys.forProvider(p))
		}
	}
	for _, p := range order {
		if key := keys.forProvider(p); key != "" {
			return NewClient(p, key)
		}
	}
	return nil, ErrNoAPIKey
}
