package llm

import (
	"context"
	"fmt"

	"github.com/dgallion1/designdoc/internal/model"
)

// Router sends each prompt to the client registered for the tier's provider.
type Router struct {
	clients     map[string]Client
	temperature float64
}

func NewRouter(temperature float64) *Router {
	return &Router{
		clients:     make(map[string]Client),
		temperature: temperature,
	}
}

// Register binds a provider name to a client, replacing any previous one.
func (r *Router) Register(provider string, c Client) {
	r.clients[provider] = c
}

// Has reports whether a client is registered for provider.
func (r *Router) Has(provider string) bool {
	_, ok := r.clients[normalizeProvider(provider)]
	return ok
}

// Complete implements the summarizer's model interface.
func (r *Router) Complete(ctx context.Context, tier model.Tier, prompt string, maxTokens int) (string, error) {
	provider := normalizeProvider(tier.Provider)
	c, ok := r.clients[provider]
	if !ok {
		return "", fmt.Errorf("no client configured for provider %q (tier %s)", provider, tier.Name)
	}
	resp, err := c.Complete(ctx, Request{
		Model:       tier.Model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Close closes every registered client.
func (r *Router) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}

func normalizeProvider(p string) string {
	if p == "" {
		return model.ProviderOpenAI
	}
	return p
}
