// Package llmclient routes single-shot completion calls to whichever LLM
// provider the caller names, kept vendor-neutral so the reranker's "llm"
// tier, multi-query expansion, and grounding checks don't couple to one
// SDK. Generalized from the teacher's per-provider llm.Client
// implementations (internal/llm/anthropic, internal/llm/openai,
// internal/llm/google) down to the narrow prompt-in/text-out surface those
// features need.
package llmclient

import (
	"context"
	"fmt"
)

// Provider names recognized by Router.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Completer answers one prompt with generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Router dispatches Complete calls to a named provider, falling back to a
// default when the caller doesn't care which one answers.
type Router struct {
	providers map[string]Completer
	fallback  string
}

// NewRouter builds a Router over the given providers; fallback names which
// entry Complete uses when no provider name is specified.
func NewRouter(providers map[string]Completer, fallback string) *Router {
	return &Router{providers: providers, fallback: fallback}
}

// Complete dispatches to the named provider, or the router's fallback if
// provider is empty.
func (r *Router) Complete(ctx context.Context, provider, prompt string) (string, error) {
	if provider == "" {
		provider = r.fallback
	}
	c, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("llmclient: no provider registered for %q", provider)
	}
	return c.Complete(ctx, prompt)
}

// Has reports whether a provider is registered.
func (r *Router) Has(provider string) bool {
	_, ok := r.providers[provider]
	return ok
}
