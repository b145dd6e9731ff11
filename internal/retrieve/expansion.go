package retrieve

import (
	"context"
	"fmt"
	"strings"

	"lineage/internal/llmclient"
)

// QueryExpander generates N alternate phrasings of a query, implementing
// spec.md §4.5's optional multi-query expansion stage.
type QueryExpander interface {
	Expand(ctx context.Context, query string, n int) ([]string, error)
}

// LLMQueryExpander implements QueryExpander via internal/llmclient,
// prompting for N newline-delimited paraphrases.
type LLMQueryExpander struct {
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewLLMQueryExpander builds an expander bound to a router/provider pair.
func NewLLMQueryExpander(router *llmclient.Router, provider string) *LLMQueryExpander {
	return &LLMQueryExpander{complete: func(ctx context.Context, prompt string) (string, error) {
		return router.Complete(ctx, provider, prompt)
	}}
}

func (e *LLMQueryExpander) Expand(ctx context.Context, query string, n int) ([]string, error) {
	prompt := fmt.Sprintf("Write %d alternate phrasings of this search query, one per line, no numbering:\n%s", n, query)
	resp, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out, nil
}
