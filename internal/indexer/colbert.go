package indexer

import (
	"context"
	"strings"

	"lineage/internal/vectorstore"
)

// colbertWindow is the number of words per token-window embedded
// independently to build a late-interaction multi-vector.
const colbertWindow = 32

// ColbertEmbed builds a multi-vector representation by invoking the same
// dense embedder once per fixed-size word window, rather than adopting a
// dedicated ColBERT model absent from the retrieval pack. Returns a zero
// Vector (degraded) when embedder is nil or the text is empty, matching the
// indexer's "degrading to empty when disabled" contract.
func ColbertEmbed(ctx context.Context, embedder DenseEmbedder, text string) (vectorstore.Vector, error) {
	if embedder == nil || strings.TrimSpace(text) == "" {
		return vectorstore.Vector{}, nil
	}
	windows := windowize(text, colbertWindow)
	if len(windows) == 0 {
		return vectorstore.Vector{}, nil
	}
	rows, err := embedder.Embed(ctx, windows)
	if err != nil {
		return vectorstore.Vector{}, err
	}
	dim := embedder.Dimension()
	flat := make([]float32, 0, len(rows)*dim)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return vectorstore.Vector{Values: flat, Dim: dim}, nil
}

func windowize(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var windows []string
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[i:end], " "))
	}
	return windows
}
