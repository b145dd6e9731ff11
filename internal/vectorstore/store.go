// Package vectorstore abstracts the embedding index, generalizing the
// teacher's single-vector Qdrant wrapper (internal/persistence/databases/qdrant_vector.go)
// to multiple named vector spaces per document (dense, sparse, ColBERT),
// matching Qdrant's native multi-vector collection model.
package vectorstore

import "context"

// Space names used by the hybrid indexer.
const (
	SpaceDense   = "dense"
	SpaceSparse  = "sparse"
	SpaceColbert = "colbert"
)

// Vector is one named vector: a dense float slice for SpaceDense/SpaceSparse
// singular vectors, or a flattened multi-vector (one row per token) for
// SpaceColbert, described by Dim.
type Vector struct {
	Values []float32
	Dim    int // row width; Values is len(Values)/Dim rows for multi-vectors
}

// Document is one upsert unit: an id plus its named vector spaces and
// scalar metadata used for filtering.
type Document struct {
	ID       string
	Vectors  map[string]Vector
	Metadata map[string]string
}

// Result is one hit from a similarity search.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// SearchRequest queries a single named space.
type SearchRequest struct {
	Space  string
	Vector Vector
	K      int
	Filter map[string]string
}

// Store is the portable interface over the backing vector index.
type Store interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, req SearchRequest) ([]Result, error)
}
