// Package graphstore defines the portable GraphDB interface used by the
// turn aggregator, retrieval engine, and pruner, plus the bitemporal query
// builder (spec.md §4.8).
package graphstore

import (
	"context"
	"time"
)

// Node is a minimal graph node representation round-tripped through a
// stable string id; callers must never hold a Node across an I/O boundary
// and expect it to reflect later writes (spec.md §9 "cyclic back-references").
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Edge is a directed, labeled relationship between two node ids.
type Edge struct {
	SourceID string
	Rel      string
	TargetID string
	Props    map[string]any
}

// NodeFilter narrows GetNodeAt to rows valid at a point in bitemporal
// time. A zero value means "current".
type NodeFilter struct {
	ValidTime       time.Time
	TransactionTime time.Time
	Current         bool
}

// GraphDB is the portable interface over the backing graph store.
type GraphDB interface {
	// UpsertNode writes a fresh bitemporal row for id, closing any prior
	// current row for the same logical entity.
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool, error)
	// GetNodeAt returns the row for id valid at the given point-in-time
	// filter (spec.md §8 S5 bitemporal point-in-time queries).
	GetNodeAt(ctx context.Context, id string, filter NodeFilter) (Node, bool, error)
	// DeleteNodesOlderThan purges up to limit superseded (non-current) rows
	// whose tt_end is before cutoff, returning copies of the removed rows.
	// Current rows are never removed. Used by the pruner (spec.md §4.7).
	DeleteNodesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Node, error)
	// Query executes a read-only graph query. Implementations that don't
	// expose a native query language (e.g. the in-memory store) may return
	// ErrQueryUnsupported.
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}
