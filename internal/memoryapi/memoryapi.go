// Package memoryapi implements the user-facing memory operations
// (remember/recall/query/getContext) spec.md §6 exposes over HTTP,
// generalizing the teacher's internal/rag/docs.go document-ingest handler
// shape (hash-then-upsert, duplicate-aware) to this system's bitemporal
// Memory node type.
package memoryapi

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"lineage/internal/graphmodel"
	"lineage/internal/graphstore"
	"lineage/internal/retrieve"
)

// RememberRequest is spec.md §4.9/§6's remember payload.
type RememberRequest struct {
	Content string                `json:"content"`
	Type    graphmodel.MemoryType `json:"type,omitempty"`
	Tags    []string              `json:"tags,omitempty"`
	Project string                `json:"project,omitempty"`

	// SessionID scopes the dedup invariant: "for all live memories within
	// the same session, content_hash is unique" (spec.md §8 property 6).
	SessionID string `json:"session_id"`
}

// RememberResponse carries spec.md §7's idempotence-law shape:
// {stored, duplicate, id}.
type RememberResponse struct {
	Stored    bool   `json:"stored"`
	Duplicate bool   `json:"duplicate"`
	ID        string `json:"id"`
}

// RecallRequest is spec.md §6's recall payload, a thin pass-through to the
// retrieval engine.
type RecallRequest struct {
	Query   string            `json:"query"`
	K       int               `json:"k"`
	Filters map[string]string `json:"filters,omitempty"`
}

// ContextDepth controls how aggressively getContext retrieves, per
// spec.md §6 ("Depth controls k").
type ContextDepth string

const (
	DepthShallow ContextDepth = "shallow"
	DepthNormal  ContextDepth = "normal"
	DepthDeep    ContextDepth = "deep"
)

var depthK = map[ContextDepth]int{
	DepthShallow: 5,
	DepthNormal:  15,
	DepthDeep:    40,
}

// GetContextRequest is spec.md §6's getContext payload.
type GetContextRequest struct {
	Task    string            `json:"task"`
	Filters map[string]string `json:"filters,omitempty"`
	Depth   ContextDepth      `json:"depth,omitempty"`
}

// API wires the graph store, query guard, and retrieval engine into the
// four memory operations.
type API struct {
	graph    graphstore.GraphDB
	retrieve *retrieve.Engine
	idGen    func() string
	now      func() time.Time

	// mu/byHash enforce spec.md §8 property 6 (per-session content-hash
	// uniqueness for live memories). A Query-based lookup would need every
	// GraphDB backend to support native queries (the in-memory backend
	// doesn't, per graphstore.ErrQueryUnsupported) and would need to
	// round-trip content_hash through each backend's own type system
	// (risky for the Postgres driver's numeric types); an in-process index
	// guarded by a mutex, in the style of dedup.Engine's striped maps and
	// aggregator.Aggregator's sessions map, is simpler and exact as long
	// as this API has a single writer process for a given graph.
	mu     sync.Mutex
	byHash map[string]string
}

// Options configures an API.
type Options struct {
	Graph    graphstore.GraphDB
	Retrieve *retrieve.Engine
	IDGen    func() string
	Now      func() time.Time
}

// New constructs an API.
func New(opts Options) *API {
	idGen := opts.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &API{graph: opts.Graph, retrieve: opts.Retrieve, idGen: idGen, now: now, byHash: make(map[string]string)}
}

// Remember stores a new Memory node, enforcing spec.md §8 property 6 (the
// per-session content-hash uniqueness invariant) and §7's idempotence law:
// remember(x); remember(x) ⇒ the second call returns
// {stored:false, duplicate:true, id:<existing>} with no new node written.
func (a *API) Remember(ctx context.Context, req RememberRequest) (RememberResponse, error) {
	hash := graphmodel.ContentHash("memory", req.Content, "", req.SessionID)
	key := hashKey(req.SessionID, hash)

	a.mu.Lock()
	if existing, ok := a.byHash[key]; ok {
		a.mu.Unlock()
		return RememberResponse{Stored: false, Duplicate: true, ID: existing}, nil
	}
	id := a.idGen()
	a.byHash[key] = id
	a.mu.Unlock()

	mtype := req.Type
	if mtype == "" {
		mtype = graphmodel.MemoryTypeFact
	}
	props := map[string]any{
		"session_id":   req.SessionID,
		"content":      req.Content,
		"content_hash": hash,
		"type":         string(mtype),
		"tags":         req.Tags,
		"project":      req.Project,
		"created_at":   a.now(),
	}
	if err := a.graph.UpsertNode(ctx, id, []string{graphmodel.LabelMemory}, props); err != nil {
		a.mu.Lock()
		delete(a.byHash, key)
		a.mu.Unlock()
		return RememberResponse{}, fmt.Errorf("memoryapi: remember: %w", err)
	}
	return RememberResponse{Stored: true, ID: id}, nil
}

func hashKey(sessionID string, hash uint64) string {
	return sessionID + ":" + strconv.FormatUint(hash, 10)
}

// Recall runs a search through the retrieval engine, implementing spec.md
// §6's recall(query, k, filters?).
func (a *API) Recall(ctx context.Context, req RecallRequest) (retrieve.Response, error) {
	if a.retrieve == nil {
		return retrieve.Response{}, fmt.Errorf("memoryapi: no retrieval engine configured")
	}
	opts := retrieve.DefaultOptions(req.K)
	opts.Filter = req.Filters
	return a.retrieve.Search(ctx, req.Query, opts)
}

// Query runs a read-only graph query, enforced by the same allow-list the
// retrieval engine's query guard uses (spec.md §4.5's final paragraph,
// referenced by §6's "query(cypher, params?) (read-only, enforced as in
// §4.5)").
func (a *API) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if err := retrieve.GuardQuery(cypher); err != nil {
		return nil, err
	}
	return a.graph.Query(ctx, cypher, params)
}

// GetContext implements spec.md §6's getContext(task, filters?, depth),
// translating depth to a retrieval k per the shallow/normal/deep tiers.
func (a *API) GetContext(ctx context.Context, req GetContextRequest) (retrieve.Response, error) {
	depth := req.Depth
	if depth == "" {
		depth = DepthNormal
	}
	k, ok := depthK[depth]
	if !ok {
		return retrieve.Response{}, fmt.Errorf("memoryapi: unknown context depth %q", depth)
	}
	return a.Recall(ctx, RecallRequest{Query: req.Task, K: k, Filters: req.Filters})
}
