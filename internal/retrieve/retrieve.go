// Package retrieve implements the retrieval engine (C5): candidate
// retrieval across dense and sparse vector spaces, adaptive/learned fusion,
// tiered cross-encoder reranking, and abstention. Grounded on the teacher's
// internal/rag/retrieve package (api.go, candidates.go, fusion.go,
// rerank.go), generalized from the teacher's FTS+vector hybrid to the
// dense+sparse vectorstore.Store hybrid this system's index actually
// produces.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"lineage/internal/graphstore"
	"lineage/internal/indexer"
	"lineage/internal/vectorstore"
)

// Options configures one search call, generalizing the teacher's
// RetrieveOptions (internal/rag/retrieve/api.go) to this system's named
// vector spaces and optional pipeline stages.
type Options struct {
	K                     int
	RerankDepth           int // default 30, per spec.md §4.5 stage 1
	Fusion                FusionMode
	Rerank                RerankTier
	MergeStrategy         MergeStrategy
	RerankWeight          float64 // used only when MergeStrategy == MergeWeighted
	AbstentionThreshold   float64
	SessionAware          bool
	SessionTopS           int
	SessionTopT           int
	MultiQuery            int // number of LLM-generated query variations; 0 disables
	TemporalFilter        bool
	TemporalConfThreshold float64
	Filter                map[string]string
	ValidTimeFilter       *graphstore.NodeFilter
}

// FusionMode selects the stage-2 fusion strategy.
type FusionMode string

const (
	FusionAdaptiveRRF FusionMode = "adaptive_rrf"
	FusionLearned     FusionMode = "learned"
)

// RerankTier selects the stage-3 reranker, or "" to skip reranking.
type RerankTier string

const (
	RerankNone     RerankTier = ""
	RerankFast     RerankTier = "fast"
	RerankAccurate RerankTier = "accurate"
	RerankCode     RerankTier = "code"
	RerankLLM      RerankTier = "llm"
)

// MergeStrategy controls how reranker scores combine with fused scores,
// per spec.md §4.5 stage 3.
type MergeStrategy string

const (
	MergeReplace   MergeStrategy = "replace"
	MergeWeighted  MergeStrategy = "weighted"
	MergeRankBased MergeStrategy = "rank_based" // default
)

// Result is one ranked hit, generalizing the teacher's RetrievedItem.
type Result struct {
	ID          string
	Score       float64
	Metadata    map[string]string
	Explanation map[string]any
}

// Response is the outcome of a search call.
type Response struct {
	Query    string
	Results  []Result
	Degraded bool // stage-4 retrieval-confidence abstention fired
	Debug    map[string]any
}

// DefaultOptions returns spec.md §4.5's defaults: rerank_depth=30, adaptive
// RRF fusion, rank-based merge, no reranking.
func DefaultOptions(k int) Options {
	return Options{
		K:                     k,
		RerankDepth:           30,
		Fusion:                FusionAdaptiveRRF,
		Rerank:                RerankNone,
		MergeStrategy:         MergeRankBased,
		RerankWeight:          0.5,
		AbstentionThreshold:   0,
		TemporalConfThreshold: 0.6,
	}
}

// Engine orchestrates the four-stage retrieval pipeline.
type Engine struct {
	vectors     vectorstore.Store
	graph       graphstore.GraphDB
	dense       indexer.DenseEmbedder
	rerankers   map[RerankTier]Reranker
	expander    QueryExpander
	fusionModel LearnedFusionModel // nil => fixed-weight fallback
}

// Config wires an Engine's dependencies.
type Config struct {
	Vectors     vectorstore.Store
	Graph       graphstore.GraphDB
	Dense       indexer.DenseEmbedder
	Rerankers   map[RerankTier]Reranker
	Expander    QueryExpander
	FusionModel LearnedFusionModel
}

// New constructs an Engine. Rerankers/Expander/FusionModel may be nil or
// partially populated; missing pieces degrade gracefully per spec.md §4.5's
// failure semantics.
func New(cfg Config) *Engine {
	rerankers := cfg.Rerankers
	if rerankers == nil {
		rerankers = map[RerankTier]Reranker{}
	}
	return &Engine{
		vectors:     cfg.Vectors,
		graph:       cfg.Graph,
		dense:       cfg.Dense,
		rerankers:   rerankers,
		expander:    cfg.Expander,
		fusionModel: cfg.FusionModel,
	}
}

// Search runs the full pipeline: candidate retrieval, fusion, optional
// reranking, and abstention. It implements spec.md §4.5's
// search(query, k, filters?, options) → ranked [SearchResult] interface.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Response, error) {
	if opts.K <= 0 {
		opts.K = 10
	}
	if opts.RerankDepth <= 0 {
		opts.RerankDepth = 30
	}
	if opts.RerankDepth < opts.K {
		opts.RerankDepth = opts.K
	}

	queries := []string{query}
	if opts.MultiQuery > 0 && e.expander != nil {
		variations, err := e.expander.Expand(ctx, query, opts.MultiQuery)
		if err != nil {
			log.Warn().Err(err).Msg("retrieve: multi-query expansion failed, using original query only")
		} else {
			queries = append(queries, variations...)
		}
	}

	var allFused []fused
	debug := map[string]any{}
	for _, q := range queries {
		var candidates denseAndSparse
		var stageErr error
		if opts.SessionAware {
			candidates, stageErr = e.sessionAwareCandidates(ctx, q, opts)
		} else {
			candidates, stageErr = e.candidates(ctx, q, opts)
		}
		if stageErr != nil {
			return Response{}, fmt.Errorf("retrieve: candidate retrieval: %w", stageErr)
		}
		allFused = append(allFused, e.fuse(q, candidates, opts)...)
	}
	merged := mergeFusedByID(allFused)

	if opts.TemporalFilter {
		if window, conf := ParseTemporalExpression(query); conf >= opts.TemporalConfThreshold {
			merged = e.filterByValidTime(ctx, merged, window)
			debug["temporal_window"] = window
		}
	}

	// Stable plus an explicit id tie-break: when two candidates fuse to the
	// same score, ordering must still be deterministic across runs (spec.md
	// §8 "all scores equal" boundary behavior).
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].id < merged[j].id
	})
	if len(merged) > opts.RerankDepth {
		merged = merged[:opts.RerankDepth]
	}

	results := fusedToResults(merged)

	if opts.Rerank != RerankNone {
		reranked, err := e.rerank(ctx, query, results, opts)
		if err != nil {
			log.Warn().Err(err).Str("tier", string(opts.Rerank)).Msg("retrieve: reranker failed, returning fused list unchanged")
		} else {
			results = reranked
		}
	}

	if len(results) > opts.K {
		results = results[:opts.K]
	}

	resp := Response{Query: query, Results: results, Debug: debug}
	if opts.AbstentionThreshold > 0 {
		if len(results) == 0 || results[0].Score < opts.AbstentionThreshold {
			return Response{Query: query, Degraded: true, Debug: debug}, nil
		}
	}
	return resp, nil
}

func fusedToResults(fs []fused) []Result {
	out := make([]Result, 0, len(fs))
	for _, f := range fs {
		out = append(out, Result{
			ID:       f.id,
			Score:    f.score,
			Metadata: f.metadata,
			Explanation: map[string]any{
				"dense_rank":  f.denseRank,
				"sparse_rank": f.sparseRank,
				"fused":       f.score,
			},
		})
	}
	return out
}
