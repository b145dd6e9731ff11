package retrieve

import (
	"context"

	"lineage/internal/vectorstore"
)

// sessionAwareCandidates implements spec.md §4.5's optional two-stage
// session-aware retrieval: first find the top-S sessions whose summary is
// closest to the query, then restrict stage-1 candidate retrieval to turns
// within those sessions. This curbs cross-session noise in multi-tenant
// histories. Stage one searches the dense space for documents tagged
// metadata["label"]="Session"; turns carry metadata["session_id"]. The
// indexer does not index Session nodes, so stage one finds documents only
// if something else wrote them; when it finds none this falls back to
// candidates().
func (e *Engine) sessionAwareCandidates(ctx context.Context, query string, opts Options) (denseAndSparse, error) {
	denseVec, err := e.embedQuery(ctx, query)
	if err != nil || e.vectors == nil {
		return e.candidates(ctx, query, opts)
	}

	topS := opts.SessionTopS
	if topS <= 0 {
		topS = 5
	}
	sessionFilter := map[string]string{"label": "Session"}
	for k, v := range opts.Filter {
		sessionFilter[k] = v
	}
	sessions, err := e.vectors.Search(ctx, vectorstore.SearchRequest{
		Space: vectorstore.SpaceDense, Vector: vectorstore.Vector{Values: denseVec}, K: topS, Filter: sessionFilter,
	})
	if err != nil || len(sessions) == 0 {
		return e.candidates(ctx, query, opts)
	}

	topT := opts.SessionTopT
	if topT <= 0 {
		topT = opts.RerankDepth
	}

	var merged denseAndSparse
	seenDense := map[string]bool{}
	seenSparse := map[string]bool{}
	for _, sess := range sessions {
		turnFilter := map[string]string{"session_id": sess.ID}
		for k, v := range opts.Filter {
			turnFilter[k] = v
		}
		dres, derr := e.vectors.Search(ctx, vectorstore.SearchRequest{
			Space: vectorstore.SpaceDense, Vector: vectorstore.Vector{Values: denseVec}, K: topT, Filter: turnFilter,
		})
		if derr == nil {
			for _, r := range dres {
				if !seenDense[r.ID] {
					seenDense[r.ID] = true
					merged.dense = append(merged.dense, r)
				}
			}
		}
		sres, serr := e.vectors.Search(ctx, vectorstore.SearchRequest{
			Space: vectorstore.SpaceSparse, Vector: vectorstore.Vector{Values: indexerSparseEmbed(query)}, K: topT, Filter: turnFilter,
		})
		if serr == nil {
			for _, r := range sres {
				if !seenSparse[r.ID] {
					seenSparse[r.ID] = true
					merged.sparse = append(merged.sparse, r)
				}
			}
		}
	}
	return merged, nil
}
