package retrieve

import (
	"context"
	"strings"
	"time"

	"lineage/internal/vectorstore"
)

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.dense == nil {
		return nil, errorString("retrieve: no dense embedder configured")
	}
	vecs, err := e.dense.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errorString("retrieve: embedder returned no vectors")
	}
	return vecs[0], nil
}

// graphKeywordFallback implements spec.md §4.5's total-vector-store-failure
// fallback: a bounded graph keyword search. It runs one "MATCH (n) RETURN n"
// query and keeps, up to limit, the rows whose content contains a query
// token; it follows no edges and has no wall-clock bound. Backends whose
// Query returns ErrQueryUnsupported (the in-memory store) make it fail.
func (e *Engine) graphKeywordFallback(ctx context.Context, query string, limit int) ([]vectorstore.Result, error) {
	if e.graph == nil {
		return nil, errorString("retrieve: no graph store configured for keyword fallback")
	}
	tokens := strings.Fields(strings.ToLower(query))
	rows, err := e.graph.Query(ctx, "MATCH (n) RETURN n", map[string]any{})
	if err != nil {
		return nil, err
	}
	var out []vectorstore.Result
	for _, row := range rows {
		id, _ := row["id"].(string)
		content, _ := row["content"].(string)
		lc := strings.ToLower(content)
		score := 0.0
		for _, tok := range tokens {
			if tok != "" && strings.Contains(lc, tok) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		out = append(out, vectorstore.Result{ID: id, Score: score})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) filterByValidTime(ctx context.Context, in []fused, window TemporalWindow) []fused {
	if e.graph == nil {
		return in
	}
	out := make([]fused, 0, len(in))
	for _, f := range in {
		node, ok, err := e.graph.GetNode(ctx, f.id)
		if err != nil || !ok {
			continue
		}
		vt, _ := node.Props["vt_start"].(time.Time)
		if vt.IsZero() || (vt.After(window.Start) && vt.Before(window.End)) || vt.Equal(window.Start) {
			out = append(out, f)
		}
	}
	return out
}
