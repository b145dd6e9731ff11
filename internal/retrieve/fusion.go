package retrieve

import (
	"context"
	"math"
	"regexp"
	"strings"

	"lineage/internal/indexer"
	"lineage/internal/vectorstore"
)

// fused is the internal per-candidate bookkeeping carried from stage 1
// through stage 3, generalizing the teacher's fusedCandidate
// (internal/rag/retrieve/fusion.go) from FTS+vector ranks to dense+sparse
// vectorstore ranks.
type fused struct {
	id          string
	denseRank   int // 1-based; 0 if absent
	sparseRank  int
	denseScore  float64
	sparseScore float64
	score       float64
	metadata    map[string]string
}

// candidates runs stage 1: parallel dense and sparse retrieval against the
// vector store, grounded on the teacher's ParallelCandidates
// (internal/rag/retrieve/candidates.go), generalized from FTS+vector to
// dense+sparse named spaces.
func (e *Engine) candidates(ctx context.Context, query string, opts Options) (denseAndSparse, error) {
	denseVec, embErr := e.embedQuery(ctx, query)

	type out struct {
		res []vectorstore.Result
		err error
	}
	denseCh := make(chan out, 1)
	sparseCh := make(chan out, 1)

	if embErr == nil && e.vectors != nil {
		go func() {
			res, err := e.vectors.Search(ctx, vectorstore.SearchRequest{
				Space: vectorstore.SpaceDense, Vector: vectorstore.Vector{Values: denseVec}, K: opts.RerankDepth, Filter: opts.Filter,
			})
			denseCh <- out{res: res, err: err}
		}()
	} else {
		denseCh <- out{err: embErr}
	}

	if e.vectors != nil {
		go func() {
			res, err := e.vectors.Search(ctx, vectorstore.SearchRequest{
				Space: vectorstore.SpaceSparse, Vector: vectorstore.Vector{Values: indexerSparseEmbed(query)}, K: opts.RerankDepth, Filter: opts.Filter,
			})
			sparseCh <- out{res: res, err: err}
		}()
	} else {
		sparseCh <- out{err: errNoVectorStore}
	}

	d := <-denseCh
	s := <-sparseCh

	// Failure semantics (spec.md §4.5): dense failure falls back to
	// sparse-only; total vector-store failure falls back to a bounded
	// graph keyword search.
	if d.err != nil && s.err != nil {
		kw, kwErr := e.graphKeywordFallback(ctx, query, opts.RerankDepth)
		if kwErr != nil {
			return denseAndSparse{}, kwErr
		}
		return denseAndSparse{sparse: kw}, nil
	}
	dc := denseAndSparse{}
	if d.err == nil {
		dc.dense = d.res
	}
	if s.err == nil {
		dc.sparse = s.res
	}
	return dc, nil
}

type denseAndSparse struct {
	dense  []vectorstore.Result
	sparse []vectorstore.Result
}

var errNoVectorStore = errorString("retrieve: no vector store configured")

type errorString string

func (e errorString) Error() string { return string(e) }

// fuse runs stage 2: adaptive RRF by default, or learned fusion (falling
// back to fixed weights when no model is configured), per spec.md §4.5.
func (e *Engine) fuse(query string, c denseAndSparse, opts Options) []fused {
	densePos := make(map[string]int, len(c.dense))
	denseByID := make(map[string]vectorstore.Result, len(c.dense))
	for i, r := range c.dense {
		densePos[r.ID] = i + 1
		denseByID[r.ID] = r
	}
	sparsePos := make(map[string]int, len(c.sparse))
	sparseByID := make(map[string]vectorstore.Result, len(c.sparse))
	for i, r := range c.sparse {
		sparsePos[r.ID] = i + 1
		sparseByID[r.ID] = r
	}

	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, r := range c.dense {
		add(r.ID)
	}
	for _, r := range c.sparse {
		add(r.ID)
	}

	feats := ExtractQueryFeatures(query)

	out := make([]fused, 0, len(ids))
	switch {
	case opts.Fusion == FusionLearned && e.fusionModel != nil:
		wd, ws, wr, err := e.fusionModel.Predict(feats)
		if err != nil {
			wd, ws, wr = fallbackWeights()
		}
		out = e.fuseWeighted(ids, denseByID, sparseByID, wd, ws, wr)
	case opts.Fusion == FusionLearned:
		wd, ws, wr := fallbackWeights()
		out = e.fuseWeighted(ids, denseByID, sparseByID, wd, ws, wr)
	default:
		out = e.fuseRRF(ids, densePos, sparsePos, denseByID, sparseByID, feats)
	}
	return out
}

// fuseRRF implements spec.md §4.5 stage 2's adaptive RRF:
// rrf(d) = 1/(k_dense + r_dense + 1) + 1/(k_sparse + r_sparse + 1), with
// k_dense=60 fixed and k_sparse switching between 30 and 60 based on query
// features. Grounded on the teacher's FuseRRF
// (internal/rag/retrieve/fusion.go), generalized from a single tunable k
// to the spec's two-constant, query-adaptive scheme.
func (e *Engine) fuseRRF(ids []string, densePos, sparsePos map[string]int, denseByID, sparseByID map[string]vectorstore.Result, feats QueryFeatures) []fused {
	const kDense = 60
	kSparse := 60
	if feats.HasNamedEntity || feats.TokenCount <= 4 {
		kSparse = 30
	}

	out := make([]fused, 0, len(ids))
	for _, id := range ids {
		dr := densePos[id]
		sr := sparsePos[id]
		var dContrib, sContrib float64
		if dr > 0 {
			dContrib = 1.0 / float64(kDense+dr+1)
		}
		if sr > 0 {
			sContrib = 1.0 / float64(kSparse+sr+1)
		}
		md := map[string]string{}
		if r, ok := denseByID[id]; ok {
			for k, v := range r.Metadata {
				md[k] = v
			}
		}
		if r, ok := sparseByID[id]; ok {
			for k, v := range r.Metadata {
				if _, exists := md[k]; !exists {
					md[k] = v
				}
			}
		}
		out = append(out, fused{
			id: id, denseRank: dr, sparseRank: sr,
			denseScore: dContrib, sparseScore: sContrib,
			score: dContrib + sContrib, metadata: md,
		})
	}
	return out
}

// fuseWeighted implements the learned-fusion branch: score(d) =
// w_dense*norm(dense(d)) + w_sparse*norm(sparse(d)) + w_rerank*norm(rerank(d)).
// The rerank term is applied later in stage 3 (MergeWeighted); here only
// the dense/sparse contribution is computable, min-max normalized within
// each list per spec.md §4.5.
func (e *Engine) fuseWeighted(ids []string, denseByID, sparseByID map[string]vectorstore.Result, wDense, wSparse, _ float64) []fused {
	denseNorm := minMaxNormalize(denseByID)
	sparseNorm := minMaxNormalize(sparseByID)

	out := make([]fused, 0, len(ids))
	for _, id := range ids {
		d := denseNorm[id]
		s := sparseNorm[id]
		md := map[string]string{}
		if r, ok := denseByID[id]; ok {
			for k, v := range r.Metadata {
				md[k] = v
			}
		}
		if r, ok := sparseByID[id]; ok {
			for k, v := range r.Metadata {
				if _, exists := md[k]; !exists {
					md[k] = v
				}
			}
		}
		out = append(out, fused{
			id: id, denseScore: d, sparseScore: s,
			score: wDense*d + wSparse*s, metadata: md,
		})
	}
	return out
}

// fallbackWeights returns spec.md §4.5's fixed fallback weights
// (w_dense, w_sparse, w_rerank) used when no learned (ONNX) fusion model is
// configured.
func fallbackWeights() (float64, float64, float64) {
	return 0.4, 0.3, 0.3
}

func minMaxNormalize(byID map[string]vectorstore.Result) map[string]float64 {
	out := make(map[string]float64, len(byID))
	if len(byID) == 0 {
		return out
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, r := range byID {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	rng := max - min
	for id, r := range byID {
		if rng == 0 {
			out[id] = 0.5
			continue
		}
		out[id] = (r.Score - min) / rng
	}
	return out
}

func mergeFusedByID(in []fused) []fused {
	byID := map[string]*fused{}
	var order []string
	for _, f := range in {
		f := f
		if existing, ok := byID[f.id]; ok {
			if f.score > existing.score {
				*existing = f
			}
			continue
		}
		byID[f.id] = &f
		order = append(order, f.id)
	}
	out := make([]fused, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// QueryFeatures captures the query-shape signals spec.md §4.5 uses to
// adapt fusion/filtering behavior.
type QueryFeatures struct {
	TokenCount      int
	HasNamedEntity  bool
	IsInterrogative bool
	HasNumeric      bool
	HasTemporal     bool
}

var (
	interrogativeRe = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|which|is|are|does|do|can)\b`)
	numericRe       = regexp.MustCompile(`\d`)
	temporalRe      = regexp.MustCompile(`(?i)\b(yesterday|today|tomorrow|last (week|month|year|night)|ago|since|before|after|on \w+ \d)\b`)
)

// ExtractQueryFeatures derives the coarse query features spec.md's learned
// fusion model and temporal filter rely on. Named-entity detection is
// approximated by capitalized mid-sentence tokens, since no NER library is
// present anywhere in the retrieval pack; recorded in DESIGN.md as the
// stdlib-only justification for this heuristic.
func ExtractQueryFeatures(query string) QueryFeatures {
	tokens := strings.Fields(query)
	hasEntity := false
	for i, tok := range tokens {
		if i == 0 {
			continue
		}
		r := []rune(tok)
		if len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z' {
			hasEntity = true
			break
		}
	}
	return QueryFeatures{
		TokenCount:      len(tokens),
		HasNamedEntity:  hasEntity,
		IsInterrogative: interrogativeRe.MatchString(strings.TrimSpace(query)),
		HasNumeric:      numericRe.MatchString(query),
		HasTemporal:     temporalRe.MatchString(query),
	}
}

// LearnedFusionModel predicts fusion weights from query features, matching
// spec.md §4.5's "small MLP (ONNX)" description behind an interface so the
// engine never depends on a concrete ONNX runtime.
type LearnedFusionModel interface {
	Predict(feats QueryFeatures) (wDense, wSparse, wRerank float64, err error)
}

func indexerSparseEmbed(text string) []float32 {
	return sparseEmbedFn(text)
}

// sparseEmbedFn is overridable in tests; defaults to the indexer's hashing
// trick encoder (internal/indexer.SparseEmbed) so stage 1's sparse query
// side uses exactly the same vocabulary the indexer embedded documents
// with.
var sparseEmbedFn = indexer.SparseEmbed
