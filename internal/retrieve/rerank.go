package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lineage/internal/llmclient"
	"lineage/internal/obslog"
)

// Reranker optionally reorders fused candidates, mirroring the teacher's
// Reranker interface (internal/rag/retrieve/rerank.go) but scoring a batch
// at once (cross-encoders score query/document pairs far more efficiently
// batched than one call per item).
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]float64, error)
}

// CrossEncoderFunc scores one query/document pair in [0,1]. Local tiers
// (fast/accurate/code) are built from one of these via NewLocalReranker;
// the model itself is out of scope for this repo (no cross-encoder weights
// ship in the retrieval pack), matching the teacher's own NoopReranker
// placeholder pattern, generalized to an actually-pluggable scoring func
// instead of a no-op.
type CrossEncoderFunc func(ctx context.Context, query, doc string) (float64, error)

// LocalReranker batches CrossEncoderFunc calls with bounded concurrency,
// per spec.md §4.5's "batched locally, concurrency-bounded" requirement.
type LocalReranker struct {
	score       CrossEncoderFunc
	concurrency int
}

// NewLocalReranker constructs a LocalReranker. concurrency<=0 defaults to 4.
func NewLocalReranker(score CrossEncoderFunc, concurrency int) *LocalReranker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &LocalReranker{score: score, concurrency: concurrency}
}

func (r *LocalReranker) Rerank(ctx context.Context, query string, results []Result) ([]float64, error) {
	out := make([]float64, len(results))
	errs := make([]error, len(results))
	sem := make(chan struct{}, r.concurrency)
	done := make(chan int, len(results))
	for i, res := range results {
		i, res := i, res
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- i }()
			doc := docTextFromMetadata(res.Metadata)
			s, err := r.score(ctx, query, doc)
			out[i] = s
			errs[i] = err
		}()
	}
	for range results {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return normalizeScores(out), nil
}

func docTextFromMetadata(md map[string]string) string {
	if md == nil {
		return ""
	}
	return md["content"]
}

// LLMReranker implements spec.md §4.5's `llm` tier: listwise reranking by
// an external LLM, producing an ordering of indices mapped to linearly
// decreasing scores 1-rank/n. Grounded on internal/llmclient.Completer,
// the one concrete use of the LLM router in the retrieval pipeline.
type LLMReranker struct {
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewLLMReranker builds an LLMReranker over a Router bound to the given
// provider (empty string uses the router's default).
func NewLLMReranker(router *llmclient.Router, provider string) *LLMReranker {
	return &LLMReranker{complete: func(ctx context.Context, prompt string) (string, error) {
		return router.Complete(ctx, provider, prompt)
	}}
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, results []Result) ([]float64, error) {
	prompt := buildListwisePrompt(query, results)
	resp, err := r.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	order, err := parseListwiseOrder(resp, len(results))
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(results))
	n := len(order)
	for rank, idx := range order {
		if idx < 0 || idx >= len(results) {
			continue
		}
		scores[idx] = 1 - float64(rank)/float64(n)
	}
	return scores, nil
}

func buildListwisePrompt(query string, results []Result) string {
	var b strings.Builder
	b.WriteString("Rank the following documents by relevance to the query.\n")
	fmt.Fprintf(&b, "Query: %s\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n", i, docTextFromMetadata(r.Metadata))
	}
	b.WriteString("Respond with a comma-separated list of indices, most relevant first.")
	return b.String()
}

func parseListwiseOrder(resp string, n int) ([]int, error) {
	fields := strings.FieldsFunc(resp, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	var order []int
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		if v >= 0 && v < n {
			order = append(order, v)
		}
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("retrieve: llm reranker returned no parseable ordering")
	}
	return order, nil
}

func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	rng := max - min
	for i, s := range scores {
		if rng == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (s - min) / rng
	}
	return out
}

// rerank runs stage 3: invoke the configured tier, then merge its scores
// with the fused scores per opts.MergeStrategy (spec.md §4.5).
func (e *Engine) rerank(ctx context.Context, query string, results []Result, opts Options) ([]Result, error) {
	reranker, ok := e.rerankers[opts.Rerank]
	if !ok {
		return nil, fmt.Errorf("retrieve: no reranker registered for tier %q", opts.Rerank)
	}
	var scores []float64
	err := obslog.Trace(ctx, "reranker.rerank", func(ctx context.Context) error {
		var rerr error
		scores, rerr = reranker.Rerank(ctx, query, results)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(results) {
		return nil, fmt.Errorf("retrieve: reranker returned %d scores for %d results", len(scores), len(results))
	}

	merged := make([]Result, len(results))
	for i, r := range results {
		r.Explanation["rerank_score"] = scores[i]
		switch opts.MergeStrategy {
		case MergeReplace:
			r.Score = scores[i]
		case MergeWeighted:
			w := opts.RerankWeight
			if w <= 0 {
				w = 0.5
			}
			r.Score = (1-w)*r.Score + w*scores[i]
		default: // MergeRankBased
			r.Explanation["fused_score"] = r.Score
		}
		merged[i] = r
	}

	if opts.MergeStrategy == MergeRankBased {
		idx := make([]int, len(merged))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			if scores[idx[i]] != scores[idx[j]] {
				return scores[idx[i]] > scores[idx[j]]
			}
			return merged[idx[i]].ID < merged[idx[j]].ID
		})
		out := make([]Result, len(merged))
		for i, id := range idx {
			out[i] = merged[id]
		}
		return out, nil
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, nil
}
