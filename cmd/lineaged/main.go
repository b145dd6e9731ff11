// Command lineaged is the memory-and-lineage daemon entrypoint: it loads
// configuration, wires C1-C6 plus the shared Graph Pruner/Bitemporal Query
// Builder into one process, and serves spec.md §6's HTTP interface until
// SIGINT/SIGTERM. Wiring and the graceful-shutdown shape are generalized
// from the teacher's cmd/orchestrator/main.go run()/signal.NotifyContext
// pattern.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"lineage/internal/aggregator"
	"lineage/internal/blobstore"
	"lineage/internal/bus"
	"lineage/internal/config"
	"lineage/internal/dedup"
	"lineage/internal/eventparser"
	"lineage/internal/fanout"
	"lineage/internal/graphmodel"
	"lineage/internal/graphstore"
	"lineage/internal/httpapi"
	"lineage/internal/indexer"
	"lineage/internal/llmclient"
	"lineage/internal/memoryapi"
	"lineage/internal/obslog"
	"lineage/internal/pruner"
	"lineage/internal/retrieve"
	"lineage/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("lineaged")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obslog.InitLogger(os.Getenv("LOG_PATH"), os.Getenv("LOG_LEVEL"))

	baseCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := obslog.InitTracer(baseCtx, "lineaged")
	if err != nil {
		log.Warn().Err(err).Msg("lineaged: tracer init failed, continuing without spans")
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	pool, err := pgxpool.New(baseCtx, cfg.GraphURL)
	if err != nil {
		return fmt.Errorf("connect graph store: %w", err)
	}
	defer pool.Close()
	graph, err := graphstore.NewPostgresGraph(baseCtx, pool)
	if err != nil {
		return fmt.Errorf("init graph store: %w", err)
	}

	vectors, err := vectorstore.NewQdrantStore(baseCtx, vectorstore.Config{
		DSN:        cfg.VectorStoreURL,
		Collection: "lineage_memories",
		Dims: map[string]int{
			vectorstore.SpaceDense:  1536,
			vectorstore.SpaceSparse: 30000,
		},
		Metric: "cosine",
	})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}

	dense := indexer.NewHTTPEmbedder(indexer.HTTPEmbedderConfig{
		BaseURL:   firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://localhost:8080"),
		Path:      "/v1/embeddings",
		Model:     firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		APIHeader: "Authorization",
		APIKey:    os.Getenv("EMBEDDING_API_KEY"),
		Dim:       1536,
		Timeout:   30 * time.Second,
	})

	retrieveEngine := retrieve.New(retrieve.Config{
		Vectors:   vectors,
		Graph:     graph,
		Dense:     dense,
		Rerankers: buildRerankers(cfg),
	})

	dedupEngine := dedup.New(dedup.WithTTL(cfg.DedupTTL), dedup.WithMaxEntries(cfg.DedupMaxEntries))
	dedupEngine.StartCleanup(baseCtx, cfg.DedupCleanup)

	busConn, err := connectBus(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	agg := aggregator.New(aggregator.Options{Graph: graph, Bus: busConn, Dedup: dedupEngine})
	defer agg.Stop()

	ix := indexer.New(indexer.Options{
		Store:         vectors,
		Dense:         dense,
		EnableColbert: false,
		Batch: indexer.BatchQueueConfig{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			MaxQueueSize:  cfg.MaxQueueSize,
		},
	})
	defer ix.Stop()
	go func() {
		if err := ix.Consume(baseCtx, busConn, "indexer"); err != nil && baseCtx.Err() == nil {
			log.Error().Err(err).Msg("lineaged: indexer consume loop exited")
		}
	}()

	hub := fanout.NewHub(baseCtx, buildSnapshotFunc(graph))
	defer hub.Stop()
	go func() {
		if err := hub.Consume(baseCtx, busConn, "fanout"); err != nil && baseCtx.Err() == nil {
			log.Error().Err(err).Msg("lineaged: fanout consume loop exited")
		}
	}()

	go runPruner(baseCtx, graph)

	mem := memoryapi.New(memoryapi.Options{Graph: graph, Retrieve: retrieveEngine})

	srv := httpapi.NewServer(httpapi.Deps{
		Parser:     eventparser.NewRegistry(),
		Aggregator: agg,
		Dedup:      dedupEngine,
		Retrieve:   retrieveEngine,
		Memory:     mem,
		Hub:        hub,
	})

	addr := firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8090")
	httpServer := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("lineaged: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-baseCtx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("lineaged: graceful shutdown failed")
	}

	log.Info().Msg("lineaged stopped")
	return nil
}

// buildRerankers wires whichever tiers have a concrete backing available.
// The fast/accurate/code tiers share one placeholder scorer, embeddingSimilarity
// (no cross-encoder model ships with this repo, matching rerank.go's own
// note on CrossEncoderFunc); the llm tier only gets wired if an LLM
// provider API key is present, since spec.md §6's env schema has no slot
// for one and this system must still run with it entirely absent.
func buildRerankers(cfg *config.Config) map[retrieve.RerankTier]retrieve.Reranker {
	rerankers := map[retrieve.RerankTier]retrieve.Reranker{}

	scorer := func(ctx context.Context, query, doc string) (float64, error) {
		return embeddingSimilarity(query, doc), nil
	}
	local := retrieve.NewLocalReranker(scorer, cfg.RerankMaxConcurrency)
	rerankers[retrieve.RerankFast] = local
	rerankers[retrieve.RerankAccurate] = local
	rerankers[retrieve.RerankCode] = local

	if router := buildLLMRouter(); router != nil {
		rerankers[retrieve.RerankLLM] = retrieve.NewLLMReranker(router, "")
	}
	return rerankers
}

// embeddingSimilarity is a placeholder cross-encoder score: 0 if either
// string is empty, 1 if doc equals query exactly, 0.5 otherwise; it computes
// no embedding and no token overlap. A real deployment swaps this for a
// cross-encoder model; nothing
// in this repo's scope ships model weights.
func embeddingSimilarity(query, doc string) float64 {
	if query == "" || doc == "" {
		return 0
	}
	if doc == query {
		return 1
	}
	return 0.5
}

func buildLLMRouter() *llmclient.Router {
	providers := map[string]llmclient.Completer{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		providers["openai"] = llmclient.NewOpenAICompleter(llmclient.OpenAIConfig{APIKey: key}, http.DefaultClient)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		providers["anthropic"] = llmclient.NewAnthropicCompleter(llmclient.AnthropicConfig{APIKey: key}, http.DefaultClient)
	}
	if len(providers) == 0 {
		return nil
	}
	fallback := "openai"
	if _, ok := providers[fallback]; !ok {
		for name := range providers {
			fallback = name
			break
		}
	}
	return llmclient.NewRouter(providers, fallback)
}

// buildSnapshotFunc implements spec.md §4.6's "on connect, emits the
// current snapshot for the topic": lineage+timeline for a session
// subscription. Logs/metrics subscriptions have no dedicated store in this
// repo (there's no log/metric node type, just the generic graph), so they
// get an empty snapshot — the heartbeat and incremental push still work,
// only the connect-time backfill is a no-op for those two topics.
func buildSnapshotFunc(graph graphstore.GraphDB) fanout.SnapshotFunc {
	return func(ctx context.Context, sub fanout.Subscription) (any, error) {
		if sub.Topic != fanout.TopicSession {
			return []graphstore.Node{}, nil
		}
		return sessionSnapshot(ctx, graph, sub.Session)
	}
}

// sessionSnapshot walks HAS_TURN edges from the session node and returns
// every turn node reachable from it, in the same shape a timeline replay
// would produce.
func sessionSnapshot(ctx context.Context, graph graphstore.GraphDB, sessionID string) ([]graphstore.Node, error) {
	turnIDs, err := graph.Neighbors(ctx, sessionID, graphmodel.EdgeHasTurn)
	if err != nil {
		return nil, err
	}
	turns := make([]graphstore.Node, 0, len(turnIDs))
	for _, id := range turnIDs {
		node, ok, err := graph.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			turns = append(turns, node)
		}
	}
	return turns, nil
}

// runPruner drives the shared Graph Pruner (spec.md §4.7) on a fixed
// interval until ctx is done. Retention and cadence aren't part of spec.md
// §6's env schema (the pruner is a shared background sweep, not an external
// interface), so they're read directly here, the same best-effort-extra
// pattern buildLLMRouter uses for provider keys.
func runPruner(ctx context.Context, graph graphstore.GraphDB) {
	retention := durationFromEnv("RETENTION", 30*24*time.Hour)
	interval := durationFromEnv("PRUNE_INTERVAL", time.Hour)

	archive, err := buildArchiveStore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("lineaged: archive store unavailable, pruning without archival")
		archive = nil
	}
	p := pruner.New(graph, archive)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := p.Run(ctx, pruner.Config{Retention: retention})
			if err != nil {
				log.Error().Err(err).Msg("lineaged: prune run failed")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("lineaged: prune run complete")
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildArchiveStore(ctx context.Context) (blobstore.Store, error) {
	bucket := os.Getenv("ARCHIVE_BUCKET")
	if bucket == "" {
		return nil, nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:       bucket,
		Region:       os.Getenv("ARCHIVE_REGION"),
		Endpoint:     os.Getenv("ARCHIVE_ENDPOINT"),
		AccessKey:    os.Getenv("ARCHIVE_ACCESS_KEY"),
		SecretKey:    os.Getenv("ARCHIVE_SECRET_KEY"),
		Prefix:       "lineage",
		UsePathStyle: os.Getenv("ARCHIVE_ENDPOINT") != "",
	})
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func connectBus(busURL string) (bus.Bus, error) {
	return bus.NewKafkaBus([]string{busURL}), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
