// Package config assembles the flat env-var schema spec.md §6 enumerates
// into one immutable Config, read once at startup; cmd/lineaged passes its
// fields to the component constructors (spec.md §9's "Global singletons"
// redesign flag — no package-level mutable config survives past main's
// wiring). Generalizes the teacher's loadConfig/intFromEnv/firstNonEmpty
// pattern in main.go, which loads an optional .env file with
// github.com/joho/godotenv before falling back to os.Getenv with typed
// parsing and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the immutable, fully-resolved configuration for one process.
// Every field is read once by Load and never mutated afterward.
type Config struct {
	IngestionURL   string
	SearchURL      string
	GraphURL       string
	VectorStoreURL string
	BusURL         string

	AuthToken             string
	OAuthIntrospectionURL string
	OAuthClientID         string
	OAuthClientSecret     string
	ResourceServerURL     string

	DedupTTL        time.Duration
	DedupMaxEntries int
	DedupCleanup    time.Duration

	BatchSize     int
	FlushInterval time.Duration
	MaxQueueSize  int

	RerankTier           string
	RerankDepth          int
	RerankMaxConcurrency int

	AbstentionThreshold float64
	NLIThreshold        float64
}

// Load reads .env (if present, ignoring a missing file) and then resolves
// every variable from the environment, applying spec.md §6's defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		IngestionURL:   strings.TrimSpace(os.Getenv("INGESTION_URL")),
		SearchURL:      strings.TrimSpace(os.Getenv("SEARCH_URL")),
		GraphURL:       strings.TrimSpace(os.Getenv("GRAPH_URL")),
		VectorStoreURL: strings.TrimSpace(os.Getenv("VECTOR_STORE_URL")),
		BusURL:         strings.TrimSpace(os.Getenv("BUS_URL")),

		AuthToken:             strings.TrimSpace(os.Getenv("AUTH_TOKEN")),
		OAuthIntrospectionURL: strings.TrimSpace(os.Getenv("OAUTH_INTROSPECTION_URL")),
		OAuthClientID:         strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID")),
		OAuthClientSecret:     strings.TrimSpace(os.Getenv("OAUTH_CLIENT_SECRET")),
		ResourceServerURL:     strings.TrimSpace(os.Getenv("RESOURCE_SERVER_URL")),

		DedupTTL:        msFromEnv("DEDUP_TTL_MS", 300_000),
		DedupMaxEntries: intFromEnv("DEDUP_MAX_ENTRIES", 50_000),
		DedupCleanup:    msFromEnv("DEDUP_CLEANUP_MS", 60_000),

		BatchSize:     intFromEnv("BATCH_SIZE", 100),
		FlushInterval: msFromEnv("FLUSH_INTERVAL_MS", 5_000),
		MaxQueueSize:  intFromEnv("MAX_QUEUE_SIZE", 1_000),

		RerankTier:           firstNonEmpty(strings.TrimSpace(os.Getenv("RERANK_TIER")), ""),
		RerankDepth:          intFromEnv("RERANK_DEPTH", 30),
		RerankMaxConcurrency: intFromEnv("RERANK_MAX_CONCURRENCY", 4),

		AbstentionThreshold: floatFromEnv("ABSTENTION_THRESHOLD", 0.3),
		NLIThreshold:        floatFromEnv("NLI_THRESHOLD", 0.7),
	}

	if cfg.GraphURL == "" {
		return nil, fmt.Errorf("config: GRAPH_URL is required")
	}
	if cfg.VectorStoreURL == "" {
		return nil, fmt.Errorf("config: VECTOR_STORE_URL is required")
	}
	if cfg.BusURL == "" {
		return nil, fmt.Errorf("config: BUS_URL is required")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func msFromEnv(key string, defMS int) time.Duration {
	return time.Duration(intFromEnv(key, defMS)) * time.Millisecond
}
