package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, prev)
			}
		})
	}
}

var allKeys = []string{
	"INGESTION_URL", "SEARCH_URL", "GRAPH_URL", "VECTOR_STORE_URL", "BUS_URL",
	"AUTH_TOKEN", "OAUTH_INTROSPECTION_URL", "OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET", "RESOURCE_SERVER_URL",
	"DEDUP_TTL_MS", "DEDUP_MAX_ENTRIES", "DEDUP_CLEANUP_MS",
	"BATCH_SIZE", "FLUSH_INTERVAL_MS", "MAX_QUEUE_SIZE",
	"RERANK_TIER", "RERANK_DEPTH", "RERANK_MAX_CONCURRENCY",
	"ABSTENTION_THRESHOLD", "NLI_THRESHOLD",
}

func TestLoadFailsWithoutRequiredURLs(t *testing.T) {
	clearEnv(t, allKeys...)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when GRAPH_URL/VECTOR_STORE_URL/BUS_URL are unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, allKeys...)
	os.Setenv("GRAPH_URL", "bolt://localhost:7687")
	os.Setenv("VECTOR_STORE_URL", "http://localhost:6333")
	os.Setenv("BUS_URL", "nats://localhost:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DedupTTL != 300_000*time.Millisecond {
		t.Fatalf("DedupTTL = %v, want 300000ms", cfg.DedupTTL)
	}
	if cfg.DedupMaxEntries != 50_000 {
		t.Fatalf("DedupMaxEntries = %d, want 50000", cfg.DedupMaxEntries)
	}
	if cfg.DedupCleanup != 60_000*time.Millisecond {
		t.Fatalf("DedupCleanup = %v, want 60000ms", cfg.DedupCleanup)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5_000*time.Millisecond {
		t.Fatalf("FlushInterval = %v, want 5000ms", cfg.FlushInterval)
	}
	if cfg.MaxQueueSize != 1_000 {
		t.Fatalf("MaxQueueSize = %d, want 1000", cfg.MaxQueueSize)
	}
	if cfg.AbstentionThreshold != 0.3 {
		t.Fatalf("AbstentionThreshold = %v, want 0.3", cfg.AbstentionThreshold)
	}
	if cfg.NLIThreshold != 0.7 {
		t.Fatalf("NLIThreshold = %v, want 0.7", cfg.NLIThreshold)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t, allKeys...)
	os.Setenv("GRAPH_URL", "bolt://localhost:7687")
	os.Setenv("VECTOR_STORE_URL", "http://localhost:6333")
	os.Setenv("BUS_URL", "nats://localhost:4222")
	os.Setenv("BATCH_SIZE", "250")
	os.Setenv("RERANK_TIER", "cross-encoder")
	os.Setenv("ABSTENTION_THRESHOLD", "0.42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 250 {
		t.Fatalf("BatchSize = %d, want 250", cfg.BatchSize)
	}
	if cfg.RerankTier != "cross-encoder" {
		t.Fatalf("RerankTier = %q, want cross-encoder", cfg.RerankTier)
	}
	if cfg.AbstentionThreshold != 0.42 {
		t.Fatalf("AbstentionThreshold = %v, want 0.42", cfg.AbstentionThreshold)
	}
}

func TestLoadIgnoresMalformedNumericEnv(t *testing.T) {
	clearEnv(t, allKeys...)
	os.Setenv("GRAPH_URL", "bolt://localhost:7687")
	os.Setenv("VECTOR_STORE_URL", "http://localhost:6333")
	os.Setenv("BUS_URL", "nats://localhost:4222")
	os.Setenv("BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("BatchSize = %d, want default 100 for malformed input", cfg.BatchSize)
	}
}
