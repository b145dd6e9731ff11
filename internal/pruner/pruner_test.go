package pruner

import (
	"bufio"
	"context"
	"encoding/json"
	"testing"
	"time"

	"lineage/internal/blobstore"
	"lineage/internal/graphstore"
)

func seedGraph(t *testing.T, g *graphstore.MemoryGraph, tick *time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := "n" + string(rune('a'+i))
		if err := g.UpsertNode(ctx, id, []string{"Memory"}, map[string]any{"v": i}); err != nil {
			t.Fatal(err)
		}
		// Immediately supersede so the first row becomes prunable history.
		*tick = tick.Add(time.Minute)
		if err := g.UpsertNode(ctx, id, []string{"Memory"}, map[string]any{"v": i + 100}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPrunerArchivesAndRemovesBatches(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := t0
	g := graphstore.NewMemoryGraph().WithClock(func() time.Time { return tick })
	seedGraph(t, g, &tick, 3)

	archive := blobstore.NewMemoryStore()
	pr := New(g, archive)
	pr.now = func() time.Time { return tick.Add(24 * time.Hour) }

	removed, err := pr.Run(context.Background(), Config{Retention: time.Hour, BatchSize: 10, MaxBatches: 5})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 superseded rows pruned, got %d", removed)
	}

	objs, err := archive.List(context.Background(), "pruned/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 {
		t.Fatalf("expected one archive object, got %d", len(objs))
	}

	rc, _, err := archive.Get(context.Background(), objs[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	count := 0
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		if _, ok := rec["archived_at"]; !ok {
			t.Fatalf("expected archived_at field in %v", rec)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 archived records, got %d", count)
	}
}

func TestPrunerStopsWhenBatchEmpty(t *testing.T) {
	g := graphstore.NewMemoryGraph()
	pr := New(g, nil)
	removed, err := pr.Run(context.Background(), Config{Retention: time.Hour, BatchSize: 10, MaxBatches: 5})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("expected no removals on empty graph, got %d", removed)
	}
}

func TestPrunerWithoutArchiveStillRemoves(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := t0
	g := graphstore.NewMemoryGraph().WithClock(func() time.Time { return tick })
	seedGraph(t, g, &tick, 1)

	pr := New(g, nil)
	pr.now = func() time.Time { return tick.Add(24 * time.Hour) }
	removed, err := pr.Run(context.Background(), Config{Retention: time.Hour, BatchSize: 10, MaxBatches: 5})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
