package graphstore

import (
	"context"
	"testing"
	"time"

	"lineage/internal/graphmodel"
)

func TestUpsertNodeClosesPriorCurrentRow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	tick := t0
	g := NewMemoryGraph().WithClock(func() time.Time { return tick })

	ctx := context.Background()
	if err := g.UpsertNode(ctx, "n1", []string{"Memory"}, map[string]any{"v": "v1"}); err != nil {
		t.Fatal(err)
	}
	tick = t1
	if err := g.UpsertNode(ctx, "n1", []string{"Memory"}, map[string]any{"v": "v2"}); err != nil {
		t.Fatal(err)
	}

	n, ok, err := g.GetNode(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("expected current node, ok=%v err=%v", ok, err)
	}
	if n.Props["v"] != "v2" {
		t.Fatalf("expected current value v2, got %v", n.Props["v"])
	}

	// Point-in-time: just after t0 sees v1, just after t1 sees v2.
	n, ok, err = g.GetNodeAt(ctx, "n1", NodeFilter{ValidTime: t0.Add(time.Minute), TransactionTime: t0.Add(time.Minute)})
	if err != nil || !ok || n.Props["v"] != "v1" {
		t.Fatalf("expected v1 at t0+eps, got %+v ok=%v err=%v", n, ok, err)
	}
	n, ok, err = g.GetNodeAt(ctx, "n1", NodeFilter{ValidTime: t1.Add(time.Minute), TransactionTime: t1.Add(time.Minute)})
	if err != nil || !ok || n.Props["v"] != "v2" {
		t.Fatalf("expected v2 at t1+eps, got %+v ok=%v err=%v", n, ok, err)
	}
}

func TestEdgesAndNeighbors(t *testing.T) {
	g := NewMemoryGraph()
	ctx := context.Background()
	if err := g.UpsertEdge(ctx, "s1", graphmodel.EdgeHasTurn, "t1", nil); err != nil {
		t.Fatal(err)
	}
	if err := g.UpsertEdge(ctx, "s1", graphmodel.EdgeHasTurn, "t2", nil); err != nil {
		t.Fatal(err)
	}
	dsts, err := g.Neighbors(ctx, "s1", graphmodel.EdgeHasTurn)
	if err != nil {
		t.Fatal(err)
	}
	if len(dsts) != 2 || dsts[0] != "t1" || dsts[1] != "t2" {
		t.Fatalf("expected sorted [t1 t2], got %v", dsts)
	}
}

func TestDeleteNodesOlderThanPreservesCurrentRow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)
	tick := t0
	g := NewMemoryGraph().WithClock(func() time.Time { return tick })
	ctx := context.Background()

	if err := g.UpsertNode(ctx, "n1", nil, map[string]any{"v": "v1"}); err != nil {
		t.Fatal(err)
	}
	tick = t1
	if err := g.UpsertNode(ctx, "n1", nil, map[string]any{"v": "v2"}); err != nil {
		t.Fatal(err)
	}

	removed, err := g.DeleteNodesOlderThan(ctx, t2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Props["v"] != "v1" {
		t.Fatalf("expected only the superseded v1 row removed, got %+v", removed)
	}

	n, ok, err := g.GetNode(ctx, "n1")
	if err != nil || !ok || n.Props["v"] != "v2" {
		t.Fatalf("expected current row v2 to survive pruning, got %+v ok=%v err=%v", n, ok, err)
	}
}

func TestDeleteNodesOlderThanRespectsLimit(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	far := t0.Add(10 * time.Hour)
	tick := t0
	g := NewMemoryGraph().WithClock(func() time.Time { return tick })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tick = t0.Add(time.Duration(i) * time.Minute)
		if err := g.UpsertNode(ctx, "n1", nil, map[string]any{"v": i}); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := g.DeleteNodesOlderThan(ctx, far, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected exactly 2 rows removed under limit, got %d", len(removed))
	}
}

func TestMemoryGraphQueryUnsupported(t *testing.T) {
	g := NewMemoryGraph()
	_, err := g.Query(context.Background(), "MATCH (n) RETURN n", nil)
	if err != ErrQueryUnsupported {
		t.Fatalf("expected ErrQueryUnsupported, got %v", err)
	}
}

func TestMaxSentinelIsFarFuture(t *testing.T) {
	if !graphmodel.MaxSentinel.After(time.Now().AddDate(100, 0, 0)) {
		t.Fatalf("expected MaxSentinel far in the future, got %v", graphmodel.MaxSentinel)
	}
}
