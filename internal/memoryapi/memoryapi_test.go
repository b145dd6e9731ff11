package memoryapi

import (
	"context"
	"testing"

	"lineage/internal/graphmodel"
	"lineage/internal/graphstore"
	"lineage/internal/retrieve"
	"lineage/internal/vectorstore"
)

func newTestAPI(t *testing.T) (*API, *graphstore.MemoryGraph) {
	t.Helper()
	graph := graphstore.NewMemoryGraph()
	engine := retrieve.New(retrieve.Config{Vectors: vectorstore.NewMemoryStore()})
	n := 0
	idGen := func() string {
		n++
		if n == 1 {
			return "id-1"
		}
		return "id-2"
	}
	return New(Options{Graph: graph, Retrieve: engine, IDGen: idGen}), graph
}

func TestRememberIsIdempotentForSameSessionAndContent(t *testing.T) {
	api, graph := newTestAPI(t)
	ctx := context.Background()
	req := RememberRequest{Content: "the build uses bazel", SessionID: "sess-1"}

	first, err := api.Remember(ctx, req)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if !first.Stored || first.Duplicate {
		t.Fatalf("expected first remember to store a new node, got %+v", first)
	}

	second, err := api.Remember(ctx, req)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if second.Stored || !second.Duplicate || second.ID != first.ID {
		t.Fatalf("expected second remember to report the existing id as a duplicate, got %+v", second)
	}

	if _, ok, _ := graph.GetNode(ctx, "id-2"); ok {
		t.Fatal("expected no second node to have been written")
	}
}

func TestRememberAllowsSameContentInDifferentSessions(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	a, err := api.Remember(ctx, RememberRequest{Content: "same text", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	b, err := api.Remember(ctx, RememberRequest{Content: "same text", SessionID: "sess-2"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if a.Duplicate || b.Duplicate {
		t.Fatalf("expected both sessions to store independently, got %+v and %+v", a, b)
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct ids across sessions")
	}
}

func TestRememberDefaultsTypeToFact(t *testing.T) {
	api, graph := newTestAPI(t)
	ctx := context.Background()

	resp, err := api.Remember(ctx, RememberRequest{Content: "x", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	node, ok, err := graph.GetNode(ctx, resp.ID)
	if err != nil || !ok {
		t.Fatalf("expected node to exist: ok=%v err=%v", ok, err)
	}
	if node.Props["type"] != string(graphmodel.MemoryTypeFact) {
		t.Fatalf("expected default type %q, got %v", graphmodel.MemoryTypeFact, node.Props["type"])
	}
}

func TestRecallDelegatesToRetrievalEngine(t *testing.T) {
	api, _ := newTestAPI(t)
	resp, err := api.Recall(context.Background(), RecallRequest{Query: "anything", K: 5})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if resp.Query != "anything" {
		t.Fatalf("expected the query to round-trip, got %q", resp.Query)
	}
}

func TestQueryRejectsWriteTokens(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.Query(context.Background(), "MATCH (n) DELETE n", nil)
	if err == nil {
		t.Fatal("expected a write-token query to be rejected")
	}
}

func TestQueryAllowsReadVerbsAgainstBackend(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.Query(context.Background(), "MATCH (n) RETURN n", nil)
	if err == nil {
		t.Fatal("expected the in-memory backend to report unsupported, not a guard rejection")
	}
	if err != graphstore.ErrQueryUnsupported {
		t.Fatalf("expected ErrQueryUnsupported from the backend, got %v", err)
	}
}

func TestGetContextAcceptsEveryKnownDepth(t *testing.T) {
	api, _ := newTestAPI(t)
	for depth, want := range depthK {
		resp, err := api.GetContext(context.Background(), GetContextRequest{Task: "t", Depth: depth})
		if err != nil {
			t.Fatalf("getContext(%s): %v", depth, err)
		}
		_ = want
		_ = resp
	}
}

func TestGetContextRejectsUnknownDepth(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.GetContext(context.Background(), GetContextRequest{Task: "t", Depth: "bogus"})
	if err == nil {
		t.Fatal("expected an unknown depth to be rejected")
	}
}
