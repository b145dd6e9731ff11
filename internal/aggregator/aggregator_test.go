package aggregator

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"lineage/internal/bus"
	"lineage/internal/eventparser"
	"lineage/internal/graphmodel"
	"lineage/internal/graphstore"
)

func testAggregator(t *testing.T, graph graphstore.GraphDB, clock *fakeClock) (*Aggregator, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus(64)
	var n int
	ag := New(Options{
		Graph:       graph,
		Bus:         b,
		IdleTimeout: 50 * time.Millisecond,
		Workers:     1,
		Now:         clock.Now,
		IDGen: func() string {
			n++
			return "id-" + strconv.Itoa(n)
		},
	})
	t.Cleanup(ag.Stop)
	return ag, b
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{t: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func ingestAndWait(t *testing.T, ag *Aggregator, ev Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ag.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
}

func waitForTurnComplete(t *testing.T, graph graphstore.GraphDB, turnID string) graphstore.Node {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		node, ok, _ := graph.GetNode(context.Background(), turnID)
		if ok {
			if complete, _ := node.Props["complete"].(bool); complete {
				return node
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("turn %s never completed", turnID)
	return graphstore.Node{}
}

func TestAggregatorSimpleTurnLifecycle(t *testing.T) {
	graph := graphstore.NewMemoryGraph()
	clock := newFakeClock(time.Unix(0, 0))
	ag, _ := testAggregator(t, graph, clock)

	sessionID := "sess-1"
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 0, Delta: eventparser.Delta{
		Type: eventparser.KindContent, Role: "user", Content: "what is 2+2?",
	}})
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 1, Delta: eventparser.Delta{
		Type: eventparser.KindContent, ContentKind: eventparser.ContentText, Content: "4",
	}})
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 2, Delta: eventparser.Delta{
		Type: eventparser.KindStop, StopReason: "end_turn",
	}})

	node := waitForTurnComplete(t, graph, "id-1") // session id is "sess-1" itself; the first generated id is the turn
	if node.Props["assistant_preview"] != "4" {
		t.Fatalf("expected assistant_preview %q, got %v", "4", node.Props["assistant_preview"])
	}
	if node.Props["stop_reason"] != "end_turn" {
		t.Fatalf("expected stop_reason recorded, got %v", node.Props["stop_reason"])
	}
}

// TestAggregatorContentBlockTriggers mirrors spec.md scenario S2: two
// thinking blocks both trigger the first tool_use; the third thinking block
// alone triggers the second tool_use.
func TestAggregatorContentBlockTriggers(t *testing.T) {
	graph := graphstore.NewMemoryGraph()
	clock := newFakeClock(time.Unix(0, 0))
	ag, _ := testAggregator(t, graph, clock)

	sessionID := "sess-2"
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 0, Delta: eventparser.Delta{
		Type: eventparser.KindContent, Role: "user", Content: "do the thing",
	}})
	seq := 1
	send := func(d eventparser.Delta) {
		ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: seq, Delta: d})
		seq++
	}
	send(eventparser.Delta{Type: eventparser.KindContent, ContentKind: eventparser.ContentThinking, Content: "plan A"})
	send(eventparser.Delta{Type: eventparser.KindContent, ContentKind: eventparser.ContentText, Content: "working..."})
	send(eventparser.Delta{Type: eventparser.KindContent, ContentKind: eventparser.ContentThinking, Content: "plan B"})
	send(eventparser.Delta{Type: eventparser.KindToolCall, ToolCall: &eventparser.ToolCall{ID: "call-1", Name: "read", Args: map[string]any{"path": "/a"}}})
	send(eventparser.Delta{Type: eventparser.KindContent, ContentKind: eventparser.ContentThinking, Content: "reviewed"})
	send(eventparser.Delta{Type: eventparser.KindToolCall, ToolCall: &eventparser.ToolCall{ID: "call-2", Name: "edit", Args: map[string]any{"path": "/a"}}})

	// Generated ids in arrival order: turn=id-1, reasoning A=id-2,
	// reasoning B=id-3, first ToolCall=id-4, reasoning C=id-5, second
	// ToolCall=id-6.
	deadline := time.Now().Add(500 * time.Millisecond)
	var firstToolCallNode graphstore.Node
	for time.Now().Before(deadline) {
		node, ok, _ := graph.GetNode(context.Background(), "id-4")
		if ok {
			firstToolCallNode = node
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if firstToolCallNode.ID == "" {
		t.Fatal("expected first ToolCall node to exist")
	}

	neighborsA, err := graph.Neighbors(context.Background(), "id-2", graphmodel.EdgeTriggers)
	if err != nil {
		t.Fatal(err)
	}
	neighborsB, err := graph.Neighbors(context.Background(), "id-3", graphmodel.EdgeTriggers)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighborsA) != 1 || neighborsA[0] != "id-4" {
		t.Fatalf("expected reasoning A to trigger first tool call, got %v", neighborsA)
	}
	if len(neighborsB) != 1 || neighborsB[0] != "id-4" {
		t.Fatalf("expected reasoning B to trigger first tool call, got %v", neighborsB)
	}

	neighborsC, err := graph.Neighbors(context.Background(), "id-5", graphmodel.EdgeTriggers)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighborsC) != 1 || neighborsC[0] != "id-6" {
		t.Fatalf("expected the third thinking block to trigger the second tool call alone, got %v", neighborsC)
	}
}

func TestAggregatorOutOfOrderDeliveryIsReordered(t *testing.T) {
	graph := graphstore.NewMemoryGraph()
	clock := newFakeClock(time.Unix(0, 0))
	ag, _ := testAggregator(t, graph, clock)

	sessionID := "sess-3"
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 1, Delta: eventparser.Delta{
		Type: eventparser.KindContent, ContentKind: eventparser.ContentText, Content: "out of order",
	}})
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 0, Delta: eventparser.Delta{
		Type: eventparser.KindContent, Role: "user", Content: "hello",
	}})
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 2, Delta: eventparser.Delta{
		Type: eventparser.KindStop, StopReason: "end_turn",
	}})

	node := waitForTurnComplete(t, graph, "id-1")
	if node.Props["assistant_preview"] != "out of order" {
		t.Fatalf("expected reordered text to land on the turn, got %v", node.Props["assistant_preview"])
	}
}

func TestAggregatorIdleTimeoutCompletesOpenTurn(t *testing.T) {
	graph := graphstore.NewMemoryGraph()
	clock := newFakeClock(time.Unix(0, 0))
	ag, _ := testAggregator(t, graph, clock)

	sessionID := "sess-5"
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 0, Delta: eventparser.Delta{
		Type: eventparser.KindContent, Role: "user", Content: "hello",
	}})
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 1, Delta: eventparser.Delta{
		Type: eventparser.KindContent, ContentKind: eventparser.ContentText, Content: "partial answer",
	}})

	// No "result" event ever arrives; advance the clock past the idle
	// threshold and let the reaper force-complete the turn.
	clock.Advance(time.Hour)

	node := waitForTurnComplete(t, graph, "id-1")
	if node.Props["assistant_preview"] != "partial answer" {
		t.Fatalf("expected partial answer to be finalized, got %v", node.Props["assistant_preview"])
	}
}

func TestAggregatorToolResultWithNoMatchingToolCallIsDiscarded(t *testing.T) {
	graph := graphstore.NewMemoryGraph()
	clock := newFakeClock(time.Unix(0, 0))
	ag, _ := testAggregator(t, graph, clock)

	sessionID := "sess-4"
	ingestAndWait(t, ag, Event{SessionID: sessionID, SequenceIndex: 0, Delta: eventparser.Delta{
		Type: eventparser.KindContent, ContentKind: eventparser.ContentToolResult,
		ToolCall: &eventparser.ToolCall{CallID: "nonexistent", Result: "ok"},
	}})

	// Give the worker a moment to process; nothing should have been written
	// beyond the implicit session/turn creation.
	time.Sleep(50 * time.Millisecond)
	_, ok, _ := graph.GetNode(context.Background(), "id-2")
	if ok {
		t.Fatal("expected no Observation node for an unmatched tool_result")
	}
}
