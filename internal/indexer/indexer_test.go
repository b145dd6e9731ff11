package indexer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"lineage/internal/bus"
	"lineage/internal/graphmodel"
	"lineage/internal/vectorstore"
)

type stubEmbedder struct {
	dim int
}

func (s stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		row := make([]float32, s.dim)
		row[0] = float32(len(inputs[i]))
		out[i] = row
	}
	return out, nil
}

func (s stubEmbedder) Dimension() int { return s.dim }

func TestIndexerConsumeUpsertsAcceptedLabels(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ix := New(Options{
		Store: store,
		Dense: stubEmbedder{dim: 4},
		Batch: BatchQueueConfig{BatchSize: 1, FlushInterval: time.Hour},
	})
	defer ix.Stop()

	b := bus.NewMemoryBus(4)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() { _ = ix.Consume(ctx, b, "indexer-test") }()

	ev := graphmodel.NodeCreatedEvent{ID: "n1", Label: "Thought", Content: "hello world", Metadata: map[string]string{"session_id": "s1"}}
	payload, _ := json.Marshal(ev)
	if err := b.Publish(ctx, bus.Message{Topic: bus.TopicNodesCreated, Key: "n1", Value: payload}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		results, _ := store.Search(ctx, vectorstore.SearchRequest{Space: vectorstore.SpaceDense, Vector: vectorstore.Vector{Values: []float32{11, 0, 0, 0}}, K: 1})
		if len(results) == 1 && results[0].ID == "n1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected node n1 to be indexed within deadline")
}

func TestIndexerConsumePublishesLivenessEvents(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ix := New(Options{Store: store, Dense: stubEmbedder{dim: 4}, Batch: BatchQueueConfig{BatchSize: 1, FlushInterval: time.Hour}})
	defer ix.Stop()

	b := bus.NewMemoryBus(4)
	statusConsumer, err := b.NewConsumer(bus.TopicConsumerStatus, "status-test")
	if err != nil {
		t.Fatal(err)
	}
	defer statusConsumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	events := make(chan bus.ConsumerStatusEvent, 4)
	go func() {
		_ = statusConsumer.Run(ctx, func(_ context.Context, msg bus.Message) error {
			var ev bus.ConsumerStatusEvent
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				return err
			}
			events <- ev
			return nil
		})
	}()

	go func() { _ = ix.Consume(ctx, b, "indexer-test") }()

	select {
	case ev := <-events:
		if ev.Event != bus.ConsumerStatusReady {
			t.Fatalf("expected consumer_ready first, got %q", ev.Event)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a consumer_ready event")
	}
}

func TestIndexerRejectsUnacceptedLabels(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ix := New(Options{Store: store, Dense: stubEmbedder{dim: 4}, Batch: BatchQueueConfig{BatchSize: 1, FlushInterval: time.Hour}})
	defer ix.Stop()

	b := bus.NewMemoryBus(4)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() { _ = ix.Consume(ctx, b, "indexer-test") }()

	ev := graphmodel.NodeCreatedEvent{ID: "s1", Label: "Session", Content: "not indexable"}
	payload, _ := json.Marshal(ev)
	_ = b.Publish(ctx, bus.Message{Topic: bus.TopicNodesCreated, Key: "s1", Value: payload})

	time.Sleep(100 * time.Millisecond)
	results, _ := store.Search(ctx, vectorstore.SearchRequest{Space: vectorstore.SpaceSparse, Vector: vectorstore.Vector{Values: SparseEmbed("not indexable")}, K: 10})
	if len(results) != 0 {
		t.Fatalf("expected Session label to be rejected, got %+v", results)
	}
}
