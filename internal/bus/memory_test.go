package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusPublishConsume(t *testing.T) {
	b := NewMemoryBus(4)
	consumer, err := b.NewConsumer(TopicNodesCreated, "test-group")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan Message, 1)
	go func() {
		_ = consumer.Run(ctx, func(ctx context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	if err := b.Publish(ctx, Message{Topic: TopicNodesCreated, Key: "n1", Value: []byte(`{"id":"n1"}`)}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-received:
		if msg.Key != "n1" {
			t.Fatalf("expected key n1, got %q", msg.Key)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
