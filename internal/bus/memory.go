package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus backed by buffered channels per topic,
// used for tests and single-process deployments.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]chan Message
	depth  int
}

// NewMemoryBus constructs an empty MemoryBus with the given per-topic
// channel depth.
func NewMemoryBus(depth int) *MemoryBus {
	if depth <= 0 {
		depth = 256
	}
	return &MemoryBus{topics: make(map[string]chan Message), depth: depth}
}

func (b *MemoryBus) channel(topic string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan Message, b.depth)
		b.topics[topic] = ch
	}
	return ch
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	ch := b.channel(msg.Topic)
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Close() error { return nil }

func (b *MemoryBus) NewConsumer(topic, groupID string) (Consumer, error) {
	return &memoryConsumer{ch: b.channel(topic)}, nil
}

type memoryConsumer struct {
	ch chan Message
}

func (c *memoryConsumer) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case msg := <-c.ch:
			_ = handler(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *memoryConsumer) Close() error { return nil }
