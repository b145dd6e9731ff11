// Package bus defines the MessageBus abstraction used to fan internal
// lifecycle events (memory.nodes.created, observatory.consumers.status) out
// to downstream consumers, generalizing the teacher's Kafka-only orchestrator
// wiring (internal/orchestrator/kafka.go) behind a swappable interface.
package bus

import (
	"context"
	"time"
)

// Topics used across the daemon.
const (
	TopicNodesCreated     = "memory.nodes.created"
	TopicConsumerStatus   = "observatory.consumers.status"
	TopicIndexRequests    = "memory.index.requests"
	TopicIndexDeadLetters = "memory.index.deadletters"
)

// Consumer lifecycle event names published to TopicConsumerStatus, per
// spec.md §4.4's Liveness paragraph: consumer_ready on startup, a
// consumer_heartbeat every 10s, consumer_disconnected on graceful shutdown.
const (
	ConsumerStatusReady        = "consumer_ready"
	ConsumerStatusHeartbeat    = "consumer_heartbeat"
	ConsumerStatusDisconnected = "consumer_disconnected"
)

// ConsumerStatusEvent is TopicConsumerStatus's wire shape (spec.md §7):
// {event, group, service, ts}.
type ConsumerStatusEvent struct {
	Event   string    `json:"event"`
	Group   string    `json:"group"`
	Service string    `json:"service"`
	Ts      time.Time `json:"ts"`
}

// Message is a single bus record: an opaque key (used for partitioning by
// Kafka-backed implementations) and a JSON-encoded value.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes one message. Returning a non-nil error from Handler
// marks the message transient; the consumer loop retries it with backoff
// before dead-lettering.
type Handler func(ctx context.Context, msg Message) error

// Publisher writes messages onto the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer reads messages from a topic, invoking handler for each and
// committing only after the handler returns successfully or the message has
// been dead-lettered.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}

// Bus is the combined producer/consumer surface a component depends on.
type Bus interface {
	Publisher
	NewConsumer(topic, groupID string) (Consumer, error)
}
