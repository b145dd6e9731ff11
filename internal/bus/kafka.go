package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"lineage/internal/obslog"
	"lineage/internal/retrying"
)

// KafkaBus is a Bus backed by segmentio/kafka-go, adapted from the teacher's
// orchestrator Kafka adapter (internal/orchestrator/kafka.go) and
// generalized from a single command topic to the Bus interface so any
// component can publish or consume.
type KafkaBus struct {
	brokers []string
	writer  *kafka.Writer
}

// NewKafkaBus constructs a KafkaBus with a shared writer; Topic is left
// unset on the writer so individual Publish calls can target any topic.
func NewKafkaBus(brokers []string) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	return obslog.Trace(ctx, "bus.publish", func(ctx context.Context) error {
		return b.writer.WriteMessages(ctx, kafka.Message{
			Topic: msg.Topic,
			Key:   []byte(msg.Key),
			Value: msg.Value,
		})
	})
}

func (b *KafkaBus) Close() error { return b.writer.Close() }

func (b *KafkaBus) NewConsumer(topic, groupID string) (Consumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &kafkaConsumer{
		reader:  reader,
		dlq:     b.writer,
		dlqName: topic + ".dlq",
	}, nil
}

type kafkaConsumer struct {
	reader  *kafka.Reader
	dlq     *kafka.Writer
	dlqName string
}

// Run fetches messages and invokes handler, committing only after success or
// after dead-lettering a message whose handler failed on every retry
// (spec.md §7 "exponential backoff... then dead letters").
func (c *kafkaConsumer) Run(ctx context.Context, handler Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("bus: fetch error")
			continue
		}
		msg := Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}

		err = retrying.WithRetry(ctx, retrying.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}, func(ctx context.Context) error {
			return obslog.Trace(ctx, "bus.subscribe", func(ctx context.Context) error {
				return handler(ctx, msg)
			})
		})
		if err != nil {
			log.Error().Err(err).Str("topic", m.Topic).Msg("bus: dead-lettering message after retries")
			_ = c.dlq.WriteMessages(ctx, kafka.Message{Topic: c.dlqName, Key: m.Key, Value: m.Value})
		}
		if cerr := c.reader.CommitMessages(ctx, m); cerr != nil {
			log.Error().Err(cerr).Msg("bus: commit failed")
		}
	}
}

func (c *kafkaConsumer) Close() error { return c.reader.Close() }
