// Package indexer implements the hybrid indexer (C4): it subscribes to
// memory.nodes.created, batches accepted nodes, computes dense, sparse, and
// (optionally) ColBERT vector spaces, and upserts them to the vector store
// in one call per document, generalizing the teacher's Qdrant wrapper to a
// multi-space collection model.
package indexer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"lineage/internal/bus"
	"lineage/internal/graphmodel"
	"lineage/internal/retrying"
	"lineage/internal/vectorstore"
)

// serviceName identifies this consumer in TopicConsumerStatus liveness
// events (spec.md §4.4).
const serviceName = "indexer"

const heartbeatPeriod = 10 * time.Second

// acceptedLabels are the node labels the indexer admits (spec.md §4.4).
var acceptedLabels = map[string]bool{
	"Thought":      true,
	"CodeArtifact": true,
	"Turn":         true,
	"Memory":       true,
	"Reasoning":    true,
}

// Indexer wires a bus consumer to a BatchQueue whose flush callback computes
// embeddings and upserts to the vector store.
type Indexer struct {
	store       vectorstore.Store
	dense       DenseEmbedder
	colbert     bool
	queue       *BatchQueue
	deadLetters chan []Document
}

// Options configures an Indexer.
type Options struct {
	Store         vectorstore.Store
	Dense         DenseEmbedder
	EnableColbert bool
	Batch         BatchQueueConfig
}

// New constructs an Indexer and starts its batch queue.
func New(opts Options) *Indexer {
	ix := &Indexer{
		store:       opts.Store,
		dense:       opts.Dense,
		colbert:     opts.EnableColbert,
		deadLetters: make(chan []Document, 16),
	}
	ix.queue = NewBatchQueue(opts.Batch, ix.flushBatch)
	return ix
}

// Consume runs a bus consumer loop over TopicNodesCreated, enqueueing
// accepted nodes and discarding the rest. The handler never returns an
// error for unrecognized labels (that isn't a transient failure); only bus
// decoding failures are surfaced for retry. For the duration of the loop it
// also drives TopicConsumerStatus liveness: consumer_ready before the first
// message is read, consumer_heartbeat every 10s, and consumer_disconnected
// once the loop exits (spec.md §4.4).
func (ix *Indexer) Consume(ctx context.Context, b bus.Bus, groupID string) error {
	consumer, err := b.NewConsumer(bus.TopicNodesCreated, groupID)
	if err != nil {
		return err
	}
	defer consumer.Close()

	publishStatus(context.Background(), b, groupID, bus.ConsumerStatusReady)
	defer publishStatus(context.Background(), b, groupID, bus.ConsumerStatusDisconnected)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go runHeartbeat(heartbeatCtx, b, groupID)

	return consumer.Run(ctx, func(ctx context.Context, msg bus.Message) error {
		var ev graphmodel.NodeCreatedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return err
		}
		if !acceptedLabels[ev.Label] {
			return nil
		}
		meta := ev.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		meta["label"] = ev.Label
		ix.queue.Enqueue(Document{ID: ev.ID, Content: ev.Content, Metadata: meta})
		return nil
	})
}

func runHeartbeat(ctx context.Context, b bus.Bus, groupID string) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishStatus(ctx, b, groupID, bus.ConsumerStatusHeartbeat)
		case <-ctx.Done():
			return
		}
	}
}

func publishStatus(ctx context.Context, b bus.Bus, groupID, event string) {
	payload, err := json.Marshal(bus.ConsumerStatusEvent{
		Event:   event,
		Group:   groupID,
		Service: serviceName,
		Ts:      time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("indexer: failed to encode consumer status")
		return
	}
	if err := b.Publish(ctx, bus.Message{Topic: bus.TopicConsumerStatus, Key: groupID, Value: payload}); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("indexer: failed to publish consumer status")
	}
}

// Stop flushes the batch queue and waits for its loop to exit.
func (ix *Indexer) Stop() { ix.queue.Stop() }

// DeadLetters exposes batches that exhausted retries, for callers that want
// to persist or re-drive them; the channel is never closed.
func (ix *Indexer) DeadLetters() <-chan []Document { return ix.deadLetters }

func (ix *Indexer) flushBatch(batch []Document) {
	ctx := context.Background()
	err := retrying.WithRetry(ctx, retrying.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
		return ix.indexBatch(ctx, batch)
	})
	if err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("indexer: batch dead-lettered after retries")
		select {
		case ix.deadLetters <- batch:
		default:
			log.Warn().Msg("indexer: dead-letter channel full, dropping batch")
		}
	}
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []Document) error {
	for _, doc := range batch {
		vectors := map[string]vectorstore.Vector{}

		if ix.dense != nil && doc.Content != "" {
			rows, err := ix.dense.Embed(ctx, []string{doc.Content})
			if err != nil {
				return err
			}
			vectors[vectorstore.SpaceDense] = vectorstore.Vector{Values: rows[0], Dim: ix.dense.Dimension()}
		}

		vectors[vectorstore.SpaceSparse] = vectorstore.Vector{Values: SparseEmbed(doc.Content)}

		if ix.colbert {
			cv, err := ColbertEmbed(ctx, ix.dense, doc.Content)
			if err != nil {
				return err
			}
			if len(cv.Values) > 0 {
				vectors[vectorstore.SpaceColbert] = cv
			}
		}

		if err := ix.store.Upsert(ctx, vectorstore.Document{ID: doc.ID, Vectors: vectors, Metadata: doc.Metadata}); err != nil {
			return err
		}
	}
	return nil
}
