package fanout

import (
	"context"
	"encoding/json"

	"lineage/internal/bus"
	"lineage/internal/graphmodel"
)

// Consume runs a bus consumer over TopicNodesCreated and fans each event
// out to the hub's subscribers, implementing the C6 side of spec.md §6's
// "memory.nodes.created (produced by C3, consumed by C4 and C6)" contract.
func (h *Hub) Consume(ctx context.Context, b bus.Bus, groupID string) error {
	consumer, err := b.NewConsumer(bus.TopicNodesCreated, groupID)
	if err != nil {
		return err
	}
	defer consumer.Close()
	return consumer.Run(ctx, func(_ context.Context, msg bus.Message) error {
		var ev graphmodel.NodeCreatedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return err
		}
		h.PublishNodeCreated(ev)
		return nil
	})
}
