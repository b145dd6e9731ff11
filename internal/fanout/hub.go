// Package fanout implements the fan-out hub (C6): topic-aware WebSocket
// subscriptions over logs[?service=], metrics, and session/{id}, with
// snapshot-on-connect, incremental push driven by memory.nodes.created,
// per-session backpressure coalescing, and heartbeat-based liveness.
// Grounded on the sibling example repo's WebSocket hub
// (kubilitics-backend/internal/api/websocket/{hub.go,client.go}):
// register/unregister/broadcast channels with no lock held across I/O,
// generalized from one global broadcast to per-topic subscriber sets.
package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lineage/internal/graphmodel"
)

// Topic kinds, per spec.md §4.6.
const (
	TopicLogs    = "logs"
	TopicMetrics = "metrics"
	TopicSession = "session"
)

// Subscription identifies what a client wants to hear about.
type Subscription struct {
	Topic   string // "logs", "metrics", or "session"
	Service string // optional logs[?service=] filter
	Session string // session id for TopicSession
}

func (s Subscription) key() string {
	switch s.Topic {
	case TopicLogs:
		return TopicLogs + ":" + s.Service
	case TopicSession:
		return TopicSession + ":" + s.Session
	default:
		return s.Topic
	}
}

// Message is the JSON envelope pushed to subscribers, carrying a `type`
// discriminator per spec.md §6.
type Message struct {
	Type      string `json:"type"`
	Topic     string `json:"topic"`
	Payload   any    `json:"payload,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SnapshotFunc produces the current snapshot for a subscription
// (lineage+timeline for a session, last-N for logs/metrics), per spec.md
// §4.6's "on connect, emits the current snapshot for the topic."
type SnapshotFunc func(ctx context.Context, sub Subscription) (any, error)

const (
	maxBuffered     = 256
	heartbeatPeriod = 30 * time.Second
	maxMissedBeats  = 3
)

// Hub owns the set of connected clients, grouped by subscription key, and
// the heartbeat loop that force-closes unresponsive clients.
type Hub struct {
	mu       sync.RWMutex
	bySub    map[string]map[*Client]struct{}
	snapshot SnapshotFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub constructs a Hub and starts its heartbeat loop.
func NewHub(ctx context.Context, snapshot SnapshotFunc) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	h := &Hub{
		bySub:    make(map[string]map[*Client]struct{}),
		snapshot: snapshot,
		ctx:      hubCtx,
		cancel:   cancel,
	}
	h.wg.Add(1)
	go h.runHeartbeat()
	return h
}

// Stop closes every client connection and shuts down the heartbeat loop.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.bySub {
		for c := range clients {
			c.closeSend()
		}
	}
	h.bySub = make(map[string]map[*Client]struct{})
}

// Register attaches a client to its subscription's fan-out set and sends
// it the initial snapshot.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	h.mu.Lock()
	set, ok := h.bySub[c.sub.key()]
	if !ok {
		set = make(map[*Client]struct{})
		h.bySub[c.sub.key()] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if h.snapshot == nil {
		return nil
	}
	snap, err := h.snapshot(ctx, c.sub)
	if err != nil {
		log.Warn().Err(err).Str("sub", c.sub.key()).Msg("fanout: snapshot failed")
		return nil
	}
	c.deliver(Message{Type: "snapshot", Topic: c.sub.key(), Payload: snap, Timestamp: time.Now().Unix()})
	return nil
}

// Unregister detaches a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bySub[c.sub.key()]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		c.closeSend()
	}
	if len(set) == 0 {
		delete(h.bySub, c.sub.key())
	}
}

// PublishNodeCreated implements spec.md §4.6's "on every subsequent
// memory.nodes.created event for the subscribed session, pushes an
// incremental update," fanning the event out to the session/{id}
// subscribers and, when the node carries a log/metric label, to the
// logs/metrics subscribers too.
func (h *Hub) PublishNodeCreated(ev graphmodel.NodeCreatedEvent) {
	msg := Message{Type: "node_created", Payload: ev, Timestamp: time.Now().Unix()}

	h.fanOut(Subscription{Topic: TopicSession, Session: ev.SessionID}, msg)
	if service := ev.Metadata["service"]; service != "" {
		h.fanOut(Subscription{Topic: TopicLogs, Service: service}, msg)
		h.fanOut(Subscription{Topic: TopicLogs}, msg)
	}
	if ev.Metadata["kind"] == "metric" {
		h.fanOut(Subscription{Topic: TopicMetrics}, msg)
	}
}

func (h *Hub) fanOut(sub Subscription, msg Message) {
	msg.Topic = sub.key()
	h.mu.RLock()
	clients := h.bySub[sub.key()]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.deliver(msg)
	}
}

func (h *Hub) runHeartbeat() {
	defer h.wg.Done()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) beat() {
	h.mu.RLock()
	var all []*Client
	for _, clients := range h.bySub {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	now := time.Now().Unix()
	for _, c := range all {
		if c.missedBeats() >= maxMissedBeats {
			log.Warn().Str("client", c.id).Msg("fanout: client missed heartbeats, force-closing")
			h.Unregister(c)
			continue
		}
		c.deliver(Message{Type: "heartbeat", Topic: c.sub.key(), Timestamp: now})
		c.markBeatSent()
	}
}

// Encode marshals a Message for the transport layer's write pump.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
