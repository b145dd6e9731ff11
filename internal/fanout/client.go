package fanout

import (
	"sync"
	"sync/atomic"
)

// Client is one subscriber's outbound message queue, generalizing the
// sibling example's websocket.Client (conn/send-channel/hub-reference
// shape) to a subscription-scoped, transport-agnostic sender: the actual
// *websocket.Conn write pump lives in internal/httpapi, which drains Send()
// and writes frames; this package owns only the fan-out and backpressure
// logic.
type Client struct {
	id  string
	sub Subscription

	mu     sync.Mutex
	send   chan Message
	closed bool

	missed int32
}

// NewClient constructs a Client for the given subscription. id should be
// unique per connection (e.g. a generated connection id).
func NewClient(id string, sub Subscription) *Client {
	return &Client{
		id:   id,
		sub:  sub,
		send: make(chan Message, maxBuffered),
	}
}

// Send exposes the outbound channel for the transport layer's write pump
// to range over.
func (c *Client) Send() <-chan Message {
	return c.send
}

// Subscription reports what this client is subscribed to.
func (c *Client) Subscription() Subscription {
	return c.sub
}

// deliver implements spec.md §4.6's per-session backpressure rule: if the
// outbound buffer is full, the oldest queued update is coalesced away
// (last-writer-wins) and the next delivered message carries
// `degraded=true`.
func (c *Client) deliver(msg Message) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.send <- msg:
		return
	default:
	}

	// Buffer full: drop the oldest queued message and mark this one
	// degraded, since it is effectively the next message the client will
	// see once the coalesced backlog is gone.
	select {
	case <-c.send:
	default:
	}
	msg.Degraded = true
	select {
	case c.send <- msg:
	default:
		// Still full under concurrent delivery; drop this update too
		// rather than block the hub.
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// markBeatSent records that a heartbeat was just sent without an
// intervening Pong.
func (c *Client) markBeatSent() {
	atomic.AddInt32(&c.missed, 1)
}

// Pong resets the missed-heartbeat counter; callers (the transport layer's
// read pump) invoke this whenever a pong/ack frame arrives from the peer.
func (c *Client) Pong() {
	atomic.StoreInt32(&c.missed, 0)
}

func (c *Client) missedBeats() int {
	return int(atomic.LoadInt32(&c.missed))
}
