package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// reorderBuffer holds out-of-order deliveries for one session until the
// expected sequence_index arrives, so that a rebalance-induced reordering
// across bus partitions never reaches the state machine out of order.
type reorderBuffer struct {
	expected int
	pending  map[int]Event
}

// worker owns a disjoint partition of sessions (by hash of session id) and
// processes their events strictly in order, one at a time.
type worker struct {
	ag      *Aggregator
	events  chan Event
	idle    chan string
	done    chan struct{}
	buffers map[string]*reorderBuffer
}

func newWorker(ag *Aggregator) *worker {
	return &worker{
		ag:      ag,
		events:  make(chan Event, 256),
		idle:    make(chan string, 64),
		done:    make(chan struct{}),
		buffers: make(map[string]*reorderBuffer),
	}
}

func (w *worker) stop() {
	close(w.done)
}

func (w *worker) run() {
	ctx := context.Background()
	for {
		select {
		case ev := <-w.events:
			w.handleEvent(ctx, ev)
		case sid := <-w.idle:
			w.handleIdle(ctx, sid)
		case <-w.done:
			return
		}
	}
}

func (w *worker) handleEvent(ctx context.Context, ev Event) {
	buf, ok := w.buffers[ev.SessionID]
	if !ok {
		buf = &reorderBuffer{expected: 0, pending: make(map[int]Event)}
		w.buffers[ev.SessionID] = buf
	}

	switch {
	case ev.SequenceIndex < buf.expected:
		log.Warn().Str("session_id", ev.SessionID).Int("sequence_index", ev.SequenceIndex).
			Msg("aggregator: discarding stale re-delivery")
		return
	case ev.SequenceIndex > buf.expected:
		if len(buf.pending) >= reorderBufferCap {
			log.Warn().Str("session_id", ev.SessionID).Msg("aggregator: reorder buffer full, dropping event")
			return
		}
		buf.pending[ev.SequenceIndex] = ev
		return
	}

	w.process(ctx, ev)
	buf.expected++
	for {
		next, ok := buf.pending[buf.expected]
		if !ok {
			break
		}
		delete(buf.pending, buf.expected)
		w.process(ctx, next)
		buf.expected++
	}
}

func (w *worker) process(ctx context.Context, ev Event) {
	if err := w.ag.process(ctx, ev); err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Msg("aggregator: failed to process event")
	}
}

func (w *worker) handleIdle(ctx context.Context, sessionID string) {
	now := w.ag.now()
	w.ag.mu.Lock()
	sess := w.ag.sessions[sessionID]
	var idle bool
	if sess != nil {
		idle = sess.current != nil && now.Sub(sess.lastEventAt) >= w.ag.idleTimeout
	}
	w.ag.mu.Unlock()
	if sess == nil || !idle {
		return
	}
	if err := w.ag.completeCurrentTurn(ctx, sess, now, ""); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("aggregator: failed to complete idle turn")
	}
}

func (ag *Aggregator) runReaper() {
	defer ag.reaperWg.Done()
	interval := ag.idleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ag.scanIdleSessions()
		case <-ag.stopCh:
			return
		}
	}
}

func (ag *Aggregator) scanIdleSessions() {
	now := ag.now()
	ag.mu.Lock()
	var idleIDs []string
	for id, sess := range ag.sessions {
		if sess.current != nil && now.Sub(sess.lastEventAt) >= ag.idleTimeout {
			idleIDs = append(idleIDs, id)
		}
	}
	ag.mu.Unlock()

	for _, id := range idleIDs {
		w := ag.workerFor(id)
		select {
		case w.idle <- id:
		default:
			log.Warn().Str("session_id", id).Msg("aggregator: idle-check channel full, will retry next tick")
		}
	}
}
