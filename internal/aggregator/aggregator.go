// Package aggregator implements the turn aggregator (C3): it consumes a
// per-session sequence of parsed deltas and materializes the causal lineage
// graph (Session -> Turn -> Reasoning/ToolCall -> Observation), following
// the content-block state machine of spec.md §4.3. Sessions are partitioned
// across a fixed worker pool so that per-session ordering is preserved while
// unrelated sessions make progress in parallel, mirroring the teacher's
// worker-pool-plus-ticker shape in internal/orchestrator.
package aggregator

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lineage/internal/bus"
	"lineage/internal/dedup"
	"lineage/internal/eventparser"
	"lineage/internal/graphmodel"
	"lineage/internal/graphstore"
)

const (
	defaultIdleTimeout   = 5 * time.Minute
	defaultWorkers       = 4
	defaultPreviewLength = 280
	reorderBufferCap     = 1024
)

// Event is one parsed delta arriving for a session, tagged with its
// per-session arrival sequence so workers can reorder deliveries that raced
// across bus partitions.
type Event struct {
	SessionID     string
	SequenceIndex int
	Delta         eventparser.Delta
}

// Options configures an Aggregator.
type Options struct {
	Graph       graphstore.GraphDB
	Bus         bus.Publisher
	Dedup       *dedup.Engine
	IdleTimeout time.Duration
	Workers     int
	Now         func() time.Time
	IDGen       func() string
}

// Aggregator materializes the lineage graph from parsed event deltas.
type Aggregator struct {
	graph       graphstore.GraphDB
	publisher   bus.Publisher
	dedup       *dedup.Engine
	idleTimeout time.Duration
	now         func() time.Time
	idGen       func() string

	mu       sync.Mutex
	sessions map[string]*sessionState

	workers  []*worker
	reaperWg sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs and starts an Aggregator, including its worker pool and
// idle-timeout reaper.
func New(opts Options) *Aggregator {
	n := opts.Workers
	if n <= 0 {
		n = defaultWorkers
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	idGen := opts.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	d := opts.Dedup
	if d == nil {
		d = dedup.New(dedup.WithClock(now))
	}

	ag := &Aggregator{
		graph:       opts.Graph,
		publisher:   opts.Bus,
		dedup:       d,
		idleTimeout: idleTimeout,
		now:         now,
		idGen:       idGen,
		sessions:    make(map[string]*sessionState),
		stopCh:      make(chan struct{}),
	}

	ag.workers = make([]*worker, n)
	for i := range ag.workers {
		w := newWorker(ag)
		ag.workers[i] = w
		go w.run()
	}

	ag.reaperWg.Add(1)
	go ag.runReaper()

	return ag
}

// Stop shuts down every worker and the idle reaper, waiting for in-flight
// events to drain.
func (ag *Aggregator) Stop() {
	ag.stopOnce.Do(func() {
		close(ag.stopCh)
		for _, w := range ag.workers {
			w.stop()
		}
		ag.reaperWg.Wait()
	})
}

// Ingest routes ev to the worker owning its session, partitioned by a hash
// of the session id so that per-session ordering is always handled by the
// same goroutine. Blocks under backpressure until ctx is done.
func (ag *Aggregator) Ingest(ctx context.Context, ev Event) error {
	w := ag.workerFor(ev.SessionID)
	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ag *Aggregator) workerFor(sessionID string) *worker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return ag.workers[h.Sum32()%uint32(len(ag.workers))]
}

// process runs the content-block state machine for one already-ordered
// event. Errors here are graph plumbing failures, returned to the worker,
// which logs them; the event is not retried (a rejected or duplicate event
// is handled silently and returns nil).
func (ag *Aggregator) process(ctx context.Context, ev Event) error {
	now := ag.now()
	sess, err := ag.getOrCreateSession(ctx, ev.SessionID, now)
	if err != nil {
		return err
	}
	ag.touchSession(sess, now)

	d := ev.Delta
	if strings.EqualFold(d.Role, "user") && d.Type == eventparser.KindContent {
		if err := ag.completeCurrentTurn(ctx, sess, now, ""); err != nil {
			return err
		}
		return ag.startTurn(ctx, sess, now, d.Content)
	}

	if sess.current == nil {
		if err := ag.startTurn(ctx, sess, now, ""); err != nil {
			return err
		}
	}
	turn := sess.current

	switch d.Type {
	case eventparser.KindContent:
		switch d.ContentKind {
		case eventparser.ContentThinking:
			return ag.handleThinking(ctx, sess, turn, d)
		case eventparser.ContentText:
			// No graph node; text does not drain pending_reasonings since
			// reasoning may precede a mixture of text and tool_use.
			turn.assistantPreview += d.Content
			return nil
		case eventparser.ContentToolResult:
			return ag.handleToolResult(ctx, sess, turn, d)
		}
		return nil
	case eventparser.KindToolCall:
		return ag.handleToolUse(ctx, sess, turn, d)
	case eventparser.KindUsage:
		applyUsage(turn, d.Usage)
		return nil
	case eventparser.KindStop:
		applyUsage(turn, d.Usage)
		return ag.completeCurrentTurn(ctx, sess, now, d.StopReason)
	default:
		return nil
	}
}

func (ag *Aggregator) getOrCreateSession(ctx context.Context, id string, now time.Time) (*sessionState, error) {
	ag.mu.Lock()
	sess, ok := ag.sessions[id]
	if ok {
		ag.mu.Unlock()
		return sess, nil
	}
	sess = &sessionState{id: id, startedAt: now, lastEventAt: now}
	ag.sessions[id] = sess
	ag.mu.Unlock()

	props := map[string]any{"user_id": "", "started_at": now, "last_event_at": now}
	if err := ag.graph.UpsertNode(ctx, id, []string{graphmodel.LabelSession}, props); err != nil {
		return sess, err
	}
	return sess, nil
}

// touchSession records the session's last-event time in memory. The graph
// row's last_event_at is flushed on turn completion and by the idle reaper
// rather than on every content block, to avoid a bitemporal row per token.
func (ag *Aggregator) touchSession(sess *sessionState, now time.Time) {
	ag.mu.Lock()
	sess.lastEventAt = now
	ag.mu.Unlock()
}

func (ag *Aggregator) startTurn(ctx context.Context, sess *sessionState, now time.Time, userContent string) error {
	seq := sess.turnCount
	id := ag.idGen()
	turn := newTurnState(id, sess.id, seq, userContent, now)
	sess.current = turn
	sess.turnCount++

	if err := ag.graph.UpsertNode(ctx, id, []string{graphmodel.LabelTurn}, turnProps(turn)); err != nil {
		return err
	}
	if err := ag.graph.UpsertEdge(ctx, sess.id, graphmodel.EdgeHasTurn, id, nil); err != nil {
		return err
	}
	if sess.priorTurnID != "" {
		if err := ag.graph.UpsertEdge(ctx, sess.priorTurnID, graphmodel.EdgeNext, id, nil); err != nil {
			return err
		}
	}
	ag.emit(id, graphmodel.LabelTurn, turn.userContent, sess.id, nil)
	return nil
}

func (ag *Aggregator) completeCurrentTurn(ctx context.Context, sess *sessionState, now time.Time, stopReason string) error {
	turn := sess.current
	if turn == nil || turn.complete {
		return nil
	}
	turn.complete = true
	if stopReason != "" {
		turn.stopReason = stopReason
	}
	props := turnProps(turn)
	if err := ag.graph.UpsertNode(ctx, turn.id, []string{graphmodel.LabelTurn}, props); err != nil {
		return err
	}
	if err := ag.graph.UpsertNode(ctx, sess.id, []string{graphmodel.LabelSession}, map[string]any{
		"user_id": "", "started_at": sess.startedAt, "last_event_at": now,
	}); err != nil {
		return err
	}
	ag.emit(turn.id, graphmodel.LabelTurn, turn.assistantPreview, sess.id, nil)
	sess.priorTurnID = turn.id
	sess.current = nil
	return nil
}

func (ag *Aggregator) handleThinking(ctx context.Context, sess *sessionState, turn *turnState, d eventparser.Delta) error {
	hash := graphmodel.ContentHash("thinking", d.Content, "", sess.id)
	if ag.dedup.IsDuplicate(sess.id, hash) {
		return nil
	}
	turn.blockSeq++
	seq := turn.blockSeq
	id := ag.idGen()
	props := map[string]any{
		"turn_id": turn.id, "sequence_index": seq, "preview": preview(d.Content), "content_hash": hash,
	}
	if err := ag.graph.UpsertNode(ctx, id, []string{graphmodel.LabelReasoning}, props); err != nil {
		return err
	}
	if err := ag.graph.UpsertEdge(ctx, turn.id, graphmodel.EdgeContains, id, nil); err != nil {
		return err
	}
	turn.pendingReasonings = append(turn.pendingReasonings, id)
	turn.lastReasoningSeq = seq
	ag.dedup.MarkSeen(sess.id, hash, dedup.SourceHook)
	ag.emit(id, graphmodel.LabelReasoning, d.Content, sess.id, nil)
	return nil
}

func (ag *Aggregator) handleToolUse(ctx context.Context, sess *sessionState, turn *turnState, d eventparser.Delta) error {
	tc := d.ToolCall
	if tc == nil {
		return nil
	}
	argsJSON, _ := json.Marshal(tc.Args)
	toolType := graphmodel.ClassifyToolType(strings.ToLower(tc.Name))
	hash := graphmodel.ContentHash("tool_call", string(argsJSON), tc.Name, sess.id)
	if ag.dedup.IsDuplicate(sess.id, hash) {
		return nil
	}
	turn.blockSeq++
	seq := turn.blockSeq
	id := ag.idGen()

	props := map[string]any{
		"turn_id": turn.id, "call_id": tc.ID, "tool_name": tc.Name, "tool_type": string(toolType),
		"arguments_json": string(argsJSON), "sequence_index": seq, "reasoning_sequence": turn.lastReasoningSeq,
		"status": string(graphmodel.ToolCallPending), "content_hash": hash,
	}
	if path, action := fileOpFromArgs(toolType, tc.Args); path != "" {
		props["file_path"] = path
		props["file_action"] = action
	}

	if err := ag.graph.UpsertNode(ctx, id, []string{graphmodel.LabelToolCall}, props); err != nil {
		return err
	}
	if err := ag.graph.UpsertEdge(ctx, turn.id, graphmodel.EdgeInvokes, id, nil); err != nil {
		return err
	}
	for _, rid := range turn.pendingReasonings {
		if err := ag.graph.UpsertEdge(ctx, rid, graphmodel.EdgeTriggers, id, nil); err != nil {
			return err
		}
	}
	turn.pendingReasonings = nil
	turn.toolCallCount++
	turn.toolCallsByCallID[tc.ID] = &toolCallState{id: id, callID: tc.ID, toolName: tc.Name, props: props}

	ag.dedup.MarkSeen(sess.id, hash, dedup.SourceHook)
	ag.emit(id, graphmodel.LabelToolCall, string(argsJSON), sess.id, map[string]string{"tool_name": tc.Name})
	return nil
}

func (ag *Aggregator) handleToolResult(ctx context.Context, sess *sessionState, turn *turnState, d eventparser.Delta) error {
	tc := d.ToolCall
	if tc == nil {
		return nil
	}
	state, ok := turn.toolCallsByCallID[tc.CallID]
	if !ok {
		log.Warn().Str("session_id", sess.id).Str("call_id", tc.CallID).Msg("aggregator: tool_result with no matching ToolCall, discarding")
		return nil
	}

	hash := graphmodel.ContentHash("tool_result", tc.Result, state.toolName, sess.id)
	if ag.dedup.IsDuplicate(sess.id, hash) {
		return nil
	}

	status := graphmodel.ToolCallSuccess
	if tc.IsError {
		status = graphmodel.ToolCallError
	}

	obsID := ag.idGen()
	obsProps := map[string]any{
		"tool_call_id": state.id, "content_preview": preview(tc.Result), "is_error": tc.IsError, "content_hash": hash,
	}
	if err := ag.graph.UpsertNode(ctx, obsID, []string{graphmodel.LabelObservation}, obsProps); err != nil {
		return err
	}
	if err := ag.graph.UpsertEdge(ctx, state.id, graphmodel.EdgeYields, obsID, nil); err != nil {
		return err
	}

	state.props["status"] = string(status)
	if err := ag.graph.UpsertNode(ctx, state.id, []string{graphmodel.LabelToolCall}, state.props); err != nil {
		return err
	}

	ag.dedup.MarkSeen(sess.id, hash, dedup.SourceHook)
	ag.emit(obsID, graphmodel.LabelObservation, tc.Result, sess.id, nil)
	return nil
}

// emit publishes a memory.nodes.created event. Best-effort: failures are
// logged and never roll back the graph write that preceded them.
func (ag *Aggregator) emit(id, label, content, sessionID string, metadata map[string]string) {
	if ag.publisher == nil {
		return
	}
	payload, err := json.Marshal(graphmodel.NodeCreatedEvent{
		ID: id, Label: label, Content: content, SessionID: sessionID, Metadata: metadata,
	})
	if err != nil {
		log.Error().Err(err).Msg("aggregator: failed to marshal node-created event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ag.publisher.Publish(ctx, bus.Message{Topic: bus.TopicNodesCreated, Key: id, Value: payload}); err != nil {
		log.Error().Err(err).Str("node_id", id).Msg("aggregator: failed to publish node-created event")
	}
}

func turnProps(turn *turnState) map[string]any {
	return map[string]any{
		"session_id": turn.sessionID, "sequence_index": turn.sequenceIndex,
		"user_content": turn.userContent, "assistant_preview": turn.assistantPreview,
		"input_tokens": turn.inputTokens, "output_tokens": turn.outputTokens,
		"cache_read_tokens": turn.cacheReadTokens, "cache_write_tokens": turn.cacheWriteTokens,
		"stop_reason": turn.stopReason, "complete": turn.complete,
	}
}

// applyUsage records the latest usage snapshot on turn. Provider usage
// deltas are cumulative totals-to-date rather than per-event increments, so
// later snapshots simply overwrite earlier ones.
func applyUsage(turn *turnState, u *eventparser.Usage) {
	if u == nil {
		return
	}
	turn.inputTokens = u.Input
	turn.outputTokens = u.Output
	turn.cacheReadTokens = u.CacheRead
	turn.cacheWriteTokens = u.CacheWrite
}

func preview(s string) string {
	if len(s) <= defaultPreviewLength {
		return s
	}
	count := 0
	for i := range s {
		if count == defaultPreviewLength {
			return s[:i]
		}
		count++
	}
	return s
}

func fileOpFromArgs(tt graphmodel.ToolType, args map[string]any) (path, action string) {
	switch tt {
	case graphmodel.ToolTypeFileRead:
		action = "read"
	case graphmodel.ToolTypeFileWrite:
		action = "write"
	case graphmodel.ToolTypeFileEdit:
		action = "edit"
	default:
		return "", ""
	}
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, action
			}
		}
	}
	return "", action
}
