package aggregator

import "time"

// toolCallState is the in-flight bookkeeping for one ToolCall, keyed by the
// provider's call_id so a later tool_result can find it. props holds the
// last full property set written for this node, since a bitemporal amend
// (UpsertNode) replaces the whole row rather than patching individual keys.
type toolCallState struct {
	id       string
	callID   string
	toolName string
	props    map[string]any
}

// turnState tracks the content-block state machine for one open turn, per
// spec.md §4.3(b).
type turnState struct {
	id               string
	sessionID        string
	sequenceIndex    int
	userContent      string
	assistantPreview string
	inputTokens      int
	outputTokens     int
	cacheReadTokens  int
	cacheWriteTokens int
	stopReason       string
	complete         bool
	createdAt        time.Time

	blockSeq          int // position counter across content blocks, spec's "i"
	pendingReasonings []string
	lastReasoningSeq  int
	toolCallCount     int
	toolCallsByCallID map[string]*toolCallState
}

func newTurnState(id, sessionID string, sequenceIndex int, userContent string, now time.Time) *turnState {
	return &turnState{
		id:                id,
		sessionID:         sessionID,
		sequenceIndex:     sequenceIndex,
		userContent:       userContent,
		createdAt:         now,
		lastReasoningSeq:  -1,
		toolCallsByCallID: make(map[string]*toolCallState),
	}
}

// sessionState tracks one session's open turn and turn history. A session
// is only ever touched by the one worker it's partitioned to, except for
// the idle reaper which holds the aggregator-wide lock while scanning.
type sessionState struct {
	id          string
	startedAt   time.Time
	lastEventAt time.Time
	turnCount   int
	current     *turnState
	priorTurnID string
}
