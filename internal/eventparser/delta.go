// Package eventparser normalizes provider-specific event streams (Anthropic
// stream-json, Gemini stream, generic hook payloads) into a common delta the
// turn aggregator (C3) consumes, mirroring the teacher's per-provider
// llm.Client decoders (internal/llm/anthropic, internal/llm/google)
// collapsed down to a single stateless parse step per payload.
package eventparser

// Kind enumerates the normalized delta types.
type Kind string

const (
	KindContent  Kind = "content"
	KindToolCall Kind = "tool_call"
	KindUsage    Kind = "usage"
	KindStop     Kind = "stop"
)

// ContentKind distinguishes the content sub-kinds the turn aggregator's
// state machine reacts to.
type ContentKind string

const (
	ContentThinking   ContentKind = "thinking"
	ContentText       ContentKind = "text"
	ContentToolUse    ContentKind = "tool_use"
	ContentToolResult ContentKind = "tool_result"
)

// ToolCall carries a tool invocation or its result, depending on ContentKind.
type ToolCall struct {
	ID      string         `json:"id"`
	CallID  string         `json:"call_id"`
	Name    string         `json:"name"`
	Args    map[string]any `json:"args"`
	Index   int            `json:"index"`
	IsError bool           `json:"is_error"`
	Result  string         `json:"result"`
}

// Usage carries token accounting for a turn.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

// Timing carries provider-reported duration for a delta, in milliseconds.
type Timing struct {
	DurationMS int64 `json:"duration_ms"`
}

// Delta is the common normalized event envelope. A given payload maps to at
// most one Delta; payloads carrying no observable delta parse to nil.
type Delta struct {
	Type        Kind        `json:"type"`
	Role        string      `json:"role,omitempty"`
	ContentKind ContentKind `json:"content_kind,omitempty"`
	Content     string      `json:"content,omitempty"`
	ToolCall    *ToolCall   `json:"tool_call,omitempty"`
	Usage       *Usage      `json:"usage,omitempty"`
	Session     string      `json:"session,omitempty"`
	Model       string      `json:"model,omitempty"`
	StopReason  string      `json:"stop_reason,omitempty"`
	Timing      *Timing     `json:"timing,omitempty"`
}
