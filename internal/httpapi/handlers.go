package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"lineage/internal/aggregator"
	"lineage/internal/dedup"
	"lineage/internal/eventparser"
	"lineage/internal/graphmodel"
	"lineage/internal/memoryapi"
	"lineage/internal/retrieve"
)

// ingestEnvelope is spec.md §6's wire-format ingestion envelope.
type ingestEnvelope struct {
	EventID         string          `json:"event_id"`
	IngestTimestamp time.Time       `json:"ingest_timestamp"`
	Provider        string          `json:"provider"`
	Payload         json.RawMessage `json:"payload"`
	Headers         struct {
		SessionID string `json:"x-session-id"`
		Source    string `json:"x-source"`
	} `json:"headers"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var env ingestEnvelope
	if err := c.Bind(&env); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed ingestion envelope", err)
	}

	// eventparser.Registry.Parse reads the "provider" field from the same
	// object it decodes the provider-specific fields from; the envelope
	// carries provider alongside payload, so stitch the two together before
	// handing the bytes to the registry.
	raw, err := mergeProvider(env.Provider, env.Payload)
	if err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed payload", err)
	}
	delta, err := s.deps.Parser.Parse(raw)
	if err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "unrecognized event", err)
	}
	if delta == nil {
		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "delta": false})
	}

	sessionID := env.Headers.SessionID
	if sessionID == "" {
		sessionID = delta.Session
	}
	if sessionID == "" {
		return logAndRespondError(c, http.StatusBadRequest, "no session id in headers or payload", nil)
	}

	source := dedup.Source(env.Headers.Source)
	hash := deltaContentHash(sessionID, *delta)
	admit, err := s.deps.Dedup.ShouldIngest(c.Request().Context(), sessionID, hash, source)
	if err != nil {
		return logAndRespondError(c, http.StatusInternalServerError, "dedup admission failed", err)
	}
	if !admit {
		return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "delta": false})
	}

	ev := aggregator.Event{
		SessionID:     sessionID,
		SequenceIndex: s.nextSeq(sessionID),
		Delta:         *delta,
	}
	if err := s.deps.Aggregator.Ingest(c.Request().Context(), ev); err != nil {
		return logAndRespondError(c, http.StatusInternalServerError, "failed to ingest event", err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "delta": true})
}

// deltaContentHash derives the single-flight admission hash for a raw
// delta the same way the turn aggregator hashes its content blocks
// (graphmodel.ContentHash over kind/content/tool_name/session_id,
// spec.md §4.1) — content-block kind substitutes for delta kind when the
// delta is itself a content block, and the tool name (from the envelope's
// own tool_call, or its nested tool-use) stands in for tool_name.
func deltaContentHash(sessionID string, d eventparser.Delta) uint64 {
	kind := string(d.Type)
	if d.Type == eventparser.KindContent {
		kind = string(d.ContentKind)
	}
	content := d.Content
	toolName := ""
	if tc := d.ToolCall; tc != nil {
		toolName = tc.Name
		if d.ContentKind == eventparser.ContentToolResult {
			content = tc.Result
		} else {
			argsJSON, _ := json.Marshal(tc.Args)
			content = string(argsJSON)
		}
	}
	return graphmodel.ContentHash(kind, content, toolName, sessionID)
}

func mergeProvider(provider string, payload json.RawMessage) (json.RawMessage, error) {
	var fields map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	} else {
		fields = map[string]any{}
	}
	fields["provider"] = provider
	return json.Marshal(fields)
}

// searchRequest is spec.md §6's search request payload.
type searchRequest struct {
	Text        string            `json:"text"`
	Limit       int               `json:"limit"`
	Threshold   float64           `json:"threshold"`
	Filters     map[string]string `json:"filters"`
	Strategy    string            `json:"strategy"`
	Rerank      bool              `json:"rerank"`
	RerankTier  string            `json:"rerank_tier"`
	RerankDepth int               `json:"rerank_depth"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed search request", err)
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Threshold == 0 {
		req.Threshold = 0.5
	}

	opts := retrieve.DefaultOptions(req.Limit)
	opts.Filter = req.Filters
	opts.AbstentionThreshold = req.Threshold
	if req.RerankDepth > 0 {
		opts.RerankDepth = req.RerankDepth
	}
	if req.Rerank {
		opts.Rerank = retrieve.RerankTier(req.RerankTier)
	}

	started := time.Now()
	resp, err := s.deps.Retrieve.Search(c.Request().Context(), req.Text, opts)
	if err != nil {
		return logAndRespondError(c, http.StatusInternalServerError, "search failed", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results": resp.Results,
		"total":   len(resp.Results),
		"took_ms": time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleRemember(c echo.Context) error {
	var req memoryapi.RememberRequest
	if err := c.Bind(&req); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed remember request", err)
	}
	resp, err := s.deps.Memory.Remember(c.Request().Context(), req)
	if err != nil {
		return logAndRespondError(c, http.StatusInternalServerError, "remember failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecall(c echo.Context) error {
	var req memoryapi.RecallRequest
	if err := c.Bind(&req); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed recall request", err)
	}
	resp, err := s.deps.Memory.Recall(c.Request().Context(), req)
	if err != nil {
		return logAndRespondError(c, http.StatusInternalServerError, "recall failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req struct {
		Cypher string         `json:"cypher"`
		Params map[string]any `json:"params"`
	}
	if err := c.Bind(&req); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed query request", err)
	}
	rows, err := s.deps.Memory.Query(c.Request().Context(), req.Cypher, req.Params)
	if err != nil {
		return logAndRespondError(c, http.StatusForbidden, "query rejected", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleGetContext(c echo.Context) error {
	var req memoryapi.GetContextRequest
	if err := c.Bind(&req); err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "malformed context request", err)
	}
	resp, err := s.deps.Memory.GetContext(c.Request().Context(), req)
	if err != nil {
		return logAndRespondError(c, http.StatusBadRequest, "getContext failed", err)
	}
	return c.JSON(http.StatusOK, resp)
}
