package eventparser

import "encoding/json"

// AnthropicDecoder normalizes Anthropic stream-json events, generalized from
// the content-block switch in the teacher's internal/llm/anthropic.Client
// stream loop (ContentBlockStartEvent / ContentBlockDeltaEvent /
// MessageDeltaEvent) down to the subset the turn aggregator needs: which
// content kind is open, what text it carries, and tool-use/tool-result
// payloads.
type AnthropicDecoder struct{}

type anthropicPayload struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Model   string `json:"model,omitempty"`
	Index   int    `json:"index,omitempty"`

	ContentBlock *struct {
		Type  string         `json:"type"`
		ID    string         `json:"id,omitempty"`
		Name  string         `json:"name,omitempty"`
		Input map[string]any `json:"input,omitempty"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		Thinking   string `json:"thinking,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *Usage `json:"usage,omitempty"`

	ToolResult *struct {
		CallID  string `json:"call_id"`
		Content string `json:"content"`
		IsError bool   `json:"is_error"`
	} `json:"tool_result,omitempty"`
}

func (AnthropicDecoder) Decode(raw []byte) (*Delta, error) {
	var p anthropicPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	switch p.Type {
	case "content_block_start":
		if p.ContentBlock == nil {
			return nil, nil
		}
		switch p.ContentBlock.Type {
		case "tool_use":
			return &Delta{
				Type:        KindToolCall,
				ContentKind: ContentToolUse,
				Session:     p.Session,
				Model:       p.Model,
				ToolCall: &ToolCall{
					ID:    p.ContentBlock.ID,
					Name:  p.ContentBlock.Name,
					Args:  p.ContentBlock.Input,
					Index: p.Index,
				},
			}, nil
		default:
			return nil, nil
		}

	case "content_block_delta":
		if p.Delta == nil {
			return nil, nil
		}
		switch p.Delta.Type {
		case "text_delta":
			return &Delta{Type: KindContent, ContentKind: ContentText, Content: p.Delta.Text, Session: p.Session, Model: p.Model}, nil
		case "thinking_delta":
			return &Delta{Type: KindContent, ContentKind: ContentThinking, Content: p.Delta.Thinking, Session: p.Session, Model: p.Model}, nil
		default:
			// input_json_delta (partial tool-call arguments) carries no
			// observable delta on its own; full arguments are captured at
			// content_block_start.
			return nil, nil
		}

	case "message_delta":
		d := &Delta{Type: KindUsage, Usage: p.Usage, Session: p.Session, Model: p.Model}
		if p.Delta != nil && p.Delta.StopReason != "" {
			d.Type = KindStop
			d.StopReason = p.Delta.StopReason
		}
		return d, nil

	case "tool_result":
		if p.ToolResult == nil {
			return nil, nil
		}
		return &Delta{
			Type:        KindContent,
			ContentKind: ContentToolResult,
			Session:     p.Session,
			Model:       p.Model,
			ToolCall: &ToolCall{
				CallID:  p.ToolResult.CallID,
				Result:  p.ToolResult.Content,
				IsError: p.ToolResult.IsError,
			},
		}, nil

	default:
		return nil, nil
	}
}
