package eventparser

import "encoding/json"

// GeminiDecoder normalizes Gemini stream events, generalized from the
// part-walking loop in the teacher's internal/llm/google.Client
// (messageFromResponse: part.Thought / part.FunctionCall / plain text).
type GeminiDecoder struct{}

type geminiPart struct {
	Text         string `json:"text,omitempty"`
	Thought      bool   `json:"thought,omitempty"`
	FunctionCall *struct {
		ID   string         `json:"id,omitempty"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"function_call,omitempty"`
	FunctionResponse *struct {
		ID       string `json:"id,omitempty"`
		Name     string `json:"name"`
		Response string `json:"response"`
		IsError  bool   `json:"is_error,omitempty"`
	} `json:"function_response,omitempty"`
}

type geminiPayload struct {
	Session      string       `json:"session,omitempty"`
	Model        string       `json:"model,omitempty"`
	Parts        []geminiPart `json:"parts,omitempty"`
	Index        int          `json:"index,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// Decode accepts one part per payload (the caller splits a multi-part
// candidate into one envelope per part before parsing), matching the
// aggregator's one-delta-per-block contract.
func (GeminiDecoder) Decode(raw []byte) (*Delta, error) {
	var p geminiPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.FinishReason != "" {
		return &Delta{Type: KindStop, StopReason: p.FinishReason, Usage: p.Usage, Session: p.Session, Model: p.Model}, nil
	}
	if len(p.Parts) == 0 {
		return nil, nil
	}
	part := p.Parts[0]
	switch {
	case part.FunctionCall != nil:
		return &Delta{
			Type:        KindToolCall,
			ContentKind: ContentToolUse,
			Session:     p.Session,
			Model:       p.Model,
			ToolCall: &ToolCall{
				ID:    part.FunctionCall.ID,
				Name:  part.FunctionCall.Name,
				Args:  part.FunctionCall.Args,
				Index: p.Index,
			},
		}, nil
	case part.FunctionResponse != nil:
		return &Delta{
			Type:        KindContent,
			ContentKind: ContentToolResult,
			Session:     p.Session,
			Model:       p.Model,
			ToolCall: &ToolCall{
				CallID:  part.FunctionResponse.ID,
				Result:  part.FunctionResponse.Response,
				IsError: part.FunctionResponse.IsError,
			},
		}, nil
	case part.Thought:
		return &Delta{Type: KindContent, ContentKind: ContentThinking, Content: part.Text, Session: p.Session, Model: p.Model}, nil
	case part.Text != "":
		return &Delta{Type: KindContent, ContentKind: ContentText, Content: part.Text, Session: p.Session, Model: p.Model}, nil
	default:
		return nil, nil
	}
}
