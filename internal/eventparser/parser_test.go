package eventparser

import "testing"

func TestAnthropicDecoderThinkingDelta(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"anthropic","type":"content_block_delta","session":"s1","delta":{"type":"thinking_delta","thinking":"plan A"}}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ContentKind != ContentThinking || d.Content != "plan A" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestAnthropicDecoderToolUse(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"anthropic","type":"content_block_start","index":3,"content_block":{"type":"tool_use","id":"call_1","name":"Read","input":{"path":"/a"}}}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Type != KindToolCall || d.ToolCall.Name != "Read" || d.ToolCall.Args["path"] != "/a" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestAnthropicDecoderToolResult(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"anthropic","type":"tool_result","tool_result":{"call_id":"call_1","content":"ok","is_error":false}}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ContentKind != ContentToolResult || d.ToolCall.CallID != "call_1" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestAnthropicDecoderInputJSONDeltaIsIgnored(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"anthropic","type":"content_block_delta","delta":{"type":"input_json_delta"}}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("expected nil delta for partial tool-call JSON, got %+v", d)
	}
}

func TestGeminiDecoderThoughtPart(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"gemini","parts":[{"text":"reviewing","thought":true}]}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ContentKind != ContentThinking || d.Content != "reviewing" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestGeminiDecoderFunctionCall(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"gemini","parts":[{"function_call":{"id":"c1","name":"bash","args":{"cmd":"ls"}}}]}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Type != KindToolCall || d.ToolCall.Name != "bash" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestHookDecoderPassthrough(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`{"provider":"hook","type":"content","content_kind":"text","content":"hello","session":"s1"}`)
	d, err := r.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Content != "hello" {
		t.Fatalf("unexpected delta: %+v", d)
	}
}

func TestParseUnknownProviderErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Parse([]byte(`{"provider":"unknown"}`))
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
