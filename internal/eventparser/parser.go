package eventparser

import (
	"encoding/json"
	"fmt"
)

// Provider names recognized by Parse. claude_code and anthropic select the
// Anthropic decoder; generic and hook select the hook decoder.
const (
	ProviderAnthropic  = "anthropic"
	ProviderClaudeCode = "claude_code"
	ProviderGemini     = "gemini"
	ProviderHook       = "hook"
	ProviderGeneric    = "generic"
)

// Decoder turns one raw provider payload into a Delta, or nil if the
// payload carries no observable delta. Decoders are pure functions: no
// state is kept across calls.
type Decoder interface {
	Decode(raw []byte) (*Delta, error)
}

// Registry selects a Decoder by the envelope's provider field.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry builds a Registry with the standard set of decoders.
func NewRegistry() *Registry {
	return &Registry{decoders: map[string]Decoder{
		ProviderAnthropic:  AnthropicDecoder{},
		ProviderClaudeCode: AnthropicDecoder{},
		ProviderGemini:     GeminiDecoder{},
		ProviderHook:       HookDecoder{},
		ProviderGeneric:    HookDecoder{},
	}}
}

// Register adds or overrides a decoder for a provider name.
func (r *Registry) Register(provider string, d Decoder) {
	r.decoders[provider] = d
}

// envelope is the provider-tagging wrapper every raw payload is assumed to
// carry, regardless of decoder-specific shape.
type envelope struct {
	Provider string `json:"provider"`
}

// Parse selects a decoder by the payload's "provider" field and decodes it.
func (r *Registry) Parse(raw []byte) (*Delta, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("eventparser: malformed envelope: %w", err)
	}
	d, ok := r.decoders[env.Provider]
	if !ok {
		return nil, fmt.Errorf("eventparser: no decoder registered for provider %q", env.Provider)
	}
	return d.Decode(raw)
}
