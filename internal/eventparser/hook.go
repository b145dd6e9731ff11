package eventparser

import "encoding/json"

// HookDecoder decodes payloads from the generic hook/file-watcher producers,
// which already emit the common delta shape directly (no provider-specific
// transcoding needed) since they observe the agent's own structured event
// log rather than a raw model stream.
type HookDecoder struct{}

func (HookDecoder) Decode(raw []byte) (*Delta, error) {
	var d Delta
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.Type == "" {
		return nil, nil
	}
	return &d, nil
}
