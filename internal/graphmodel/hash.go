package graphmodel

import "hash/fnv"

// MaxHashedContentRunes is the truncation point for content hashing. Two
// payloads differing only past this many characters of natural-language
// content are considered the same event (spec.md §4.1).
const MaxHashedContentRunes = 500

// ContentHash computes an FNV-1a hash over a deterministic concatenation of
// kind, the truncated content, toolName, and sessionID. Field boundaries are
// marked with a separator byte so that e.g. kind="a"+content="bc" can never
// collide with kind="ab"+content="c".
func ContentHash(kind, content, toolName, sessionID string) uint64 {
	h := fnv.New64a()
	writeField(h, kind)
	writeField(h, truncateRunes(content, MaxHashedContentRunes))
	writeField(h, toolName)
	writeField(h, sessionID)
	return h.Sum64()
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte{0x1f}) // unit separator
}

// truncateRunes truncates s to at most n runes without splitting a
// multi-byte rune.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
