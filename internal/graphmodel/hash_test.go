package graphmodel

import (
	"strings"
	"testing"
)

func TestContentHashTruncationAt500(t *testing.T) {
	base := strings.Repeat("a", 500)
	short := ContentHash("content", base, "", "sess-1")
	long := ContentHash("content", base+strings.Repeat("b", 50), "", "sess-1")
	if short != long {
		t.Fatalf("expected hashes equal at exactly 500-char prefix, got %d != %d", short, long)
	}
}

func TestContentHashDiffersPastTruncation_WhenPrefixDiffers(t *testing.T) {
	a := ContentHash("content", strings.Repeat("a", 499)+"x", "", "sess-1")
	b := ContentHash("content", strings.Repeat("a", 499)+"y", "", "sess-1")
	if a == b {
		t.Fatalf("expected different hashes when the first 500 chars differ")
	}
}

func TestContentHashFieldBoundaryNoCollision(t *testing.T) {
	a := ContentHash("ab", "c", "", "s")
	b := ContentHash("a", "bc", "", "s")
	if a == b {
		t.Fatalf("expected field-boundary separation to prevent collision")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash("tool_call", "hello world", "bash", "sess-1")
	b := ContentHash("tool_call", "hello world", "bash", "sess-1")
	if a != b {
		t.Fatalf("expected deterministic hash")
	}
}
