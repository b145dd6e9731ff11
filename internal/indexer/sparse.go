package indexer

import (
	"hash/fnv"
	"math"
	"strings"
)

// sparseVocabSize bounds the hashing-trick term space; collisions are
// accepted the way random-projection sparse encoders accept them.
const sparseVocabSize = 1 << 16

// SparseEmbed produces a SPLADE-style term-weight vector over a fixed
// hashed vocabulary: each token increments its bucket's log-scaled term
// frequency. There is no sparse-embedding SDK anywhere in the retrieval
// pack, so this stays on the standard library rather than reaching for an
// unrelated ecosystem dependency (recorded in DESIGN.md).
func SparseEmbed(text string) []float32 {
	counts := make(map[int]float32)
	for _, tok := range tokenize(text) {
		bucket := hashToken(tok) % sparseVocabSize
		counts[bucket]++
	}
	vec := make([]float32, sparseVocabSize)
	for bucket, tf := range counts {
		vec[bucket] = float32(1 + math.Log(float64(tf)))
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func hashToken(tok string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	return int(h.Sum32())
}
