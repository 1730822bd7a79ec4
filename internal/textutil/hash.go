package textutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns a short stable hex digest of the text, used as a cache key.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// SegmentKey derives the cache key for a synthesized segment: identical text
// spoken by the same speaker maps to the same key.
func SegmentKey(speaker, text string) string {
	return speaker + "_" + Hash(text)
}
