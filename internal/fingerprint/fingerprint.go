// Package fingerprint hashes component payloads for equality checks.
// Whitespace and line endings are stripped before hashing so that two
// payloads differing only in formatting fingerprint identically.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Sum returns the hex digest of the whitespace-normalized payload.
// Whitespace runes are dropped whole, including multi-byte ones like NBSP.
func Sum(data []byte) string {
	var normalized strings.Builder
	normalized.Grow(len(data))
	for _, r := range string(data) {
		if unicode.IsSpace(r) {
			continue
		}
		normalized.WriteRune(r)
	}
	sum := sha256.Sum256([]byte(normalized.String()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two payloads have the same normalized digest.
func Equal(a, b []byte) bool {
	return Sum(a) == Sum(b)
}
