package prompt

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex sha256 of s. Cycle journals store it instead of
// the full prompt.
func Digest(s string) string {
	return computeDigest([]byte(s))
}

func computeDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
