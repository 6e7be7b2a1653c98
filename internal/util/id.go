package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a new random identifier, "usr_a1b2..." style when a prefix
// is given. 16 bytes of entropy, hex encoded.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
