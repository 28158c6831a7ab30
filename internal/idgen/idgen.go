// Package idgen generates identifiers for sessions, logs and receipts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string. Used for session ids.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix + 24 hex chars (12 random bytes), e.g. "log_9f...".
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
