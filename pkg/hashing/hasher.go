// Package hashing implements the content hasher (C2): a stable
// fingerprint of the raw uploaded bytes, computed before optimization
// so a re-optimized resubmission still matches its prior duplicate.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of raw.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Matches reports whether raw hashes to the given hex digest.
func Matches(raw []byte, digest string) bool {
	return Hash(raw) == digest
}
