// Package auth resolves inbound API keys to Projects and hashes/verifies
// those keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const rawKeyBytes = 24 // 192 bits of entropy, hex-encoded to 48 chars.

// GenerateAPIKey returns a new opaque, high-entropy plaintext key. The
// caller is responsible for hashing it (HashAPIKey) before persisting
// anything; the plaintext is shown to the admin exactly once.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	return "gv_" + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the hex sha-256 digest of apiKey, as required by
// SPEC_FULL.md §3 (Project.api_key_hash) — a deterministic digest, not an
// adaptive password hash, because Project lookup is by hash equality against
// an indexed column (see SPEC_FULL.md §4.2's implementation note).
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether apiKey hashes to the given hex digest, using
// a constant-time comparison so a timing side-channel can't leak how many
// hash bytes matched.
func VerifyAPIKey(apiKey, hexHash string) bool {
	want, err := hex.DecodeString(hexHash)
	if err != nil {
		return false
	}
	got := sha256.Sum256([]byte(apiKey))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
