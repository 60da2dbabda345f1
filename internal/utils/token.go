package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewOpaqueToken returns 32 random bytes, hex encoded.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating opaque token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken is what gets stored for opaque tokens. Raw values never reach the database.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
