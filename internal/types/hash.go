// ABOUTME: Content hash helpers for verdict cache keys and lookups
// ABOUTME: Computes and validates lowercase hex SHA256 digests

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SHA256Length is the hex length of a SHA-256 digest.
const SHA256Length = 64

// ContentHash returns the hex SHA256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ParseContentHash validates a hex SHA256 string.
// It normalizes the hash to lowercase and trims whitespace.
func ParseContentHash(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if s == "" {
		return "", fmt.Errorf("empty hash")
	}
	if len(s) != SHA256Length {
		return "", fmt.Errorf("invalid hash length %d: must be %d", len(s), SHA256Length)
	}
	for _, c := range s {
		if !isHexChar(c) {
			return "", fmt.Errorf("invalid hex characters in hash")
		}
	}
	return s, nil
}

// isHexChar returns true if the rune is a lowercase hexadecimal character.
func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
