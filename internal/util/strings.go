// Package util provides common utility functions used across the portal packages.
// These utilities handle string manipulation, hashing for logs and host
// classification that don't fit into domain-specific packages.
package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("https://very.long.example/path", 12) // Returns: "https://very"
//	SafeTruncate("short", 10)                          // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// HashForLogging returns a short SHA-256 prefix of a sensitive value so log
// lines can be correlated without exposing it.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:])[:16]
}
