// Package domain id.go contains functions to generate, parse, and validate post IDs
package domain

import (
	"crypto/rand"
	"encoding/hex"
)

// PostID is the canonical identifier for a post and, by extension, for the
// fragment run of its attachment. It is a 128-bit random value encoded as 32
// lowercase hex characters.
type PostID string

// NewID generates a new cryptographically random 128-bit PostID encoded
// as 32 lowercase hexadecimal characters.
func NewID() (PostID, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return PostID(dst), nil
}

// ParseID validates s and returns it as a PostID. It enforces:
// - non-empty
// - length == 32
// - only lowercase [0-9a-f]
// Returns ErrInvalidID on failure.
func ParseID(s string) (PostID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return PostID(s), nil
}

// String returns the string form of the PostID.
func (id PostID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id PostID) Valid() bool { return isValidID(string(id)) }

func isValidID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
