package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first 12 hex characters for logs and filenames
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ConfigHash identifies a resolved analysis configuration
type ConfigHash Hash

// NewConfigHash hashes a canonical serialization of the configuration
func NewConfigHash(data []byte) ConfigHash { return ConfigHash(NewHash(data)) }

func (h ConfigHash) String() string { return Hash(h).String() }
func (h ConfigHash) Short() string  { return Hash(h).Short() }

// ComputeFingerprint derives a deterministic hash over ordered fields.
// Fields are joined with a separator so boundary shifts change the hash.
func ComputeFingerprint(fields ...string) Hash {
	return NewHash([]byte(strings.Join(fields, "|")))
}
