package core

import (
	"crypto/sha256"
	"encoding/hex"
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

// Short returns the first 12 hex characters, enough to tell uploads apart in logs
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// SourceFingerprint identifies the raw bytes of an input file
type SourceFingerprint Hash

func NewSourceFingerprint(data []byte) SourceFingerprint { return SourceFingerprint(NewHash(data)) }

func (h SourceFingerprint) String() string { return Hash(h).String() }
func (h SourceFingerprint) Short() string  { return Hash(h).Short() }
