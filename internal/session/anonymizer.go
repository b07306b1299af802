package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashLength is the number of hex characters kept from the digest. 64 bits of
// the hash is plenty for dedup while keeping the stored column short.
const HashLength = 16

// Anonymizer derives a stable pseudonymous identifier from a client network
// address. The derivation is one-way; the gateway never stores raw addresses.
// This is privacy-lite pseudonymization, not a defense against an attacker
// willing to enumerate the address space.
type Anonymizer struct {
	salt string
}

// NewAnonymizer creates an anonymizer with a fixed application salt. The salt
// must stay stable across restarts or feedback deduplication silently resets.
func NewAnonymizer(salt string) *Anonymizer {
	return &Anonymizer{salt: salt}
}

// Hash returns a fixed-length session identifier for the given address.
// Identical addresses always map to identical identifiers under one salt.
func (a *Anonymizer) Hash(address string) string {
	sum := sha256.Sum256([]byte(a.salt + ":" + address))
	return hex.EncodeToString(sum[:])[:HashLength]
}
