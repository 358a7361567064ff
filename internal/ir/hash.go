package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash domains. The version suffix allows the algorithm to change without
// colliding with digests already stored in oplogs.
const (
	DomainPayload = "durable/payload/v1"
	DomainEntry   = "durable/entry/v1"
	DomainTrace   = "durable/trace/v1"
)

// hashWithDomain returns hex(SHA-256(domain || 0x00 || data)).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash is the digest stored alongside externally stored payloads.
func ContentHash(data []byte) string {
	return hashWithDomain(DomainPayload, data)
}

// EntryDigest identifies an encoded oplog entry. Two oplogs hold the same
// history up to an index exactly when their digests agree entry by entry.
func EntryDigest(encoded []byte) string {
	return hashWithDomain(DomainEntry, encoded)
}

// TraceDigest hashes the canonical form of a value.
func TraceDigest(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("trace digest: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
