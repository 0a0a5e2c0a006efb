package ir

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived identifiers.
// Version suffix enables future algorithm migration.
const (
	DomainLocator  = "harmony/locator/v1"
	DomainSnapshot = "harmony/snapshot/v1"
)

// ContentHash computes the SHA-1 hex digest of the canonical JSON form of v.
// SHA-1 is what remote stores already hold in harmony_sha1Hash, so the
// digest must stay SHA-1 to remain comparable with them.
func ContentHash(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return DataHash(canonical), nil
}

// DataHash computes the SHA-1 hex digest of raw bytes (file contents).
func DataHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// LocatorKey derives a stable, opaque key for an entity locator.
// Used to name per-entity resources (for example file watches) without
// embedding the raw locator.
func LocatorKey(locator string) string {
	return hashWithDomain(DomainLocator, []byte(locator))
}

// SnapshotHash computes a domain-separated digest over an arbitrary IR value.
// Used to fingerprint whole-store dumps for golden comparison.
func SnapshotHash(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentHash(v any) string {
	h, err := ContentHash(v)
	if err != nil {
		panic(err)
	}
	return h
}
