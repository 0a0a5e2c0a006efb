// Package ir provides the constrained value model used for record fields and
// payloads, and the canonical JSON encoding every content hash is computed from.
//
// ir imports nothing internal. Every other package that needs to hash or
// transport entity data goes through these types.
//
// Key design constraints:
//   - NO float types (use int64), so the same state always hashes the same
//   - Object keys are ordered by UTF-16 code units (RFC 8785)
//   - Strings are NFC normalized at the serialization boundary
//   - Dates travel as RFC 3339 strings or unix seconds, never floats
package ir
