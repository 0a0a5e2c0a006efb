// Package syncable defines the capability an entity implements to be
// tracked by the record controller, and the helpers that turn a Syncable
// into Local Records, content hashes and upload payloads.
//
// Entities enumerate their trackable fields explicitly through
// SyncableKeys. Schema-declared entities stored in a persist.Container get
// the capability from Object, driven by an EntityType in a Registry.
//
// Two serializations of the same entity exist and must not be mixed up:
// LocalHash reads file bytes from disk and answers "has the local entity
// changed", while EncodeUpload carries the known remote file descriptors
// and the stored hash and is what gets transmitted.
package syncable
