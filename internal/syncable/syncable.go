package syncable

import (
	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/record"
)

// File is a blob associated with a syncable entity.
type File struct {
	// Identifier is stable within the entity's file set.
	Identifier string
	// Path is the blob's location on disk.
	Path string
}

// Syncable is the capability an entity implements to be tracked.
type Syncable interface {
	SyncableType() string

	// SyncableIdentifier returns false until the entity is eligible for tracking.
	SyncableIdentifier() (string, bool)

	// SyncableKeys enumerates the trackable fields.
	SyncableKeys() []string
	SyncableValue(key string) (ir.IRValue, bool)

	SyncableFiles() []File

	// SyncableRelationships maps each relationship field to the RecordID it
	// points at, or nil when unset.
	SyncableRelationships() map[string]*record.RecordID

	SyncableLocalizedName() string
	SyncableMetadata() map[string]string
	IsSyncingEnabled() bool
}

// Decodable is a Syncable that can be written from a downloaded payload.
type Decodable interface {
	Syncable

	SetSyncableValue(key string, value ir.IRValue) error
	SetSyncableRelationship(key string, id *record.RecordID) error
}

// ConflictResolver is implemented by entities that arbitrate their own
// conflicts. Entities that don't implement it always stay in conflict.
type ConflictResolver interface {
	ResolveConflict(m *record.ManagedRecord) record.ConflictResolution
}

// FileFields is implemented by entities whose files are named by a field.
// A change to one of those fields changes the entity's file set.
type FileFields interface {
	SyncableFileFields() []string
}

// Resolution returns e's conflict policy.
func Resolution(e Syncable, m *record.ManagedRecord) record.ConflictResolution {
	if r, ok := e.(ConflictResolver); ok {
		return r.ResolveConflict(m)
	}
	return record.ResolveConflict
}

// IsTrackable reports whether any of changed is one of e's trackable
// fields or one of its file fields.
func IsTrackable(e Syncable, changed []string) bool {
	if len(changed) == 0 {
		return false
	}
	keys := make(map[string]struct{}, len(e.SyncableKeys()))
	for _, k := range e.SyncableKeys() {
		keys[k] = struct{}{}
	}
	if ff, ok := e.(FileFields); ok {
		for _, k := range ff.SyncableFileFields() {
			keys[k] = struct{}{}
		}
	}
	for _, k := range changed {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}
