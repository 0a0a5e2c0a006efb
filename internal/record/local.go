package record

import (
	"slices"
	"strings"
	"time"

	"github.com/roach88/harmony/internal/ir"
)

// LocalRecord is the engine's record of a syncable entity's local state.
//
// The backing entity is reached through Locator, a store-scoped id resolved
// on demand; the record never holds the entity itself.
type LocalRecord struct {
	ID      RecordID
	Locator string

	Status           Status
	ModificationDate time.Time

	// SHA1Hash digests the trackable fields plus file contents. It must be
	// recomputed whenever trackable fields or the file set change.
	SHA1Hash string

	// Version is set once an upload of this state has been confirmed.
	Version *Version

	// RemoteFiles are blobs already known to the remote side, ordered by Identifier.
	RemoteFiles []RemoteFile

	// AdditionalProperties holds payload fields the local schema does not recognize.
	AdditionalProperties ir.IRObject

	// RemoteRelationships holds links to records that were not present
	// locally when this record was decoded, keyed by relationship field.
	RemoteRelationships map[string]RecordID
}

// VersionIdentifier returns the confirmed version identifier, or nil.
func (lr *LocalRecord) VersionIdentifier() *string {
	if lr == nil {
		return nil
	}
	return versionIdentifier(lr.Version)
}

// RemoteFile returns the descriptor for the given file identifier.
func (lr *LocalRecord) RemoteFile(identifier string) (RemoteFile, bool) {
	for _, f := range lr.RemoteFiles {
		if f.Identifier == identifier {
			return f, true
		}
	}
	return RemoteFile{}, false
}

// SetRemoteFiles replaces the file set, keeping the identifier order stable.
// A later descriptor for the same identifier replaces an earlier one.
func (lr *LocalRecord) SetRemoteFiles(files []RemoteFile) {
	byID := make(map[string]RemoteFile, len(files))
	for _, f := range files {
		byID[f.Identifier] = f
	}
	out := make([]RemoteFile, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	sortRemoteFiles(out)
	lr.RemoteFiles = out
}

// Clone returns a deep copy.
func (lr *LocalRecord) Clone() *LocalRecord {
	if lr == nil {
		return nil
	}
	out := *lr
	if lr.Version != nil {
		v := *lr.Version
		out.Version = &v
	}
	out.RemoteFiles = slices.Clone(lr.RemoteFiles)
	out.AdditionalProperties = lr.AdditionalProperties.Clone()
	if lr.RemoteRelationships != nil {
		out.RemoteRelationships = make(map[string]RecordID, len(lr.RemoteRelationships))
		for k, v := range lr.RemoteRelationships {
			out.RemoteRelationships[k] = v
		}
	}
	return &out
}

func sortRemoteFiles(files []RemoteFile) {
	slices.SortFunc(files, func(a, b RemoteFile) int {
		return strings.Compare(a.Identifier, b.Identifier)
	})
}
