package record

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// RemoteRecord is the engine's record of an entity's last known remote state.
type RemoteRecord struct {
	// Identifier is remote-assigned and distinct from the RecordID.
	Identifier string
	ID         RecordID

	Status  Status
	Version Version

	// IsLocked marks Version as immutable; further local changes must be
	// written as a new version. PreviousUnlockedVersion keeps the history.
	IsLocked                bool
	PreviousUnlockedVersion *Version

	Author        string
	LocalizedName string
	SHA1Hash      string

	// Metadata holds application keys the engine does not interpret.
	Metadata map[string]string
}

// NewRemoteRecord builds a RemoteRecord from a remote listing entry.
//
// The metadata map must carry harmony_recordedObjectType and
// harmony_recordedObjectIdentifier. Reserved keys are interpreted; all other
// keys are kept in Metadata.
func NewRemoteRecord(identifier, versionIdentifier string, versionDate time.Time, metadata map[string]string, status Status) (*RemoteRecord, error) {
	recordType, ok := Lookup(metadata, KeyRecordedObjectType)
	if !ok {
		return nil, NewInvalidMetadataError(string(KeyRecordedObjectType), metadata)
	}
	recordIdentifier, ok := Lookup(metadata, KeyRecordedObjectIdentifier)
	if !ok {
		return nil, NewInvalidMetadataError(string(KeyRecordedObjectIdentifier), metadata)
	}

	rr := &RemoteRecord{
		Identifier: identifier,
		ID:         NewRecordID(recordType, recordIdentifier),
		Status:     status,
		Version:    Version{Identifier: versionIdentifier, Date: versionDate},
		Metadata:   ApplicationMetadata(metadata),
	}

	if locked, ok := Lookup(metadata, KeyIsLocked); ok {
		rr.IsLocked = locked == "true"
	}

	prevID, hasPrevID := Lookup(metadata, KeyPreviousVersionIdentifier)
	prevDate, hasPrevDate := Lookup(metadata, KeyPreviousVersionDate)
	if hasPrevID && hasPrevDate {
		date, err := parseUnixSeconds(prevDate)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyPreviousVersionDate, err)
		}
		rr.PreviousUnlockedVersion = &Version{Identifier: prevID, Date: date}
	}

	rr.Author, _ = Lookup(metadata, KeyAuthor)
	rr.LocalizedName, _ = Lookup(metadata, KeyLocalizedName)
	rr.SHA1Hash, _ = Lookup(metadata, KeySHA1Hash)

	return rr, nil
}

// SetLocked toggles the lock flag. Locking remembers the current version as
// the previous unlocked version; unlocking forgets it.
func (rr *RemoteRecord) SetLocked(locked bool) {
	rr.IsLocked = locked
	if locked {
		v := rr.Version
		rr.PreviousUnlockedVersion = &v
	} else {
		rr.PreviousUnlockedVersion = nil
	}
}

// VersionIdentifier returns the version identifier, or nil when rr is nil.
func (rr *RemoteRecord) VersionIdentifier() *string {
	if rr == nil {
		return nil
	}
	id := rr.Version.Identifier
	return &id
}

// MetadataMap renders the record back into a remote metadata map,
// reserved keys included.
func (rr *RemoteRecord) MetadataMap() map[string]string {
	out := make(map[string]string, len(rr.Metadata)+8)
	for k, v := range rr.Metadata {
		out[k] = v
	}
	out[string(KeyRecordedObjectType)] = rr.ID.Type
	out[string(KeyRecordedObjectIdentifier)] = rr.ID.Identifier
	out[string(KeySHA1Hash)] = rr.SHA1Hash
	if rr.IsLocked {
		out[string(KeyIsLocked)] = "true"
	}
	if rr.PreviousUnlockedVersion != nil {
		out[string(KeyPreviousVersionIdentifier)] = rr.PreviousUnlockedVersion.Identifier
		out[string(KeyPreviousVersionDate)] = strconv.FormatInt(rr.PreviousUnlockedVersion.Date.Unix(), 10)
	}
	if rr.Author != "" {
		out[string(KeyAuthor)] = rr.Author
	}
	if rr.LocalizedName != "" {
		out[string(KeyLocalizedName)] = rr.LocalizedName
	}
	return out
}

// Clone returns a deep copy.
func (rr *RemoteRecord) Clone() *RemoteRecord {
	if rr == nil {
		return nil
	}
	out := *rr
	if rr.PreviousUnlockedVersion != nil {
		v := *rr.PreviousUnlockedVersion
		out.PreviousUnlockedVersion = &v
	}
	if rr.Metadata != nil {
		out.Metadata = make(map[string]string, len(rr.Metadata))
		for k, v := range rr.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// parseUnixSeconds parses a seconds-since-epoch value, fractional or not.
func parseUnixSeconds(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
