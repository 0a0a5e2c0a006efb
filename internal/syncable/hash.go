package syncable

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/record"
)

// recordValues collects trackable values plus any additional properties
// that don't collide with a trackable key.
func recordValues(e Syncable, additional ir.IRObject) ir.IRObject {
	values := make(ir.IRObject, len(e.SyncableKeys())+len(additional))
	keys := make(map[string]struct{}, len(e.SyncableKeys()))
	for _, k := range e.SyncableKeys() {
		keys[k] = struct{}{}
		if v, ok := e.SyncableValue(k); ok {
			values[k] = v
		}
	}
	for k, v := range additional {
		if _, ok := keys[k]; ok {
			continue
		}
		values[k] = v
	}
	return values
}

func relationshipValues(e Syncable) ir.IRObject {
	out := ir.IRObject{}
	for field, id := range e.SyncableRelationships() {
		if id == nil {
			continue
		}
		out[field] = ir.IRObject{
			"type":       ir.IRString(id.Type),
			"identifier": ir.IRString(id.Identifier),
		}
	}
	return out
}

// LocalHash digests the entity's current local state: trackable values,
// additional properties, relationships, and the SHA-1 of each file's bytes
// on disk. Files that don't exist are left out.
func LocalHash(e Syncable, additional ir.IRObject) (string, error) {
	identifier, ok := e.SyncableIdentifier()
	if !ok {
		return "", record.NewMissingIdentifierError(e.SyncableType())
	}

	files := ir.IRObject{}
	for _, f := range e.SyncableFiles() {
		data, err := os.ReadFile(f.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("hash file %s: %w", f.Identifier, err)
		}
		files[f.Identifier] = ir.IRString(ir.DataHash(data))
	}

	hash, err := ir.ContentHash(ir.IRObject{
		"type":          ir.IRString(e.SyncableType()),
		"identifier":    ir.IRString(identifier),
		"record":        recordValues(e, additional),
		"relationships": relationshipValues(e),
		"files":         files,
	})
	if err != nil {
		return "", fmt.Errorf("hash %s-%s: %w", e.SyncableType(), identifier, err)
	}
	return hash, nil
}

// NewLocalRecord creates a Local Record with status normal for e.
func NewLocalRecord(e Syncable, locator string, now time.Time) (*record.LocalRecord, error) {
	if !e.IsSyncingEnabled() {
		return nil, record.NewNonSyncableError(e.SyncableType())
	}
	identifier, ok := e.SyncableIdentifier()
	if !ok {
		return nil, record.NewMissingIdentifierError(e.SyncableType())
	}

	hash, err := LocalHash(e, nil)
	if err != nil {
		return nil, err
	}
	return &record.LocalRecord{
		ID:               record.NewRecordID(e.SyncableType(), identifier),
		Locator:          locator,
		Status:           record.StatusNormal,
		ModificationDate: now,
		SHA1Hash:         hash,
	}, nil
}

// Rehash recomputes lr's hash from e and reports whether it changed.
func Rehash(lr *record.LocalRecord, e Syncable) (bool, error) {
	hash, err := LocalHash(e, lr.AdditionalProperties)
	if err != nil {
		return false, err
	}
	if hash == lr.SHA1Hash {
		return false, nil
	}
	lr.SHA1Hash = hash
	return true, nil
}

// EncodeUpload builds the payload transmitted for lr. It carries the
// already-known remote file descriptors and lr's stored hash instead of
// reading file bytes.
func EncodeUpload(lr *record.LocalRecord, e Syncable) (*record.Payload, error) {
	identifier, ok := e.SyncableIdentifier()
	if !ok {
		return nil, record.NewMissingIdentifierError(e.SyncableType())
	}

	relationships := make(map[string]record.RecordID)
	for field, id := range e.SyncableRelationships() {
		if id != nil {
			relationships[field] = *id
		}
	}

	hash := lr.SHA1Hash
	return &record.Payload{
		Type:          e.SyncableType(),
		Identifier:    identifier,
		Record:        recordValues(e, lr.AdditionalProperties),
		Files:         append([]record.RemoteFile(nil), lr.RemoteFiles...),
		Relationships: relationships,
		SHA1Hash:      &hash,
	}, nil
}

// ApplyPayload writes a payload's trackable values into d and returns the
// values d does not declare, to be kept as additional properties.
// Relationships are not applied here; see ApplyRelationships.
func ApplyPayload(d Decodable, p *record.Payload) (ir.IRObject, error) {
	keys := make(map[string]struct{}, len(d.SyncableKeys()))
	for _, k := range d.SyncableKeys() {
		keys[k] = struct{}{}
	}

	var additional ir.IRObject
	for _, k := range p.Record.SortedKeys() {
		v := p.Record[k]
		if _, ok := keys[k]; !ok {
			if additional == nil {
				additional = ir.IRObject{}
			}
			additional[k] = v
			continue
		}
		if err := d.SetSyncableValue(k, v); err != nil {
			return nil, err
		}
	}
	return additional, nil
}

// ApplyRelationships links every relationship whose target exists and
// returns the ones that must wait for their target to arrive.
func ApplyRelationships(d Decodable, relationships map[string]record.RecordID) (map[string]record.RecordID, error) {
	var pending map[string]record.RecordID
	for field, id := range relationships {
		err := d.SetSyncableRelationship(field, &id)
		if errors.Is(err, ErrRelationshipNotFound) {
			if pending == nil {
				pending = make(map[string]record.RecordID)
			}
			pending[field] = id
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return pending, nil
}
