package syncable

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
)

// ErrReadOnly is returned when writing through an Object bound outside a Tx.
var ErrReadOnly = errors.New("object is bound read-only")

// ErrRelationshipNotFound is returned when a relationship target does not
// exist locally yet.
var ErrRelationshipNotFound = errors.New("relationship target not found")

// Resolver turns ObjectIDs into natural keys. Both persist.Container and
// persist.Tx implement it.
type Resolver interface {
	RecordID(id persist.ObjectID) (record.RecordID, bool)
}

// Object adapts a stored object to the Syncable capability using its
// EntityType declaration.
type Object struct {
	typ      *EntityType
	obj      *persist.Object
	resolver Resolver
	root     string
	tx       *persist.Tx
}

var (
	_ Decodable        = (*Object)(nil)
	_ ConflictResolver = (*Object)(nil)
)

// ObjectID returns the underlying object's locator.
func (o *Object) ObjectID() persist.ObjectID {
	return o.obj.ID
}

// Type returns the entity declaration.
func (o *Object) Type() *EntityType {
	return o.typ
}

func (o *Object) SyncableType() string {
	return o.typ.Name
}

func (o *Object) SyncableIdentifier() (string, bool) {
	id := o.obj.String(o.typ.PrimaryKey)
	return id, id != ""
}

func (o *Object) SyncableKeys() []string {
	return o.typ.Keys
}

func (o *Object) SyncableValue(key string) (ir.IRValue, bool) {
	return o.obj.Value(key)
}

func (o *Object) SyncableFiles() []File {
	files := make([]File, 0, len(o.typ.Files))
	for _, f := range o.typ.Files {
		path := o.obj.String(f.Field)
		if path == "" {
			continue
		}
		if !filepath.IsAbs(path) && o.root != "" {
			path = filepath.Join(o.root, path)
		}
		files = append(files, File{Identifier: f.Identifier, Path: path})
	}
	return files
}

func (o *Object) SyncableFileFields() []string {
	fields := make([]string, len(o.typ.Files))
	for i, f := range o.typ.Files {
		fields[i] = f.Field
	}
	return fields
}

func (o *Object) SyncableRelationships() map[string]*record.RecordID {
	out := make(map[string]*record.RecordID, len(o.typ.Relationships))
	for field := range o.typ.Relationships {
		out[field] = nil
		target, ok := o.obj.Relationship(field)
		if !ok || o.resolver == nil {
			continue
		}
		if rid, ok := o.resolver.RecordID(target); ok {
			out[field] = &rid
		}
	}
	return out
}

func (o *Object) SyncableLocalizedName() string {
	if o.typ.NameField == "" {
		return ""
	}
	return o.obj.String(o.typ.NameField)
}

func (o *Object) SyncableMetadata() map[string]string {
	out := make(map[string]string, len(o.typ.Metadata))
	for key, field := range o.typ.Metadata {
		if v := o.obj.String(field); v != "" {
			out[key] = v
		}
	}
	return out
}

func (o *Object) IsSyncingEnabled() bool {
	if o.typ.EnabledField == "" {
		return true
	}
	if b, ok := o.obj.Fields[o.typ.EnabledField].(ir.IRBool); ok {
		return bool(b)
	}
	return true
}

func (o *Object) ResolveConflict(*record.ManagedRecord) record.ConflictResolution {
	return o.typ.Resolution
}

func (o *Object) SetSyncableValue(key string, value ir.IRValue) error {
	if o.tx == nil {
		return ErrReadOnly
	}
	if err := o.tx.Set(o.obj.ID, key, value); err != nil {
		return fmt.Errorf("set %s.%s: %w", o.typ.Name, key, err)
	}
	if value == nil {
		delete(o.obj.Fields, key)
	} else {
		o.obj.Fields[key] = value
	}
	return nil
}

func (o *Object) SetSyncableRelationship(key string, id *record.RecordID) error {
	if o.tx == nil {
		return ErrReadOnly
	}
	if _, ok := o.typ.Relationships[key]; !ok {
		return fmt.Errorf("set %s.%s: not a relationship", o.typ.Name, key)
	}

	var target persist.ObjectID
	if id != nil {
		obj, ok := o.tx.Lookup(*id)
		if !ok {
			return fmt.Errorf("set %s.%s -> %s: %w", o.typ.Name, key, id, ErrRelationshipNotFound)
		}
		target = obj.ID
	}
	if err := o.tx.SetRelationship(o.obj.ID, key, target); err != nil {
		return fmt.Errorf("set %s.%s: %w", o.typ.Name, key, err)
	}
	if target == "" {
		delete(o.obj.Relationships, key)
	} else {
		o.obj.Relationships[key] = target
	}
	return nil
}
