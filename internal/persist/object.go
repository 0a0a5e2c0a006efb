package persist

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/harmony/internal/ir"
)

// ObjectID is a store-scoped locator for a host entity:
//
//	x-harmony://<container uuid>/<entity>/<object uuid>
//
// Records keep ObjectIDs instead of pointers and resolve them on demand.
type ObjectID string

const scheme = "x-harmony://"

func newObjectID(container uuid.UUID, entity string, id uuid.UUID) ObjectID {
	return ObjectID(fmt.Sprintf("%s%s/%s/%s", scheme, container, entity, id))
}

// ParseObjectID validates a locator string.
func ParseObjectID(s string) (ObjectID, error) {
	rest, ok := strings.CutPrefix(s, scheme)
	if !ok {
		return "", fmt.Errorf("object id %q: missing %s scheme", s, scheme)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("object id %q: want container/entity/uuid", s)
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return "", fmt.Errorf("object id %q: container: %w", s, err)
	}
	if _, err := uuid.Parse(parts[2]); err != nil {
		return "", fmt.Errorf("object id %q: object: %w", s, err)
	}
	return ObjectID(s), nil
}

// Entity returns the entity name embedded in the locator.
func (id ObjectID) Entity() string {
	parts := strings.Split(strings.TrimPrefix(string(id), scheme), "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// String returns the locator.
func (id ObjectID) String() string {
	return string(id)
}

// Object is a host entity held by a Container.
//
// Objects handed out by a Container or Tx are copies; mutate them only
// through a Tx.
type Object struct {
	ID     ObjectID
	Entity string

	Fields        ir.IRObject
	Relationships map[string]ObjectID

	version int64
}

// Value returns a field value. Null and missing fields report false.
func (o *Object) Value(key string) (ir.IRValue, bool) {
	v, ok := o.Fields[key]
	if !ok {
		return nil, false
	}
	if _, null := v.(ir.IRNull); null {
		return nil, false
	}
	return v, true
}

// String returns a string field, or "" when it is absent or not a string.
func (o *Object) String(key string) string {
	if s, ok := o.Fields[key].(ir.IRString); ok {
		return string(s)
	}
	return ""
}

// Relationship returns the object a relationship field points at.
func (o *Object) Relationship(key string) (ObjectID, bool) {
	id, ok := o.Relationships[key]
	return id, ok && id != ""
}

// Version is incremented on every committed change.
func (o *Object) Version() int64 {
	return o.version
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	out := *o
	out.Fields = o.Fields.Clone()
	if out.Fields == nil {
		out.Fields = ir.IRObject{}
	}
	out.Relationships = maps.Clone(o.Relationships)
	if out.Relationships == nil {
		out.Relationships = map[string]ObjectID{}
	}
	return &out
}
