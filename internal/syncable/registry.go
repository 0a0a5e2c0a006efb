package syncable

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
)

// FileField declares a blob whose path is stored in a string field.
type FileField struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Field      string `json:"field" yaml:"field"`
}

// EntityType declares how an entity participates in syncing.
type EntityType struct {
	Name       string
	PrimaryKey string

	// Keys are the trackable fields.
	Keys  []string
	Files []FileField

	// Relationships maps each relationship field to its target entity.
	Relationships map[string]string

	// Syncable is false for entities that are stored alongside syncable
	// ones but never tracked.
	Syncable bool

	// NameField holds the localized display name, if any.
	NameField string

	// EnabledField is a bool field that can switch syncing off per object.
	// Objects without it, or with a non-bool value, are enabled.
	EnabledField string

	// Metadata maps remote metadata keys to the fields that supply them.
	Metadata map[string]string

	// Resolution is applied by conflict arbitration.
	Resolution record.ConflictResolution
}

// Validate checks the declaration for internal consistency.
func (t *EntityType) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("entity type: missing name")
	}
	if t.PrimaryKey == "" {
		return fmt.Errorf("entity %s: missing primary key", t.Name)
	}
	seen := make(map[string]bool)
	for _, k := range t.Keys {
		if k == "" {
			return fmt.Errorf("entity %s: empty key", t.Name)
		}
		if seen[k] {
			return fmt.Errorf("entity %s: duplicate key %q", t.Name, k)
		}
		seen[k] = true
	}
	for field := range t.Relationships {
		if seen[field] {
			return fmt.Errorf("entity %s: %q is both a key and a relationship", t.Name, field)
		}
	}
	files := make(map[string]bool)
	for _, f := range t.Files {
		if f.Identifier == "" || f.Field == "" {
			return fmt.Errorf("entity %s: file needs identifier and field", t.Name)
		}
		if files[f.Identifier] {
			return fmt.Errorf("entity %s: duplicate file %q", t.Name, f.Identifier)
		}
		files[f.Identifier] = true
	}
	return nil
}

// HasKey reports whether key is trackable.
func (t *EntityType) HasKey(key string) bool {
	return slices.Contains(t.Keys, key)
}

// Registry maps entity names to their declarations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*EntityType
	root  string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFilesRoot sets the directory relative file paths are resolved against.
func WithFilesRoot(root string) RegistryOption {
	return func(r *Registry) {
		r.root = root
	}
}

// NewRegistry creates a registry holding types.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{types: make(map[string]*EntityType)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an entity type.
func (r *Registry) Register(t *EntityType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.Name]; ok {
		return fmt.Errorf("entity %s: already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister is like Register but panics on error.
// Use only in tests or with declarations known to be valid.
func (r *Registry) MustRegister(types ...*EntityType) *Registry {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Type returns the declaration for name.
func (r *Registry) Type(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns every declaration, sorted by name.
func (r *Registry) Types() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *EntityType) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return out
}

// PrimaryKey implements persist.Schema.
func (r *Registry) PrimaryKey(entity string) (string, bool) {
	t, ok := r.Type(entity)
	if !ok {
		return "", false
	}
	return t.PrimaryKey, true
}

// FilesRoot returns the directory relative file paths resolve against.
func (r *Registry) FilesRoot() string {
	return r.root
}

// SyncableType returns the declaration for a syncable entity, or the
// validation error explaining why name cannot be synced.
func (r *Registry) SyncableType(name string) (*EntityType, error) {
	t, ok := r.Type(name)
	if !ok {
		return nil, record.NewUnknownRecordTypeError(name)
	}
	if !t.Syncable {
		return nil, record.NewNonSyncableError(name)
	}
	return t, nil
}

// Bind wraps a stored object as a read-only Syncable.
func (r *Registry) Bind(obj *persist.Object, resolver Resolver) (*Object, error) {
	t, err := r.SyncableType(obj.Entity)
	if err != nil {
		return nil, err
	}
	return &Object{typ: t, obj: obj, resolver: resolver, root: r.root}, nil
}

// BindTx wraps an object inside tx as a Decodable. Writes go through tx.
func (r *Registry) BindTx(tx *persist.Tx, id persist.ObjectID) (*Object, error) {
	obj, ok := tx.Get(id)
	if !ok {
		return nil, fmt.Errorf("bind %s: %w", id, persist.ErrNotFound)
	}
	o, err := r.Bind(obj, tx)
	if err != nil {
		return nil, err
	}
	o.tx = tx
	return o, nil
}
