package persist

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// ErrNotFound is returned when an ObjectID does not resolve.
var ErrNotFound = errors.New("object not found")

// ErrTxDone is returned when a committed or rolled back Tx is used again.
var ErrTxDone = errors.New("transaction already finished")

// Schema tells a Container which field holds each entity's natural
// identifier. Entities without a primary key are not indexed by RecordID.
type Schema interface {
	PrimaryKey(entity string) (string, bool)
}

// Container is the host application's object store: an id→object table
// plus a RecordID index, mutated only through transactions.
//
// Commits are serialized. Observers are called synchronously on the
// committing goroutine.
type Container struct {
	id     uuid.UUID
	schema Schema
	policy *merge.Policy
	logger *slog.Logger
	newID  func() uuid.UUID

	commitMu sync.Mutex

	mu      sync.RWMutex
	objects map[ObjectID]*Object
	index   map[record.RecordID]ObjectID

	obsMu     sync.RWMutex
	observers []Observer
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the container's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) {
		c.logger = l
	}
}

// WithMergePolicy sets the policy used for duplicate inserts and racing
// transactions.
func WithMergePolicy(p *merge.Policy) Option {
	return func(c *Container) {
		c.policy = p
	}
}

// WithUUIDGenerator overrides UUIDv7 generation, for deterministic tests.
// The first generated value becomes the container id.
func WithUUIDGenerator(gen func() uuid.UUID) Option {
	return func(c *Container) {
		c.newID = gen
	}
}

// NewContainer creates an empty container.
func NewContainer(schema Schema, opts ...Option) *Container {
	c := &Container{
		schema:  schema,
		logger:  slog.Default(),
		newID:   mustNewV7,
		objects: make(map[ObjectID]*Object),
		index:   make(map[record.RecordID]ObjectID),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = merge.NewPolicy(merge.WithLogger(c.logger))
	}
	c.id = c.newID()
	return c
}

func mustNewV7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the system random source is broken.
		panic("uuid.NewV7 failed: " + err.Error())
	}
	return id
}

// ID returns the container's id, embedded in every ObjectID it issues.
func (c *Container) ID() uuid.UUID {
	return c.id
}

// AddObserver registers o for commit lifecycle callbacks.
func (c *Container) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Container) observerList() []Observer {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return slices.Clone(c.observers)
}

// Object resolves an ObjectID. The returned object is a copy.
func (c *Container) Object(id ObjectID) (*Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.objects[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Lookup finds an object by natural key.
func (c *Container) Lookup(rid record.RecordID) (*Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.index[rid]
	if !ok {
		return nil, false
	}
	return c.objects[id].Clone(), true
}

// RecordID returns the natural key of a stored object.
func (c *Container) RecordID(id ObjectID) (record.RecordID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.objects[id]
	if !ok {
		return record.RecordID{}, false
	}
	return c.recordID(o)
}

// All returns copies of every object, ordered by ObjectID.
func (c *Container) All() []*Object {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Object, 0, len(c.objects))
	for _, o := range c.objects {
		out = append(out, o.Clone())
	}
	slices.SortFunc(out, func(a, b *Object) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Len returns the number of stored objects.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

func (c *Container) recordID(o *Object) (record.RecordID, bool) {
	if c.schema == nil {
		return record.RecordID{}, false
	}
	pk, ok := c.schema.PrimaryKey(o.Entity)
	if !ok {
		return record.RecordID{}, false
	}
	identifier := o.String(pk)
	if identifier == "" {
		return record.RecordID{}, false
	}
	return record.NewRecordID(o.Entity, identifier), true
}
