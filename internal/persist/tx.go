package persist

import (
	"fmt"
	"maps"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// Tx is a unit of work against a Container. Writes are buffered until
// Commit. A Tx is not safe for concurrent use.
type Tx struct {
	c      *Container
	cc     *CommitContext
	author string

	reads    map[ObjectID]*Object
	working  map[ObjectID]*Object
	inserted map[ObjectID]bool
	deleted  map[ObjectID]bool
	modified map[ObjectID]bool
	order    []ObjectID

	// changes tracks fields changed since the last Flush.
	changes map[ObjectID]map[string]struct{}

	done bool
}

// TxOption configures a Tx.
type TxOption func(*Tx)

// WithAuthor tags the transaction so observers can recognize their own writes.
func WithAuthor(author string) TxOption {
	return func(tx *Tx) {
		tx.author = author
	}
}

// Begin starts a transaction.
func (c *Container) Begin(opts ...TxOption) *Tx {
	tx := &Tx{
		c:        c,
		reads:    make(map[ObjectID]*Object),
		working:  make(map[ObjectID]*Object),
		inserted: make(map[ObjectID]bool),
		deleted:  make(map[ObjectID]bool),
		modified: make(map[ObjectID]bool),
		changes:  make(map[ObjectID]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(tx)
	}
	tx.cc = newCommitContext(tx)
	return tx
}

// Author returns the tag set with WithAuthor.
func (tx *Tx) Author() string {
	return tx.author
}

// Insert adds a new object and returns its id.
func (tx *Tx) Insert(entity string, fields ir.IRObject) (ObjectID, error) {
	if tx.done {
		return "", ErrTxDone
	}
	id := newObjectID(tx.c.id, entity, tx.c.newID())
	obj := &Object{
		ID:            id,
		Entity:        entity,
		Fields:        fields.Clone(),
		Relationships: map[string]ObjectID{},
	}
	if obj.Fields == nil {
		obj.Fields = ir.IRObject{}
	}
	tx.working[id] = obj
	tx.inserted[id] = true
	tx.order = append(tx.order, id)
	return id, nil
}

// Get returns the transaction's view of an object.
func (tx *Tx) Get(id ObjectID) (*Object, bool) {
	if tx.deleted[id] {
		return nil, false
	}
	if o, ok := tx.working[id]; ok {
		return o.Clone(), true
	}
	return tx.c.Object(id)
}

// Lookup finds an object by natural key, including objects inserted by this
// transaction.
func (tx *Tx) Lookup(rid record.RecordID) (*Object, bool) {
	for _, id := range tx.order {
		o := tx.working[id]
		if o == nil || tx.deleted[id] {
			continue
		}
		if got, ok := tx.c.recordID(o); ok && got == rid {
			return o.Clone(), true
		}
	}
	o, ok := tx.c.Lookup(rid)
	if !ok || tx.deleted[o.ID] {
		return nil, false
	}
	return o, true
}

// RecordID returns the natural key of an object as this transaction sees it.
func (tx *Tx) RecordID(id ObjectID) (record.RecordID, bool) {
	o, ok := tx.Get(id)
	if !ok {
		return record.RecordID{}, false
	}
	return tx.c.recordID(o)
}

// touch loads an object into the working set.
func (tx *Tx) touch(id ObjectID) (*Object, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if tx.deleted[id] {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if o, ok := tx.working[id]; ok {
		return o, nil
	}
	o, ok := tx.c.Object(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	tx.reads[id] = o.Clone()
	tx.working[id] = o
	tx.order = append(tx.order, id)
	return o, nil
}

func (tx *Tx) markChanged(id ObjectID, keys ...string) {
	tx.modified[id] = true
	if tx.inserted[id] {
		return
	}
	set, ok := tx.changes[id]
	if !ok {
		set = make(map[string]struct{})
		tx.changes[id] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// Set writes a field. Writing the value a field already holds is not a change.
func (tx *Tx) Set(id ObjectID, key string, value ir.IRValue) error {
	o, err := tx.touch(id)
	if err != nil {
		return err
	}
	if ir.Equal(o.Fields[key], value) {
		return nil
	}
	if value == nil {
		delete(o.Fields, key)
	} else {
		o.Fields[key] = ir.CloneValue(value)
	}
	tx.markChanged(id, key)
	return nil
}

// SetRelationship points a relationship field at target. An empty target
// clears the relationship.
func (tx *Tx) SetRelationship(id ObjectID, key string, target ObjectID) error {
	o, err := tx.touch(id)
	if err != nil {
		return err
	}
	if o.Relationships[key] == target {
		return nil
	}
	if target == "" {
		delete(o.Relationships, key)
	} else {
		o.Relationships[key] = target
	}
	tx.markChanged(id, key)
	return nil
}

// Touch marks fields as changed without writing them, for state that lives
// outside the container such as file contents.
func (tx *Tx) Touch(id ObjectID, keys ...string) error {
	if _, err := tx.touch(id); err != nil {
		return err
	}
	tx.markChanged(id, keys...)
	return nil
}

// Delete removes an object.
func (tx *Tx) Delete(id ObjectID) error {
	if _, err := tx.touch(id); err != nil {
		return err
	}
	tx.deleted[id] = true
	delete(tx.changes, id)
	return nil
}

// HasChanges reports whether Commit would write anything.
func (tx *Tx) HasChanges() bool {
	return len(tx.inserted) > 0 || len(tx.deleted) > 0 || len(tx.modified) > 0
}

// Flush delivers the changes made so far to observers and resets change
// tracking. Observers that need the full set for the commit must union what
// they see here with what WillCommit shows them.
func (tx *Tx) Flush() {
	if tx.done || len(tx.changes) == 0 {
		return
	}
	for _, o := range tx.c.observerList() {
		o.ObjectsChanged(tx.cc)
	}
	tx.changes = make(map[ObjectID]map[string]struct{})
}

// Rollback discards the transaction.
func (tx *Tx) Rollback() {
	tx.done = true
}

type write struct {
	id     ObjectID
	obj    *Object // nil deletes
	insert bool
}

// Commit applies the transaction.
//
// Racing updates and inserts that duplicate an existing RecordID are
// resolved by the merge policy. Writes to objects deleted by a concurrent
// commit are discarded.
func (tx *Tx) Commit() (CommitResult, error) {
	if tx.done {
		return CommitResult{}, ErrTxDone
	}

	observers := tx.c.observerList()
	for _, o := range observers {
		o.WillCommit(tx.cc)
	}

	c := tx.c
	c.commitMu.Lock()
	c.mu.Lock()

	result := CommitResult{DeletedRecords: make(map[ObjectID]record.RecordID)}
	writes, err := tx.plan(&result)
	if err != nil {
		c.mu.Unlock()
		c.commitMu.Unlock()
		return CommitResult{}, err
	}
	tx.apply(writes)

	c.mu.Unlock()
	c.commitMu.Unlock()

	tx.done = true
	tx.changes = make(map[ObjectID]map[string]struct{})

	for _, o := range observers {
		o.DidCommit(tx.cc, result)
	}
	return result, nil
}

// plan computes the final writes. Must be called with c.mu held.
func (tx *Tx) plan(result *CommitResult) ([]write, error) {
	c := tx.c
	var writes []write

	for _, id := range tx.order {
		switch {
		case tx.deleted[id]:
			if tx.inserted[id] {
				continue
			}
			cur, ok := c.objects[id]
			if !ok {
				continue
			}
			if rid, keyed := c.recordID(cur); keyed {
				result.DeletedRecords[id] = rid
			}
			writes = append(writes, write{id: id})
			result.Deleted = append(result.Deleted, id)

		case tx.inserted[id]:
			obj := tx.working[id].Clone()
			rid, keyed := c.recordID(obj)
			existingID, dup := c.index[rid]
			if !keyed || !dup {
				obj.version = 1
				writes = append(writes, write{id: id, obj: obj, insert: true})
				result.Inserted = append(result.Inserted, id)
				continue
			}

			existing := c.objects[existingID]
			res, err := c.policy.Resolve(merge.Conflict{
				Kind:      merge.KindEntity,
				Key:       rid.String(),
				Persisted: existing.Fields,
				Pending:   obj.Fields,
			})
			if err != nil {
				return nil, fmt.Errorf("merge duplicate %s: %w", rid, err)
			}

			merged := existing.Clone()
			merged.Fields = res.Value
			maps.Copy(merged.Relationships, obj.Relationships)
			merged.version = existing.version + 1
			writes = append(writes, write{id: existingID, obj: merged})

			tx.cc.Union(existingID, changedFields(existing.Fields, merged.Fields)...)
			result.Updated = append(result.Updated, existingID)
			if result.Merged == nil {
				result.Merged = make(map[ObjectID]ObjectID)
			}
			result.Merged[id] = existingID
			c.logger.Debug("merged duplicate insert", "record_id", rid, "object", existingID)

		case tx.modified[id]:
			cur, ok := c.objects[id]
			if !ok {
				c.logger.Debug("discarding write to deleted object", "object", id)
				continue
			}
			obj := tx.working[id].Clone()
			snapshot := tx.reads[id]
			if cur.version != snapshot.version {
				res, err := c.policy.Resolve(merge.Conflict{
					Kind:      merge.KindEntity,
					Key:       string(id),
					Snapshot:  snapshot.Fields,
					Persisted: cur.Fields,
					Pending:   obj.Fields,
				})
				if err != nil {
					return nil, fmt.Errorf("merge %s: %w", id, err)
				}
				obj.Fields = res.Value
				obj.Relationships = mergeRelationships(snapshot.Relationships, cur.Relationships, obj.Relationships)
			}
			obj.version = cur.version + 1
			writes = append(writes, write{id: id, obj: obj})
			result.Updated = append(result.Updated, id)
		}
	}
	return writes, nil
}

// apply installs planned writes. Must be called with c.mu held.
func (tx *Tx) apply(writes []write) {
	c := tx.c
	for _, w := range writes {
		if old, ok := c.objects[w.id]; ok {
			if rid, keyed := c.recordID(old); keyed && c.index[rid] == w.id {
				delete(c.index, rid)
			}
		}
		if w.obj == nil {
			delete(c.objects, w.id)
			continue
		}
		c.objects[w.id] = w.obj
		if rid, keyed := c.recordID(w.obj); keyed {
			if other, taken := c.index[rid]; taken && other != w.id {
				c.logger.Warn("record id already indexed", "record_id", rid, "object", w.id, "existing", other)
				continue
			}
			c.index[rid] = w.id
		}
	}
}

func changedFields(before, after ir.IRObject) []string {
	var keys []string
	for k, v := range after {
		if !ir.Equal(before[k], v) {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// mergeRelationships applies writer-trumps to relationship maps.
func mergeRelationships(snapshot, persisted, pending map[string]ObjectID) map[string]ObjectID {
	out := maps.Clone(persisted)
	if out == nil {
		out = map[string]ObjectID{}
	}
	for k, v := range pending {
		if snapshot[k] != v {
			out[k] = v
		}
	}
	for k := range snapshot {
		if _, ok := pending[k]; !ok {
			delete(out, k)
		}
	}
	return out
}
