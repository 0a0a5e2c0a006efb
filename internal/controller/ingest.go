package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

// commitBatch is what the processing loop needs from one host commit.
// It is captured on the committing goroutine because the CommitContext
// does not outlive the transaction.
type commitBatch struct {
	inserted []persist.ObjectID
	updated  []persist.ObjectID
	changed  map[persist.ObjectID][]string
	deleted  []record.RecordID

	// notified skips change-field validation for updated objects.
	notified bool
}

var (
	_ persist.Observer     = (*Controller)(nil)
	_ store.ChangeObserver = (*Controller)(nil)
)

// WillCommit snapshots the changed fields of every object in the
// transaction before change tracking is reset.
func (c *Controller) WillCommit(cc *persist.CommitContext) {
	if cc.Author() == Author {
		return
	}
	for id, keys := range cc.Pending() {
		cc.Union(id, keys...)
	}
}

// ObjectsChanged re-unions fields flushed before the final commit.
func (c *Controller) ObjectsChanged(cc *persist.CommitContext) {
	if cc.Author() == Author {
		return
	}
	for id, keys := range cc.Pending() {
		cc.Union(id, keys...)
	}
}

// DidCommit hands the committed changes to the processing loop.
func (c *Controller) DidCommit(cc *persist.CommitContext, result persist.CommitResult) {
	if cc.Author() == Author || result.IsEmpty() {
		return
	}

	batch := commitBatch{
		inserted: slices.Clone(result.Inserted),
		updated:  slices.Clone(result.Updated),
		changed:  make(map[persist.ObjectID][]string, len(result.Updated)),
	}
	for _, id := range result.Updated {
		batch.changed[id] = cc.Changed(id)
	}
	for _, id := range result.Deleted {
		if rid, ok := result.DeletedRecords[id]; ok {
			batch.deleted = append(batch.deleted, rid)
		}
	}

	err := c.enqueue(job{
		name: "ingest commit",
		lane: laneIngestion,
		run: func(ctx context.Context) error {
			return c.ingest(ctx, batch)
		},
	})
	if err != nil {
		c.logger.Warn("dropping commit", "inserted", len(batch.inserted), "updated", len(batch.updated),
			"deleted", len(batch.deleted), "error", err)
	}
}

// RecordsChanged schedules managed-record upkeep for records the record
// store just committed.
func (c *Controller) RecordsChanged(ids []record.RecordID) {
	if len(ids) == 0 {
		return
	}
	ids = slices.Clone(ids)
	err := c.enqueue(job{
		name: "update managed records",
		lane: laneMaintenance,
		run: func(ctx context.Context) error {
			return c.updateManagedRecords(ctx, ids)
		},
	})
	if err != nil {
		c.logger.Debug("skipping managed record update", "records", len(ids), "error", err)
	}
}

// NotifyChanged marks the entity updated without consulting which fields
// changed, for mutations the container cannot see such as file contents.
func (c *Controller) NotifyChanged(id persist.ObjectID) error {
	batch := commitBatch{updated: []persist.ObjectID{id}, notified: true}
	return c.enqueue(job{
		name: "notify changed",
		lane: laneIngestion,
		run: func(ctx context.Context) error {
			return c.ingest(ctx, batch)
		},
	})
}

// ingest applies one batch of status transitions. Runs on the processing
// loop only.
func (c *Controller) ingest(ctx context.Context, batch commitBatch) error {
	now := c.now()

	if len(batch.inserted) > 0 {
		if err := c.resolveRelationships(ctx); err != nil {
			c.logger.Error("resolving pending relationships", "error", err)
		}
	}

	tx := c.store.Begin()
	for _, id := range batch.inserted {
		if err := c.transition(ctx, tx, id, record.StatusNormal, now); err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, id := range batch.updated {
		if !batch.notified && !c.isTrackableChange(id, batch.changed[id]) {
			c.logger.Debug("ignoring untracked change", "object", id.String(), "fields", batch.changed[id])
			continue
		}
		if err := c.transition(ctx, tx, id, record.StatusUpdated, now); err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, rid := range batch.deleted {
		m, err := tx.ManagedRecord(ctx, rid)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("ingest delete %s: %w", rid, err)
		}
		if m.Local == nil || m.Local.Status == record.StatusDeleted {
			continue
		}
		m.Local.Status = record.StatusDeleted
		m.Local.ModificationDate = now
		tx.SaveLocal(m.Local)
	}

	ids, err := tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if len(ids) > 0 {
		c.logger.Debug("ingested commit", "records", len(ids))
	}

	for _, id := range batch.inserted {
		c.watchFiles(id)
	}
	if !batch.notified {
		for _, id := range batch.updated {
			c.watchFiles(id)
		}
	}
	return nil
}

func (c *Controller) isTrackableChange(id persist.ObjectID, changed []string) bool {
	obj, ok := c.container.Object(id)
	if !ok {
		return false
	}
	e, err := c.registry.Bind(obj, c.container)
	if err != nil {
		return false
	}
	return syncable.IsTrackable(e, changed)
}

// transition creates or updates the local record of a live entity.
// Entities that are not syncable, have no identifier yet, or have syncing
// disabled are skipped.
func (c *Controller) transition(ctx context.Context, tx *store.Tx, id persist.ObjectID, status record.Status, now time.Time) error {
	obj, ok := c.container.Object(id)
	if !ok {
		return nil
	}
	e, err := c.registry.Bind(obj, c.container)
	if err != nil {
		return nil
	}
	identifier, ok := e.SyncableIdentifier()
	if !ok || !e.IsSyncingEnabled() {
		return nil
	}

	rid := record.NewRecordID(e.SyncableType(), identifier)
	m, err := tx.ManagedRecord(ctx, rid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("transition %s: %w", rid, err)
	}

	if m == nil || m.Local == nil {
		lr, err := syncable.NewLocalRecord(e, id.String(), now)
		if err != nil {
			c.logger.Warn("cannot track entity", "record", rid.String(), "error", err)
			return nil
		}
		lr.Status = status
		tx.SaveLocal(lr)
		return nil
	}

	lr := m.Local
	if lr.Status != status {
		lr.Status = status
		lr.ModificationDate = now
	}
	lr.Locator = id.String()
	if _, err := syncable.Rehash(lr, e); err != nil {
		return fmt.Errorf("transition %s: %w", rid, err)
	}
	tx.SaveLocal(lr)
	return nil
}

// resolveRelationships links relationships that were waiting for their
// target entity to arrive locally.
func (c *Controller) resolveRelationships(ctx context.Context) error {
	records, err := c.store.PendingRelationships(ctx)
	if err != nil {
		return err
	}

	for _, m := range records {
		resolvable := make(map[string]record.RecordID)
		for field, target := range m.Local.RemoteRelationships {
			if _, ok := c.container.Lookup(target); ok {
				resolvable[field] = target
			}
		}
		if len(resolvable) == 0 {
			continue
		}
		if err := c.linkRelationships(ctx, m, resolvable); err != nil {
			c.logger.Warn("linking relationships", "record", m.ID.String(), "error", err)
		}
	}
	return nil
}

func (c *Controller) linkRelationships(ctx context.Context, m *record.ManagedRecord, resolvable map[string]record.RecordID) error {
	obj, ok := c.entityFor(m)
	if !ok {
		return nil
	}

	ptx := c.container.Begin(persist.WithAuthor(Author))
	d, err := c.registry.BindTx(ptx, obj.ID)
	if err != nil {
		ptx.Rollback()
		return err
	}
	for _, field := range sortedKeys(resolvable) {
		target := resolvable[field]
		if err := d.SetSyncableRelationship(field, &target); err != nil {
			ptx.Rollback()
			return err
		}
	}
	if _, err := ptx.Commit(); err != nil {
		return err
	}

	_, err = c.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.ManagedRecord(ctx, m.ID)
		if err != nil {
			return err
		}
		if current.Local == nil {
			return nil
		}
		for field := range resolvable {
			delete(current.Local.RemoteRelationships, field)
		}
		if len(current.Local.RemoteRelationships) == 0 {
			current.Local.RemoteRelationships = nil
		}
		tx.SaveLocal(current.Local)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Debug("linked pending relationships", "record", m.ID.String(), "fields", len(resolvable))
	return nil
}

// updateManagedRecords purges records deleted on both sides. Runs on the
// processing loop only.
func (c *Controller) updateManagedRecords(ctx context.Context, ids []record.RecordID) error {
	tx := c.store.Begin()
	purged := 0
	for _, id := range ids {
		m, err := tx.ManagedRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("update managed %s: %w", id, err)
		}
		if m.ShouldPurge() {
			tx.Purge(id)
			purged++
		}
	}
	if purged == 0 {
		tx.Rollback()
		return nil
	}
	if _, err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("purge deleted records: %w", err)
	}
	c.logger.Info("purged records deleted on both sides", "records", purged)
	return nil
}

// entityFor resolves the live entity behind a managed record, preferring
// the stored locator and falling back to the natural key.
func (c *Controller) entityFor(m *record.ManagedRecord) (*persist.Object, bool) {
	if m.Local != nil && m.Local.Locator != "" {
		if id, err := persist.ParseObjectID(m.Local.Locator); err == nil {
			if obj, ok := c.container.Object(id); ok {
				return obj, true
			}
		}
	}
	return c.container.Lookup(m.ID)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
