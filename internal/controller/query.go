package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

func boolPtr(b bool) *bool { return &b }

// FetchConflicted returns every record flagged as conflicted.
func (c *Controller) FetchConflicted(ctx context.Context) ([]*record.ManagedRecord, error) {
	records, err := c.store.ManagedRecords(ctx, store.Filter{Conflicted: boolPtr(true)})
	if err != nil {
		return nil, fmt.Errorf("fetch conflicted: %w", err)
	}
	return records, nil
}

// FetchRecords returns the managed records of the given entities. Entities
// that are untracked or no longer exist are skipped.
func (c *Controller) FetchRecords(ctx context.Context, ids []persist.ObjectID) ([]*record.ManagedRecord, error) {
	records := make([]*record.ManagedRecord, 0, len(ids))
	seen := make(map[record.RecordID]struct{}, len(ids))
	for _, id := range ids {
		rid, ok := c.container.RecordID(id)
		if !ok {
			continue
		}
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}

		m, err := c.store.ManagedRecord(ctx, rid)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch records: %w", err)
		}
		records = append(records, m)
	}
	return records, nil
}

// RecordsNeedingUpload returns syncable records whose refined action is upload.
func (c *Controller) RecordsNeedingUpload(ctx context.Context) ([]*record.ManagedRecord, error) {
	return c.recordsNeeding(ctx, record.ActionUpload)
}

// RecordsNeedingDownload returns syncable records whose refined action is download.
func (c *Controller) RecordsNeedingDownload(ctx context.Context) ([]*record.ManagedRecord, error) {
	return c.recordsNeeding(ctx, record.ActionDownload)
}

// RecordsNeedingDeletion returns syncable records whose refined action is delete.
func (c *Controller) RecordsNeedingDeletion(ctx context.Context) ([]*record.ManagedRecord, error) {
	return c.recordsNeeding(ctx, record.ActionDelete)
}

// RecordsNeedingResolution returns syncable records whose refined action is
// conflict but which are not flagged yet.
func (c *Controller) RecordsNeedingResolution(ctx context.Context) ([]*record.ManagedRecord, error) {
	return c.recordsNeeding(ctx, record.ActionConflict)
}

// RecordsNeeding returns syncable records whose refined action is action.
func (c *Controller) RecordsNeeding(ctx context.Context, action record.SyncAction) ([]*record.ManagedRecord, error) {
	return c.recordsNeeding(ctx, action)
}

func (c *Controller) recordsNeeding(ctx context.Context, action record.SyncAction) ([]*record.ManagedRecord, error) {
	records, err := c.syncableRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("records needing %s: %w", action, err)
	}

	var out []*record.ManagedRecord
	for _, m := range records {
		if m.SyncAction() == action {
			out = append(out, m)
		}
	}
	return out, nil
}

// syncableRecords loads every syncable record with local hashes refreshed.
func (c *Controller) syncableRecords(ctx context.Context) ([]*record.ManagedRecord, error) {
	records, err := c.store.ManagedRecords(ctx, store.Filter{
		Conflicted:     boolPtr(false),
		SyncingEnabled: boolPtr(true),
	})
	if err != nil {
		return nil, err
	}
	if err := c.refreshHashes(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// refreshHashes recomputes the local hash of every live record so a hash
// left stale by a missed rehash is not mistaken for remote divergence.
// Drifted hashes are written back. A normal record whose fresh hash no
// longer matches the remote side changed locally without a tracked
// notification, so it is moved to updated the same way ingestion would.
// Records still waiting on relationships keep the hash they were decoded
// with.
func (c *Controller) refreshHashes(ctx context.Context, records []*record.ManagedRecord) error {
	type drift struct {
		hash    string
		object  persist.ObjectID
		updated bool
	}

	now := c.now()
	drifted := make(map[record.RecordID]drift)
	for _, m := range records {
		lr := m.Local
		if lr == nil || lr.Status == record.StatusDeleted || len(lr.RemoteRelationships) > 0 {
			continue
		}
		obj, ok := c.entityFor(m)
		if !ok {
			continue
		}
		e, err := c.registry.Bind(obj, c.container)
		if err != nil {
			continue
		}
		changed, err := syncable.Rehash(lr, e)
		if err != nil {
			c.logger.Warn("rehashing local record", "record", m.ID.String(), "error", err)
			continue
		}
		if !changed {
			continue
		}
		d := drift{hash: lr.SHA1Hash, object: obj.ID}
		if lr.Status == record.StatusNormal && (m.Remote == nil || m.Remote.SHA1Hash != lr.SHA1Hash) {
			d.updated = true
			lr.Status = record.StatusUpdated
			lr.ModificationDate = now
		}
		drifted[m.ID] = d
	}
	if len(drifted) == 0 {
		return nil
	}

	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		for id, d := range drifted {
			m, err := tx.ManagedRecord(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if m.Local == nil {
				continue
			}
			if d.updated && m.Local.Status == record.StatusNormal {
				if err := c.transition(ctx, tx, d.object, record.StatusUpdated, now); err != nil {
					return err
				}
				continue
			}
			m.Local.SHA1Hash = d.hash
			tx.SaveLocal(m.Local)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist refreshed hashes: %w", err)
	}
	c.logger.Debug("refreshed drifted local hashes", "records", len(drifted))
	return nil
}
