package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/progress"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

// VersionFetcher retrieves the payload of one remote version of a record.
// It is supplied by the transport layer.
type VersionFetcher func(ctx context.Context, id record.RecordID, version record.Version) (*record.Payload, error)

// SetSyncingEnabled turns syncing on or off for a tracked record.
func (c *Controller) SetSyncingEnabled(ctx context.Context, id record.RecordID, enabled bool) error {
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.ManagedRecord(ctx, id)
		if err != nil {
			return err
		}
		if m.IsSyncingEnabled == enabled {
			return nil
		}
		m.IsSyncingEnabled = enabled
		tx.SaveManaged(m)
		return nil
	})
	return opError("set syncing enabled", id, err)
}

// ApplyRemote records the remote state reported by a coordinator. The
// managed record is created if this is the first side to appear.
func (c *Controller) ApplyRemote(ctx context.Context, rr *record.RemoteRecord) error {
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.ManagedRecord(ctx, rr.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.SaveRemote(rr)
		return nil
	})
	return opError("apply remote", rr.ID, err)
}

// MarkUploaded records a successful upload: rr is the version the remote
// now holds, and both sides become normal on that version.
func (c *Controller) MarkUploaded(ctx context.Context, rr *record.RemoteRecord) error {
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.ManagedRecord(ctx, rr.ID)
		if err != nil {
			return err
		}
		if m.IsConflicted {
			return ErrConflicted
		}
		if m.Local == nil {
			return errors.New("no local record")
		}

		remote := rr.Clone()
		remote.Status = record.StatusNormal
		if remote.SHA1Hash == "" {
			remote.SHA1Hash = m.Local.SHA1Hash
		}
		version := remote.Version
		m.Local.Version = &version
		m.Local.Status = record.StatusNormal
		m.Remote = remote
		tx.Save(m)
		return nil
	})
	return opError("mark uploaded", rr.ID, err)
}

// MarkDownloaded records that the remote version was decoded locally.
func (c *Controller) MarkDownloaded(ctx context.Context, id record.RecordID) error {
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.ManagedRecord(ctx, id)
		if err != nil {
			return err
		}
		if m.IsConflicted {
			return ErrConflicted
		}
		if m.Local == nil || m.Remote == nil {
			return errors.New("record is missing a side")
		}
		version := m.Remote.Version
		m.Local.Version = &version
		m.Local.Status = record.StatusNormal
		m.Remote.Status = record.StatusNormal
		tx.Save(m)
		return nil
	})
	return opError("mark downloaded", id, err)
}

// UploadPayload encodes the payload to transmit for a tracked record.
func (c *Controller) UploadPayload(ctx context.Context, id record.RecordID) (*record.Payload, error) {
	m, err := c.store.ManagedRecord(ctx, id)
	if err != nil {
		return nil, opError("upload payload", id, err)
	}
	if m.Local == nil {
		return nil, opError("upload payload", id, errors.New("no local record"))
	}
	obj, ok := c.entityFor(m)
	if !ok {
		return nil, opError("upload payload", id, persist.ErrNotFound)
	}
	e, err := c.registry.Bind(obj, c.container)
	if err != nil {
		return nil, opError("upload payload", id, err)
	}
	p, err := syncable.EncodeUpload(m.Local, e)
	return p, opError("upload payload", id, err)
}

// staged is a payload written into an uncommitted container transaction.
type staged struct {
	id         persist.ObjectID
	inserted   bool
	entity     *syncable.Object
	additional ir.IRObject
	pending    map[string]record.RecordID
}

// stagePayload looks up or speculatively inserts the payload's entity in
// ptx and writes the payload into it. The caller commits or rolls back.
func (c *Controller) stagePayload(ptx *persist.Tx, p *record.Payload) (*staged, error) {
	typ, err := c.registry.SyncableType(p.Type)
	if err != nil {
		return nil, err
	}
	if p.Identifier == "" {
		return nil, record.NewMissingIdentifierError(p.Type)
	}

	s := &staged{}
	if obj, ok := ptx.Lookup(p.ID()); ok {
		s.id = obj.ID
	} else {
		s.id, err = ptx.Insert(typ.Name, ir.IRObject{typ.PrimaryKey: ir.IRString(p.Identifier)})
		if err != nil {
			return nil, err
		}
		s.inserted = true
	}

	if s.entity, err = c.registry.BindTx(ptx, s.id); err != nil {
		return nil, err
	}
	if s.additional, err = syncable.ApplyPayload(s.entity, p); err != nil {
		return nil, err
	}
	if s.pending, err = syncable.ApplyRelationships(s.entity, p.Relationships); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode writes a downloaded payload into its entity, creating the entity
// if needed, and records the local side as normal with sha1Hash. The hash
// is taken as given: relationships may still be pending, so a recomputed
// hash would be wrong.
//
// The local record is written before the entity. Any failure leaves both
// the container and the record store unchanged.
func (c *Controller) Decode(ctx context.Context, p *record.Payload, sha1Hash string) (*record.ManagedRecord, error) {
	id := p.ID()

	ptx := c.container.Begin(persist.WithAuthor(Author))
	s, err := c.stagePayload(ptx, p)
	if err != nil {
		ptx.Rollback()
		return nil, opError("decode", id, err)
	}

	var m, prev *record.ManagedRecord
	_, err = c.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.ManagedRecord(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if cur == nil {
			cur = record.NewManagedRecord(id)
		} else {
			prev = cur.Clone()
		}
		lr := cur.Local
		if lr == nil {
			lr = &record.LocalRecord{ID: id}
		}
		lr.Locator = s.id.String()
		lr.Status = record.StatusNormal
		lr.ModificationDate = c.now()
		lr.SHA1Hash = sha1Hash
		lr.AdditionalProperties = s.additional
		lr.RemoteRelationships = s.pending
		lr.SetRemoteFiles(p.ValidFiles())
		cur.Local = lr
		tx.SaveLocal(lr)
		m = cur
		return nil
	})
	if err != nil {
		ptx.Rollback()
		return nil, opError("decode", id, err)
	}

	result, err := ptx.Commit()
	if err != nil {
		c.revertRecord(ctx, id, prev)
		return nil, opError("decode", id, err)
	}
	objID := s.id
	if merged, ok := result.Merged[objID]; ok {
		objID = merged
		c.relocate(ctx, m, merged)
	}

	if s.inserted {
		c.watchFiles(objID)
		c.scheduleRelationshipResolution()
	}
	c.logger.Debug("decoded record", "record", id.String(), "inserted", s.inserted, "pending_relationships", len(s.pending))
	return m, nil
}

// revertRecord puts a record back the way it was before a write whose
// entity commit then failed. A nil prev means the record did not exist.
func (c *Controller) revertRecord(ctx context.Context, id record.RecordID, prev *record.ManagedRecord) {
	ctx = context.WithoutCancel(ctx)
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.ManagedRecord(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if prev == nil {
			tx.Purge(id)
			return nil
		}
		tx.Save(prev)
		if prev.Local == nil {
			tx.DropLocal(id)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("reverting record", "record", id.String(), "error", err)
	}
}

// relocate points m's locator at the entity a speculative insert merged
// into.
func (c *Controller) relocate(ctx context.Context, m *record.ManagedRecord, obj persist.ObjectID) {
	m.Local.Locator = obj.String()
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.ManagedRecord(ctx, m.ID)
		if err != nil {
			return err
		}
		if cur.Local == nil {
			return nil
		}
		cur.Local.Locator = obj.String()
		tx.SaveLocal(cur.Local)
		return nil
	})
	if err != nil {
		c.logger.Warn("relocating merged entity", "record", m.ID.String(), "object", obj.String(), "error", err)
	}
}

// scheduleRelationshipResolution links relationships that may have been
// waiting for an entity the controller itself inserted.
func (c *Controller) scheduleRelationshipResolution() {
	err := c.enqueue(job{
		name: "resolve relationships",
		lane: laneIngestion,
		run:  c.resolveRelationships,
	})
	if err != nil {
		c.logger.Debug("skipping relationship resolution", "error", err)
	}
}

// ArbitrateConflicts applies each entity's conflict policy to the records
// whose refined action is conflict. Records the policy can't settle are
// flagged as conflicted. Returns the number of records examined.
func (c *Controller) ArbitrateConflicts(ctx context.Context) (int, error) {
	records, err := c.recordsNeeding(ctx, record.ActionConflict)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	_, err = c.store.Update(ctx, func(tx *store.Tx) error {
		for _, m := range records {
			cur, err := tx.ManagedRecord(ctx, m.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			resolution := record.ResolveConflict
			if obj, ok := c.entityFor(cur); ok {
				if e, err := c.registry.Bind(obj, c.container); err == nil {
					resolution = syncable.Resolution(e, cur)
				}
			}

			action := record.Arbitrate(resolution, cur.Local, cur.Remote)
			switch action {
			case record.ActionUpload:
				cur.Local.Status = record.StatusUpdated
				cur.Remote.Status = record.StatusNormal
				version := cur.Remote.Version
				cur.Local.Version = &version
			case record.ActionDownload:
				cur.Local.Status = record.StatusNormal
				cur.Remote.Status = record.StatusUpdated
			default:
				cur.IsConflicted = true
			}
			tx.Save(cur)

			c.logger.Info("arbitrated conflict",
				"record", cur.ID.String(),
				"resolution", resolution.String(),
				"action", action.String(),
			)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("arbitrate conflicts: %w", err)
	}
	return len(records), nil
}

// KeepLocal resolves a conflict in favour of the local state: the local
// record is rebased on the remote head and marked updated so it is
// uploaded again. Cancelling the handle before the commit leaves the
// record untouched.
func (c *Controller) KeepLocal(ctx context.Context, id record.RecordID) *progress.Progress {
	p := progress.New(ctx, 1)
	go func() {
		p.Finish(opError("keep local", id, c.keepLocal(p, id)))
	}()
	return p
}

func (c *Controller) keepLocal(p *progress.Progress, id record.RecordID) error {
	ctx := p.Context()
	if p.IsCancelled() {
		return progress.ErrCancelled
	}

	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.ManagedRecord(ctx, id)
		if err != nil {
			return err
		}
		if m.Local == nil {
			return errors.New("no local record")
		}
		c.rebaseLocal(m)
		if p.IsCancelled() {
			return progress.ErrCancelled
		}
		tx.Save(m)
		return nil
	})
	if err != nil {
		return err
	}
	p.Add(1)
	return nil
}

// RestoreVersion replaces the local entity with a remote version fetched
// through fetch, then marks the record updated on top of the remote head.
// Cancelling the handle before the commit leaves both the entity and the
// record untouched.
func (c *Controller) RestoreVersion(ctx context.Context, id record.RecordID, version record.Version, fetch VersionFetcher) *progress.Progress {
	p := progress.New(ctx, 2)
	go func() {
		p.Finish(opError("restore", id, c.restore(p, id, version, fetch)))
	}()
	return p
}

func (c *Controller) restore(p *progress.Progress, id record.RecordID, version record.Version, fetch VersionFetcher) error {
	ctx := p.Context()
	if _, err := c.store.ManagedRecord(ctx, id); err != nil {
		return err
	}

	payload, err := fetch(ctx, id, version)
	if err != nil {
		return fmt.Errorf("fetch version %s: %w", version.Identifier, err)
	}
	if payload.ID() != id {
		return fmt.Errorf("fetched payload is for %s", payload.ID())
	}
	p.Add(1)
	if p.IsCancelled() {
		return progress.ErrCancelled
	}

	ptx := c.container.Begin(persist.WithAuthor(Author))
	s, err := c.stagePayload(ptx, payload)
	if err != nil {
		ptx.Rollback()
		return err
	}

	var m, prev *record.ManagedRecord
	_, err = c.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.ManagedRecord(ctx, id)
		if err != nil {
			return err
		}
		m, prev = cur, cur.Clone()
		lr := m.Local
		if lr == nil {
			lr = &record.LocalRecord{ID: id}
			m.Local = lr
		}
		lr.Locator = s.id.String()
		lr.AdditionalProperties = s.additional
		lr.RemoteRelationships = s.pending
		lr.SetRemoteFiles(payload.ValidFiles())
		if _, err := syncable.Rehash(lr, s.entity); err != nil {
			return err
		}
		c.rebaseLocal(m)
		if p.IsCancelled() {
			return progress.ErrCancelled
		}
		tx.Save(m)
		return nil
	})
	if err != nil {
		ptx.Rollback()
		return err
	}

	result, err := ptx.Commit()
	if err != nil {
		c.revertRecord(ctx, id, prev)
		return err
	}
	if merged, ok := result.Merged[s.id]; ok {
		c.relocate(ctx, m, merged)
	}
	p.Add(1)
	c.logger.Info("restored version", "record", id.String(), "version", version.Identifier)
	return nil
}

// rebaseLocal clears the conflict flag and marks the local side updated on
// top of the remote head, so the next sync uploads it.
func (c *Controller) rebaseLocal(m *record.ManagedRecord) {
	m.IsConflicted = false
	m.Local.Status = record.StatusUpdated
	m.Local.ModificationDate = c.now()
	if m.Remote != nil {
		version := m.Remote.Version
		m.Local.Version = &version
		m.Remote.Status = record.StatusNormal
	}
}

// Account returns the account for a remote service.
func (c *Controller) Account(ctx context.Context, service string) (*record.ManagedAccount, error) {
	return c.store.Account(ctx, service)
}

// SaveAccount stores a's identity and change token. A concurrent write
// can never clear a token that was already recorded; only Reset does that.
func (c *Controller) SaveAccount(ctx context.Context, a *record.ManagedAccount) error {
	_, err := c.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.Account(ctx, a.ServiceIdentifier); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.SaveAccount(a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ServiceIdentifier, err)
	}
	return nil
}
