package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("store: transaction already committed or rolled back")

// Tx buffers writes against the store. Reads made through the Tx remember
// the row versions they saw; at commit, a row whose version moved is a race
// and is handed to the merge policy instead of being overwritten.
type Tx struct {
	s *Store

	reads  map[rowKey]readState
	writes map[rowKey]ir.IRObject
	purges map[record.RecordID]struct{}
	drops  map[record.RecordID]struct{}
	done   bool
}

type readState struct {
	version  int64
	snapshot ir.IRObject
}

// Begin starts a transaction.
func (s *Store) Begin() *Tx {
	return &Tx{
		s:      s,
		reads:  make(map[rowKey]readState),
		writes: make(map[rowKey]ir.IRObject),
		purges: make(map[record.RecordID]struct{}),
		drops:  make(map[record.RecordID]struct{}),
	}
}

// Update runs fn in a transaction and commits it. The transaction is rolled
// back when fn fails.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) ([]record.RecordID, error) {
	tx := s.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx.Commit(ctx)
}

func localKey(id record.RecordID) rowKey   { return rowKey{kind: merge.KindLocalRecord, id: id} }
func remoteKey(id record.RecordID) rowKey  { return rowKey{kind: merge.KindRemoteRecord, id: id} }
func managedKey(id record.RecordID) rowKey { return rowKey{kind: merge.KindManagedRecord, id: id} }
func accountKey(service string) rowKey     { return rowKey{kind: merge.KindAccount, service: service} }

func (tx *Tx) remember(key rowKey, version int64, snapshot ir.IRObject) {
	if _, ok := tx.reads[key]; ok {
		return
	}
	tx.reads[key] = readState{version: version, snapshot: snapshot}
}

// ManagedRecord reads a managed record and remembers what was seen.
func (tx *Tx) ManagedRecord(ctx context.Context, id record.RecordID) (*record.ManagedRecord, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	m, versions, err := loadManagedRecord(ctx, tx.s.db, id)
	if err != nil {
		return nil, err
	}

	var managedSnap, localSnap, remoteSnap ir.IRObject
	if m != nil {
		managedSnap = managedToIR(managedFlags{IsConflicted: m.IsConflicted, IsSyncingEnabled: m.IsSyncingEnabled})
		if m.Local != nil {
			localSnap = localToIR(m.Local)
		}
		if m.Remote != nil {
			remoteSnap = remoteToIR(m.Remote)
		}
	}
	tx.remember(managedKey(id), versions.managed, managedSnap)
	tx.remember(localKey(id), versions.local, localSnap)
	tx.remember(remoteKey(id), versions.remote, remoteSnap)

	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

// Account reads an account and remembers what was seen.
func (tx *Tx) Account(ctx context.Context, service string) (*record.ManagedAccount, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	obj, version, err := loadAccountRow(ctx, tx.s.db, service)
	if err != nil {
		return nil, err
	}
	tx.remember(accountKey(service), version, obj)
	if version == 0 {
		return nil, ErrNotFound
	}
	return accountFromIR(service, obj)
}

// Save queues the managed record's flags and whichever sides it has.
func (tx *Tx) Save(m *record.ManagedRecord) {
	tx.SaveManaged(m)
	if m.Local != nil {
		tx.SaveLocal(m.Local)
	}
	if m.Remote != nil {
		tx.SaveRemote(m.Remote)
	}
}

// SaveManaged queues only the managed record's flags.
func (tx *Tx) SaveManaged(m *record.ManagedRecord) {
	tx.writes[managedKey(m.ID)] = managedToIR(managedFlags{
		IsConflicted:     m.IsConflicted,
		IsSyncingEnabled: m.IsSyncingEnabled,
	})
}

// SaveLocal queues a local record write. The managed row is created if needed.
func (tx *Tx) SaveLocal(lr *record.LocalRecord) {
	tx.writes[localKey(lr.ID)] = localToIR(lr)
}

// SaveRemote queues a remote record write. The managed row is created if needed.
func (tx *Tx) SaveRemote(rr *record.RemoteRecord) {
	tx.writes[remoteKey(rr.ID)] = remoteToIR(rr)
}

// SaveAccount queues an account write.
func (tx *Tx) SaveAccount(a *record.ManagedAccount) {
	tx.writes[accountKey(a.ServiceIdentifier)] = accountToIR(a)
}

// Purge queues deletion of a managed record and everything it owns.
// Pending writes for the same record are dropped. A purge is skipped at
// commit if any of the record's rows changed since this Tx read them.
func (tx *Tx) Purge(id record.RecordID) {
	tx.purges[id] = struct{}{}
	delete(tx.writes, managedKey(id))
	delete(tx.writes, localKey(id))
	delete(tx.writes, remoteKey(id))
}

// DropLocal queues deletion of a record's local side and its remote files.
// The managed record and its remote side stay. Like a purge, the drop is
// skipped at commit if the local row changed since this Tx read it.
func (tx *Tx) DropLocal(id record.RecordID) {
	tx.drops[id] = struct{}{}
	delete(tx.writes, localKey(id))
}

// Rollback discards the transaction.
func (tx *Tx) Rollback() {
	tx.done = true
}

// Commit applies the buffered writes atomically and returns the ids of the
// records it touched. Races are resolved through the merge policy; a
// context-level conflict aborts the whole commit.
func (tx *Tx) Commit(ctx context.Context) ([]record.RecordID, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	tx.done = true
	if len(tx.writes) == 0 && len(tx.purges) == 0 && len(tx.drops) == 0 {
		return nil, nil
	}

	s := tx.s
	s.commitMu.Lock()
	ids, err := tx.apply(ctx)
	s.commitMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notify(ids)
	return ids, nil
}

func (tx *Tx) apply(ctx context.Context) ([]record.RecordID, error) {
	s := tx.s
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("commit: begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	changed := make(map[record.RecordID]struct{})

	purges := make([]record.RecordID, 0, len(tx.purges))
	for id := range tx.purges {
		purges = append(purges, id)
	}
	slices.SortFunc(purges, compareRecordIDs)

	for _, id := range purges {
		current, versions, err := loadManagedRecord(ctx, sqlTx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			continue
		}
		expected := rowVersions{
			managed: tx.reads[managedKey(id)].version,
			local:   tx.reads[localKey(id)].version,
			remote:  tx.reads[remoteKey(id)].version,
		}
		changed[id] = struct{}{}
		if versions != expected {
			s.logger.Info("skipping purge of record changed since read", "record", id.String())
			continue
		}
		if err := purgeManaged(ctx, sqlTx, id); err != nil {
			return nil, err
		}
	}

	drops := make([]record.RecordID, 0, len(tx.drops))
	for id := range tx.drops {
		if _, purged := tx.purges[id]; !purged {
			drops = append(drops, id)
		}
	}
	slices.SortFunc(drops, compareRecordIDs)

	for _, id := range drops {
		_, version, err := loadLocalRow(ctx, sqlTx, id)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			continue
		}
		changed[id] = struct{}{}
		if version != tx.reads[localKey(id)].version {
			s.logger.Info("skipping drop of local record changed since read", "record", id.String())
			continue
		}
		if err := deleteLocal(ctx, sqlTx, id); err != nil {
			return nil, err
		}
	}

	for _, key := range tx.sortedWrites() {
		pending := tx.writes[key]
		current, version, err := loadRow(ctx, sqlTx, key)
		if err != nil {
			return nil, err
		}
		read := tx.reads[key]

		value := pending
		race := version != read.version
		// Account rows are always arbitrated against the stored row so the
		// change token cannot silently regress.
		if race || (key.kind == merge.KindAccount && version != 0) {
			snapshot := read.snapshot
			if !race {
				snapshot = current
			}
			res, err := s.policy.Resolve(merge.Conflict{
				Kind:      key.kind,
				Key:       key.String(),
				Snapshot:  snapshot,
				Persisted: current,
				Pending:   pending,
			})
			if err != nil {
				return nil, fmt.Errorf("commit %s: %w", key, err)
			}
			if race {
				s.logger.Debug("write race arbitrated",
					"key", key.String(),
					"read_version", read.version,
					"stored_version", version)
			}
			value = res.Value
			for _, orphan := range res.Orphans {
				if err := deleteFile(ctx, sqlTx, key.id, orphan); err != nil {
					return nil, err
				}
			}
			if len(res.Reload) > 0 {
				s.logger.Debug("reloading remote files", "key", key.String(), "files", res.Reload)
			}
		}

		if err := writeRow(ctx, sqlTx, key, value); err != nil {
			return nil, err
		}
		if key.kind != merge.KindAccount {
			changed[key.id] = struct{}{}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	ids := make([]record.RecordID, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareRecordIDs)
	return ids, nil
}

var kindOrder = map[merge.Kind]int{
	merge.KindManagedRecord: 0,
	merge.KindLocalRecord:   1,
	merge.KindRemoteRecord:  2,
	merge.KindAccount:       3,
}

// sortedWrites orders managed rows before the rows that reference them.
func (tx *Tx) sortedWrites() []rowKey {
	keys := make([]rowKey, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b rowKey) int {
		if a.kind != b.kind {
			return kindOrder[a.kind] - kindOrder[b.kind]
		}
		if c := compareRecordIDs(a.id, b.id); c != 0 {
			return c
		}
		return strings.Compare(a.service, b.service)
	})
	return keys
}

func compareRecordIDs(a, b record.RecordID) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.Identifier, b.Identifier)
}
