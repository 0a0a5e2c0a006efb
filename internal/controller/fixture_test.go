package controller

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
	"github.com/roach88/harmony/internal/testutil"
)

func testRegistry(root string) *syncable.Registry {
	return syncable.NewRegistry(syncable.WithFilesRoot(root)).MustRegister(
		&syncable.EntityType{
			Name:         "Game",
			PrimaryKey:   "identifier",
			Keys:         []string{"name"},
			Files:        []syncable.FileField{{Identifier: "game", Field: "filename"}},
			Syncable:     true,
			NameField:    "name",
			EnabledField: "syncEnabled",
			Resolution:   record.ResolveNewest,
		},
		&syncable.EntityType{
			Name:          "SaveState",
			PrimaryKey:    "identifier",
			Keys:          []string{"name"},
			Relationships: map[string]string{"game": "Game"},
			Syncable:      true,
			Resolution:    record.ResolveRemote,
		},
		&syncable.EntityType{
			Name:       "Cheat",
			PrimaryKey: "identifier",
			Keys:       []string{"code"},
			Syncable:   true,
		},
		&syncable.EntityType{
			Name:       "Cache",
			PrimaryKey: "identifier",
		},
	)
}

// fixture wires a container, a record store and a controller whose
// processing loop runs until the test ends.
type fixture struct {
	t         *testing.T
	ctx       context.Context
	dir       string
	clock     *testutil.FixedClock
	registry  *syncable.Registry
	container *persist.Container
	store     *store.Store
	c         *Controller
}

func newFixture(t *testing.T) *fixture {
	f := newIdleFixture(t)
	go func() { _ = f.c.Run(f.ctx) }()
	return f
}

// newIdleFixture is newFixture without the processing loop.
func newIdleFixture(t *testing.T) *fixture {
	t.Helper()
	f := newDetachedFixture(t)
	f.attach()
	return f
}

// newDetachedFixture builds everything but the controller, so tests can
// populate the container before anything observes it.
func newDetachedFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(filepath.Join(dir, "records.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := testRegistry(dir)
	return &fixture{
		t:        t,
		ctx:      ctx,
		dir:      dir,
		clock:    testutil.NewFixedClock(time.Time{}),
		registry: reg,
		container: persist.NewContainer(reg,
			persist.WithLogger(logger),
			persist.WithUUIDGenerator(testutil.NewSequentialLocators().Next),
		),
		store: s,
	}
}

func (f *fixture) attach() {
	f.c = New(f.container, f.store, f.registry,
		WithClock(f.clock.Now),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
}

func (f *fixture) insert(entity string, fields ir.IRObject) persist.ObjectID {
	f.t.Helper()
	tx := f.container.Begin()
	id, err := tx.Insert(entity, fields)
	require.NoError(f.t, err)
	_, err = tx.Commit()
	require.NoError(f.t, err)
	return id
}

func (f *fixture) set(id persist.ObjectID, key string, value ir.IRValue) {
	f.t.Helper()
	tx := f.container.Begin()
	require.NoError(f.t, tx.Set(id, key, value))
	_, err := tx.Commit()
	require.NoError(f.t, err)
}

func (f *fixture) delete(id persist.ObjectID) {
	f.t.Helper()
	tx := f.container.Begin()
	require.NoError(f.t, tx.Delete(id))
	_, err := tx.Commit()
	require.NoError(f.t, err)
}

func (f *fixture) writeFile(name string, data []byte) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, name), data, 0o600))
}

// settle waits for the processing loop to drain.
func (f *fixture) settle() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.c.ProcessPendingUpdates(ctx))
}

func (f *fixture) managed(recordType, identifier string) *record.ManagedRecord {
	f.t.Helper()
	m, err := f.store.ManagedRecord(f.ctx, record.NewRecordID(recordType, identifier))
	require.NoError(f.t, err)
	return m
}

func (f *fixture) requireNoRecord(recordType, identifier string) {
	f.t.Helper()
	_, err := f.store.ManagedRecord(f.ctx, record.NewRecordID(recordType, identifier))
	require.ErrorIs(f.t, err, store.ErrNotFound)
}

func (f *fixture) object(recordType, identifier string) *persist.Object {
	f.t.Helper()
	obj, ok := f.container.Lookup(record.NewRecordID(recordType, identifier))
	require.True(f.t, ok, "object %s-%s should exist", recordType, identifier)
	return obj
}

// remote builds a remote record whose version is dated at the given time.
func remote(recordType, identifier string, status record.Status, version string, date time.Time) *record.RemoteRecord {
	return &record.RemoteRecord{
		Identifier: "remote-" + identifier,
		ID:         record.NewRecordID(recordType, identifier),
		Status:     status,
		Version:    record.Version{Identifier: version, Date: date},
	}
}

func ids(records []*record.ManagedRecord) []record.RecordID {
	out := make([]record.RecordID, 0, len(records))
	for _, m := range records {
		out = append(out, m.ID)
	}
	return out
}
