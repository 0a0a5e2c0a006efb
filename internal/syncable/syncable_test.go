package syncable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
)

func testRegistry(root string) *Registry {
	return NewRegistry(WithFilesRoot(root)).MustRegister(
		&EntityType{
			Name:          "Game",
			PrimaryKey:    "identifier",
			Keys:          []string{"name", "gameCollectionID"},
			Files:         []FileField{{Identifier: "game", Field: "filename"}},
			Syncable:      true,
			NameField:     "name",
			EnabledField:  "syncEnabled",
			Relationships: map[string]string{},
			Resolution:    record.ResolveNewest,
		},
		&EntityType{
			Name:          "SaveState",
			PrimaryKey:    "identifier",
			Keys:          []string{"name"},
			Relationships: map[string]string{"game": "Game"},
			Syncable:      true,
		},
		&EntityType{
			Name:       "Cache",
			PrimaryKey: "identifier",
		},
	)
}

func insert(t *testing.T, c *persist.Container, entity string, fields ir.IRObject) persist.ObjectID {
	t.Helper()
	tx := c.Begin()
	id, err := tx.Insert(entity, fields)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
	return id
}

func bind(t *testing.T, reg *Registry, c *persist.Container, id persist.ObjectID) *Object {
	t.Helper()
	obj, ok := c.Object(id)
	require.True(t, ok)
	o, err := reg.Bind(obj, c)
	require.NoError(t, err)
	return o
}

func TestLocalHashDeterminism(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sonic.bin"), []byte{1, 2, 3}, 0o600))

	reg := testRegistry(dir)
	c := persist.NewContainer(reg)
	id := insert(t, c, "Game", ir.IRObject{
		"identifier": ir.IRString("g1"),
		"name":       ir.IRString("Sonic"),
		"filename":   ir.IRString("sonic.bin"),
		"playCount":  ir.IRInt(4),
	})

	first, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	second, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 40)

	// Non-trackable fields don't matter.
	tx := c.Begin()
	require.NoError(t, tx.Set(id, "playCount", ir.IRInt(5)))
	_, err = tx.Commit()
	require.NoError(t, err)
	same, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	assert.Equal(t, first, same)

	// One file byte changes the hash.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sonic.bin"), []byte{1, 2, 4}, 0o600))
	fileChanged, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, fileChanged)

	// One trackable field changes the hash.
	tx = c.Begin()
	require.NoError(t, tx.Set(id, "name", ir.IRString("Sonic 2")))
	_, err = tx.Commit()
	require.NoError(t, err)
	fieldChanged, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	assert.NotEqual(t, fileChanged, fieldChanged)

	// A missing file is treated as absent.
	require.NoError(t, os.Remove(filepath.Join(dir, "sonic.bin")))
	missing, err := LocalHash(bind(t, reg, c, id), nil)
	require.NoError(t, err)
	assert.NotEqual(t, fieldChanged, missing)
}

func TestLocalHashIncludesRelationships(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	game := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1")})
	save := insert(t, c, "SaveState", ir.IRObject{"identifier": ir.IRString("s1")})

	before, err := LocalHash(bind(t, reg, c, save), nil)
	require.NoError(t, err)

	tx := c.Begin()
	require.NoError(t, tx.SetRelationship(save, "game", game))
	_, err = tx.Commit()
	require.NoError(t, err)

	o := bind(t, reg, c, save)
	rels := o.SyncableRelationships()
	require.NotNil(t, rels["game"])
	assert.Equal(t, record.NewRecordID("Game", "g1"), *rels["game"])

	after, err := LocalHash(o, nil)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestNewLocalRecord(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	id := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1"), "name": ir.IRString("Sonic")})
	lr, err := NewLocalRecord(bind(t, reg, c, id), string(id), now)
	require.NoError(t, err)
	assert.Equal(t, record.NewRecordID("Game", "g1"), lr.ID)
	assert.Equal(t, string(id), lr.Locator)
	assert.Equal(t, record.StatusNormal, lr.Status)
	assert.Equal(t, now, lr.ModificationDate)
	assert.NotEmpty(t, lr.SHA1Hash)

	noID := insert(t, c, "Game", ir.IRObject{"name": ir.IRString("Untitled")})
	_, err = NewLocalRecord(bind(t, reg, c, noID), string(noID), now)
	assert.True(t, record.IsMissingIdentifier(err))

	disabled := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g2"), "syncEnabled": ir.IRBool(false)})
	_, err = NewLocalRecord(bind(t, reg, c, disabled), string(disabled), now)
	assert.True(t, record.IsNonSyncable(err))
}

func TestRehash(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	id := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1"), "name": ir.IRString("Sonic")})

	lr, err := NewLocalRecord(bind(t, reg, c, id), string(id), time.Now())
	require.NoError(t, err)

	changed, err := Rehash(lr, bind(t, reg, c, id))
	require.NoError(t, err)
	assert.False(t, changed)

	lr.AdditionalProperties = ir.IRObject{"futureField": ir.IRString("x")}
	changed, err = Rehash(lr, bind(t, reg, c, id))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestEncodeUpload(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	id := insert(t, c, "Game", ir.IRObject{
		"identifier": ir.IRString("g1"),
		"name":       ir.IRString("Sonic"),
		"playCount":  ir.IRInt(2),
	})

	lr := &record.LocalRecord{
		SHA1Hash:             "stored-hash",
		RemoteFiles:          []record.RemoteFile{{Identifier: "game", RemoteIdentifier: "blob", SHA1Hash: "f"}},
		AdditionalProperties: ir.IRObject{"name": ir.IRString("ignored"), "futureField": ir.IRInt(1)},
	}

	p, err := EncodeUpload(lr, bind(t, reg, c, id))
	require.NoError(t, err)

	assert.Equal(t, record.NewRecordID("Game", "g1"), p.ID())
	assert.Equal(t, ir.IRObject{"name": ir.IRString("Sonic"), "futureField": ir.IRInt(1)}, p.Record)
	assert.Equal(t, lr.RemoteFiles, p.Files)
	require.NotNil(t, p.SHA1Hash)
	assert.Equal(t, "stored-hash", *p.SHA1Hash)
}

func TestBindRejectsUnknownAndNonSyncable(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)

	cache := insert(t, c, "Cache", ir.IRObject{"identifier": ir.IRString("c1")})
	obj, _ := c.Object(cache)
	_, err := reg.Bind(obj, c)
	assert.True(t, record.IsNonSyncable(err))

	other := insert(t, c, "Mystery", nil)
	obj, _ = c.Object(other)
	_, err = reg.Bind(obj, c)
	assert.True(t, record.IsUnknownRecordType(err))
}

func TestApplyPayloadAndRelationships(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1")})
	save := insert(t, c, "SaveState", ir.IRObject{"identifier": ir.IRString("s1")})

	tx := c.Begin()
	o, err := reg.BindTx(tx, save)
	require.NoError(t, err)

	additional, err := ApplyPayload(o, &record.Payload{
		Type:       "SaveState",
		Identifier: "s1",
		Record:     ir.IRObject{"name": ir.IRString("Boss"), "thumbnail": ir.IRString("t.png")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"thumbnail": ir.IRString("t.png")}, additional)

	pending, err := ApplyRelationships(o, map[string]record.RecordID{"game": record.NewRecordID("Game", "g1")})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = tx.Commit()
	require.NoError(t, err)

	obj, _ := c.Object(save)
	assert.Equal(t, "Boss", obj.String("name"))
	_, ok := obj.Relationship("game")
	assert.True(t, ok)

	tx = c.Begin()
	o, err = reg.BindTx(tx, save)
	require.NoError(t, err)
	pending, err = ApplyRelationships(o, map[string]record.RecordID{"game": record.NewRecordID("Game", "missing")})
	require.NoError(t, err)
	assert.Equal(t, map[string]record.RecordID{"game": record.NewRecordID("Game", "missing")}, pending)
	tx.Rollback()
}

func TestReadOnlyBinding(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	id := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1")})

	o := bind(t, reg, c, id)
	assert.ErrorIs(t, o.SetSyncableValue("name", ir.IRString("x")), ErrReadOnly)
	assert.Equal(t, record.ResolveNewest, Resolution(o, nil))
}

func TestIsTrackable(t *testing.T) {
	reg := testRegistry("")
	c := persist.NewContainer(reg)
	id := insert(t, c, "Game", ir.IRObject{"identifier": ir.IRString("g1")})
	o := bind(t, reg, c, id)

	assert.True(t, IsTrackable(o, []string{"playCount", "name"}))
	assert.True(t, IsTrackable(o, []string{"filename"}))
	assert.False(t, IsTrackable(o, []string{"playCount"}))
	assert.False(t, IsTrackable(o, nil))
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(&EntityType{Name: "X"}))
	assert.Error(t, reg.Register(&EntityType{Name: "X", PrimaryKey: "id", Keys: []string{"a", "a"}}))
	assert.Error(t, reg.Register(&EntityType{Name: "X", PrimaryKey: "id", Keys: []string{"a"}, Relationships: map[string]string{"a": "Y"}}))
	require.NoError(t, reg.Register(&EntityType{Name: "X", PrimaryKey: "id"}))
	assert.Error(t, reg.Register(&EntityType{Name: "X", PrimaryKey: "id"}))

	pk, ok := reg.PrimaryKey("X")
	assert.True(t, ok)
	assert.Equal(t, "id", pk)
}
