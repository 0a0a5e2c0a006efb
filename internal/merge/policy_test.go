package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/ir"
)

func file(id string) ir.IRObject {
	return ir.IRObject{"identifier": ir.IRString(id), "remoteIdentifier": ir.IRString("blob-" + id)}
}

func TestWriterTrumps(t *testing.T) {
	snapshot := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(1), "c": ir.IRInt(1)}
	persisted := ir.IRObject{"a": ir.IRInt(2), "b": ir.IRInt(2), "c": ir.IRInt(1), "d": ir.IRInt(9)}
	pending := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(3), "e": ir.IRInt(5)}

	got := writerTrumps(snapshot, persisted, pending)

	assert.Equal(t, ir.IRObject{
		"a": ir.IRInt(2), // writer left it alone
		"b": ir.IRInt(3), // writer changed it
		"d": ir.IRInt(9), // only persisted
		"e": ir.IRInt(5), // writer added it
	}, got)
	// "c" was removed by the writer.
	assert.NotContains(t, got, "c")
}

func TestWriterTrumpsWithoutSnapshotTakesPending(t *testing.T) {
	persisted := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(1)}
	pending := ir.IRObject{"a": ir.IRInt(2)}

	got := writerTrumps(nil, persisted, pending)
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(2), "b": ir.IRInt(1)}, got)
}

func TestResolveContextLevelConflictOnCoreKind(t *testing.T) {
	p := NewPolicy()

	for _, kind := range []Kind{KindLocalRecord, KindRemoteRecord, KindManagedRecord, KindAccount} {
		t.Run(string(kind), func(t *testing.T) {
			res, err := p.Resolve(Conflict{
				Kind:     kind,
				Key:      "Game-1",
				Snapshot: ir.IRObject{"x": ir.IRInt(1)},
				Pending:  ir.IRObject{"x": ir.IRInt(2)},
			})
			require.Error(t, err)
			assert.True(t, IsContextLevelConflict(err))
			assert.Equal(t, ir.IRInt(2), res.Value["x"])
		})
	}
}

func TestResolveEntityWithoutPersistedIsSilent(t *testing.T) {
	res, err := NewPolicy().Resolve(Conflict{
		Kind:    KindEntity,
		Key:     "Game-1",
		Pending: ir.IRObject{"name": ir.IRString("Sonic")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("Sonic"), res.Value["name"])
}

func TestResolveRemoteRecordKeepsNormalStatus(t *testing.T) {
	persisted := ir.IRObject{
		FieldStatus:            StatusNormal,
		FieldVersionIdentifier: ir.IRString("v1"),
	}

	t.Run("same version stays normal", func(t *testing.T) {
		res, err := NewPolicy().Resolve(Conflict{
			Kind:      KindRemoteRecord,
			Snapshot:  ir.IRObject{FieldStatus: StatusNormal, FieldVersionIdentifier: ir.IRString("v1")},
			Persisted: persisted,
			Pending:   ir.IRObject{FieldStatus: ir.IRString("updated"), FieldVersionIdentifier: ir.IRString("v1")},
		})
		require.NoError(t, err)
		assert.Equal(t, StatusNormal, res.Value[FieldStatus])
	})

	t.Run("new version keeps writer status", func(t *testing.T) {
		res, err := NewPolicy().Resolve(Conflict{
			Kind:      KindRemoteRecord,
			Snapshot:  ir.IRObject{FieldStatus: StatusNormal, FieldVersionIdentifier: ir.IRString("v1")},
			Persisted: persisted,
			Pending:   ir.IRObject{FieldStatus: ir.IRString("updated"), FieldVersionIdentifier: ir.IRString("v2")},
		})
		require.NoError(t, err)
		assert.Equal(t, ir.IRString("updated"), res.Value[FieldStatus])
	})

	t.Run("persisted updated is not forced", func(t *testing.T) {
		res, err := NewPolicy().Resolve(Conflict{
			Kind:      KindRemoteRecord,
			Snapshot:  ir.IRObject{FieldStatus: StatusNormal, FieldVersionIdentifier: ir.IRString("v1")},
			Persisted: ir.IRObject{FieldStatus: ir.IRString("updated"), FieldVersionIdentifier: ir.IRString("v1")},
			Pending:   ir.IRObject{FieldStatus: StatusNormal, FieldVersionIdentifier: ir.IRString("v1")},
		})
		require.NoError(t, err)
		assert.Equal(t, ir.IRString("updated"), res.Value[FieldStatus])
	})
}

func TestResolveLocalRecordReconcilesFiles(t *testing.T) {
	res, err := NewPolicy().Resolve(Conflict{
		Kind:      KindLocalRecord,
		Snapshot:  ir.IRObject{FieldRemoteFiles: ir.IRArray{file("rom")}},
		Persisted: ir.IRObject{FieldRemoteFiles: ir.IRArray{file("rom"), file("save")}},
		Pending:   ir.IRObject{FieldRemoteFiles: ir.IRArray{file("rom"), file("art")}},
	})
	require.NoError(t, err)

	assert.Equal(t, ir.IRArray{file("rom"), file("art")}, res.Value[FieldRemoteFiles])
	assert.Equal(t, []string{"save"}, res.Orphans)
	assert.Equal(t, []string{"art", "rom", "save"}, res.Reload)
}

func TestResolveLocalRecordUnchangedFilesKeepsPersisted(t *testing.T) {
	files := ir.IRArray{file("rom")}
	res, err := NewPolicy().Resolve(Conflict{
		Kind:      KindLocalRecord,
		Snapshot:  ir.IRObject{FieldRemoteFiles: files, FieldStatus: StatusNormal},
		Persisted: ir.IRObject{FieldRemoteFiles: ir.IRArray{file("rom"), file("save")}, FieldStatus: StatusNormal},
		Pending:   ir.IRObject{FieldRemoteFiles: files, FieldStatus: ir.IRString("updated")},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Orphans)
	assert.Empty(t, res.Reload)
	assert.Len(t, res.Value[FieldRemoteFiles], 2)
	assert.Equal(t, ir.IRString("updated"), res.Value[FieldStatus])
}

func TestResolveAccountRestoresChangeToken(t *testing.T) {
	res, err := NewPolicy().Resolve(Conflict{
		Kind:      KindAccount,
		Key:       "drive",
		Snapshot:  ir.IRObject{FieldChangeToken: ir.IRString("dG9rZW4="), "name": ir.IRString("A")},
		Persisted: ir.IRObject{FieldChangeToken: ir.IRString("dG9rZW4y"), "name": ir.IRString("A")},
		Pending:   ir.IRObject{"name": ir.IRString("B")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("dG9rZW4y"), res.Value[FieldChangeToken])
	assert.Equal(t, ir.IRString("B"), res.Value["name"])
}

func TestResolveAccountAllowsTokenChange(t *testing.T) {
	res, err := NewPolicy().Resolve(Conflict{
		Kind:      KindAccount,
		Snapshot:  ir.IRObject{FieldChangeToken: ir.IRString("old")},
		Persisted: ir.IRObject{FieldChangeToken: ir.IRString("old")},
		Pending:   ir.IRObject{FieldChangeToken: ir.IRString("new")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("new"), res.Value[FieldChangeToken])
}
