package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/ir"
)

func TestPayloadCanonical(t *testing.T) {
	hash := "abc123"
	p := &Payload{
		Type:       "Game",
		Identifier: "g1",
		Record:     ir.IRObject{"name": ir.IRString("Sonic"), "artworkURL": ir.IRString("x")},
		Files: []RemoteFile{
			{Identifier: "save", SHA1Hash: "s", Size: 2, RemoteIdentifier: "r2", VersionIdentifier: "v2"},
			{Identifier: "rom", SHA1Hash: "r", Size: 1, RemoteIdentifier: "r1", VersionIdentifier: "v1"},
		},
		Relationships: map[string]RecordID{"core": NewRecordID("Core", "c1")},
		SHA1Hash:      &hash,
	}

	data, err := p.Canonical()
	require.NoError(t, err)

	want := `{"files":[` +
		`{"identifier":"rom","remoteIdentifier":"r1","sha1Hash":"r","size":1,"versionIdentifier":"v1"},` +
		`{"identifier":"save","remoteIdentifier":"r2","sha1Hash":"s","size":2,"versionIdentifier":"v2"}],` +
		`"identifier":"g1",` +
		`"record":{"artworkURL":"x","name":"Sonic"},` +
		`"relationships":{"core":{"identifier":"c1","type":"Core"}},` +
		`"sha1Hash":"abc123","type":"Game"}`
	assert.Equal(t, want, string(data))

	// The caller's file order is untouched.
	assert.Equal(t, "save", p.Files[0].Identifier)

	parsed, err := ParsePayload(data)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), parsed.ID())
	assert.Equal(t, p.Record, parsed.Record)
	assert.Equal(t, p.Relationships, parsed.Relationships)
	require.NotNil(t, parsed.SHA1Hash)
	assert.Equal(t, hash, *parsed.SHA1Hash)
	assert.Len(t, parsed.Files, 2)
}

func TestParsePayloadWithoutHash(t *testing.T) {
	p, err := ParsePayload([]byte(`{"type":"Cheat","identifier":"c1","record":{"code":"ABCD"}}`))
	require.NoError(t, err)
	assert.Nil(t, p.SHA1Hash)
	assert.Empty(t, p.Files)
	assert.Equal(t, ir.IRString("ABCD"), p.Record["code"])
}

func TestParsePayloadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an object", `[1,2]`},
		{"missing type", `{"identifier":"x"}`},
		{"missing identifier", `{"type":"Game"}`},
		{"record not object", `{"type":"Game","identifier":"g","record":5}`},
		{"relationship not object", `{"type":"Game","identifier":"g","relationships":{"core":"c1"}}`},
		{"float value", `{"type":"Game","identifier":"g","record":{"rating":4.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestPayloadValidFiles(t *testing.T) {
	p := &Payload{Files: []RemoteFile{
		{Identifier: "rom", RemoteIdentifier: "r1"},
		{Identifier: "", RemoteIdentifier: "r2"},
		{Identifier: "save", RemoteIdentifier: ""},
	}}
	valid := p.ValidFiles()
	require.Len(t, valid, 1)
	assert.Equal(t, "rom", valid[0].Identifier)
}
