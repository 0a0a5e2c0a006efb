package record

import "github.com/roach88/harmony/internal/ir"

// RemoteFile describes a content-addressed blob already known to the remote
// side. It is owned by exactly one Local Record; when the owner goes away the
// descriptor is deleted with it.
type RemoteFile struct {
	// Identifier is stable and scoped to the owning record's file set.
	Identifier        string `json:"identifier" yaml:"identifier"`
	SHA1Hash          string `json:"sha1Hash" yaml:"sha1Hash"`
	Size              int64  `json:"size" yaml:"size"`
	RemoteIdentifier  string `json:"remoteIdentifier" yaml:"remoteIdentifier"`
	VersionIdentifier string `json:"versionIdentifier" yaml:"versionIdentifier"`
}

// NewRemoteFile builds a descriptor from an uploaded blob's remote metadata.
// The metadata must carry harmony_relationshipIdentifier and harmony_sha1Hash.
func NewRemoteFile(remoteIdentifier, versionIdentifier string, size int64, metadata map[string]string) (RemoteFile, error) {
	identifier, ok := Lookup(metadata, KeyRelationshipIdentifier)
	if !ok {
		return RemoteFile{}, NewInvalidMetadataError(string(KeyRelationshipIdentifier), metadata)
	}
	hash, ok := Lookup(metadata, KeySHA1Hash)
	if !ok {
		return RemoteFile{}, NewInvalidMetadataError(string(KeySHA1Hash), metadata)
	}

	return RemoteFile{
		Identifier:        identifier,
		SHA1Hash:          hash,
		Size:              size,
		RemoteIdentifier:  remoteIdentifier,
		VersionIdentifier: versionIdentifier,
	}, nil
}

// IsValid reports whether the descriptor can be attached to a record.
// Decoded payloads drop descriptors with an empty identifier or remote identifier.
func (f RemoteFile) IsValid() bool {
	return f.Identifier != "" && f.RemoteIdentifier != ""
}

// ToIR converts the descriptor to its wire form.
func (f RemoteFile) ToIR() ir.IRObject {
	return ir.IRObject{
		"identifier":        ir.IRString(f.Identifier),
		"sha1Hash":          ir.IRString(f.SHA1Hash),
		"size":              ir.IRInt(f.Size),
		"remoteIdentifier":  ir.IRString(f.RemoteIdentifier),
		"versionIdentifier": ir.IRString(f.VersionIdentifier),
	}
}

// remoteFileFromIR parses a wire descriptor. Missing string members decode
// as empty so that IsValid can filter them afterwards.
func remoteFileFromIR(v ir.IRValue) (RemoteFile, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return RemoteFile{}, errNotObject("file")
	}
	f := RemoteFile{
		Identifier:        stringMember(obj, "identifier"),
		SHA1Hash:          stringMember(obj, "sha1Hash"),
		RemoteIdentifier:  stringMember(obj, "remoteIdentifier"),
		VersionIdentifier: stringMember(obj, "versionIdentifier"),
	}
	if size, ok := obj["size"].(ir.IRInt); ok {
		f.Size = int64(size)
	}
	return f, nil
}
