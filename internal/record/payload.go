package record

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/harmony/internal/ir"
)

// Payload is the serialized form of a record exchanged with the remote side.
//
//	{ type, identifier,
//	  record: { <field>: <value>, ... },
//	  files: [ { identifier, sha1Hash, remoteIdentifier, versionIdentifier, size } ],
//	  relationships: { <field>: { type, identifier } },
//	  sha1Hash }
//
// SHA1Hash is only present on upload payloads.
type Payload struct {
	Type          string
	Identifier    string
	Record        ir.IRObject
	Files         []RemoteFile
	Relationships map[string]RecordID
	SHA1Hash      *string
}

// ID returns the payload's RecordID.
func (p *Payload) ID() RecordID {
	return NewRecordID(p.Type, p.Identifier)
}

// ToIR converts the payload to an IR object. Files are ordered by identifier.
func (p *Payload) ToIR() ir.IRObject {
	files := slices.Clone(p.Files)
	sortRemoteFiles(files)

	fileValues := make(ir.IRArray, 0, len(files))
	for _, f := range files {
		fileValues = append(fileValues, f.ToIR())
	}

	relationships := make(ir.IRObject, len(p.Relationships))
	for field, id := range p.Relationships {
		relationships[field] = ir.IRObject{
			"type":       ir.IRString(id.Type),
			"identifier": ir.IRString(id.Identifier),
		}
	}

	record := p.Record
	if record == nil {
		record = ir.IRObject{}
	}

	obj := ir.IRObject{
		"type":          ir.IRString(p.Type),
		"identifier":    ir.IRString(p.Identifier),
		"record":        record,
		"files":         fileValues,
		"relationships": relationships,
	}
	if p.SHA1Hash != nil {
		obj["sha1Hash"] = ir.IRString(*p.SHA1Hash)
	}
	return obj
}

// Canonical returns the payload's canonical JSON bytes.
func (p *Payload) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(p.ToIR())
}

// ParsePayload decodes a payload from JSON.
func ParsePayload(data []byte) (*Payload, error) {
	v, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return PayloadFromIR(v)
}

// PayloadFromIR decodes a payload from an IR value.
func PayloadFromIR(v ir.IRValue) (*Payload, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, errNotObject("payload")
	}

	p := &Payload{
		Type:       stringMember(obj, "type"),
		Identifier: stringMember(obj, "identifier"),
	}
	if p.Type == "" {
		return nil, fmt.Errorf("payload: missing type")
	}
	if p.Identifier == "" {
		return nil, NewMissingIdentifierError(p.Type)
	}

	switch rec := obj["record"].(type) {
	case nil:
		p.Record = ir.IRObject{}
	case ir.IRObject:
		p.Record = rec.Clone()
	default:
		return nil, errNotObject("payload record")
	}

	if files, ok := obj["files"].(ir.IRArray); ok {
		for i, fv := range files {
			f, err := remoteFileFromIR(fv)
			if err != nil {
				return nil, fmt.Errorf("payload file %d: %w", i, err)
			}
			p.Files = append(p.Files, f)
		}
	}

	if rels, ok := obj["relationships"].(ir.IRObject); ok {
		p.Relationships = make(map[string]RecordID, len(rels))
		for field, rv := range rels {
			robj, ok := rv.(ir.IRObject)
			if !ok {
				return nil, errNotObject("relationship " + field)
			}
			p.Relationships[field] = NewRecordID(stringMember(robj, "type"), stringMember(robj, "identifier"))
		}
	}

	if hash, ok := obj["sha1Hash"].(ir.IRString); ok {
		h := string(hash)
		p.SHA1Hash = &h
	}

	return p, nil
}

// ValidFiles returns the file descriptors that can be attached to a record.
func (p *Payload) ValidFiles() []RemoteFile {
	var out []RemoteFile
	for _, f := range p.Files {
		if f.IsValid() {
			out = append(out, f)
		}
	}
	return out
}

// String renders a short description for logs.
func (p *Payload) String() string {
	keys := make([]string, 0, len(p.Record))
	for k := range p.Record {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return fmt.Sprintf("%s [%s]", p.ID(), strings.Join(keys, ","))
}

func errNotObject(what string) error {
	return fmt.Errorf("%s: expected object", what)
}

func stringMember(obj ir.IRObject, key string) string {
	if s, ok := obj[key].(ir.IRString); ok {
		return string(s)
	}
	return ""
}
