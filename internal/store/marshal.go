package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// Rows are flattened to IR objects for race arbitration. Field names the
// merge policy interprets come from the merge package.
const (
	fieldLocator              = "locator"
	fieldModificationDate     = "modificationDate"
	fieldSHA1Hash             = "sha1Hash"
	fieldVersionDate          = "versionDate"
	fieldAdditionalProperties = "additionalProperties"
	fieldRemoteRelationships  = "remoteRelationships"
	fieldRemoteIdentifier     = "remoteIdentifier"
	fieldIsLocked             = "isLocked"
	fieldPreviousVersionID    = "previousVersionIdentifier"
	fieldPreviousVersionDate  = "previousVersionDate"
	fieldAuthor               = "author"
	fieldLocalizedName        = "localizedName"
	fieldMetadata             = "metadata"
	fieldIsConflicted         = "isConflicted"
	fieldIsSyncingEnabled     = "isSyncingEnabled"
	fieldName                 = "name"
	fieldEmail                = "email"
)

func timeToIR(t time.Time) ir.IRInt {
	return ir.IRInt(t.UnixNano())
}

func timeFromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func localToIR(lr *record.LocalRecord) ir.IRObject {
	obj := ir.IRObject{
		fieldLocator:          ir.IRString(lr.Locator),
		merge.FieldStatus:     ir.IRString(lr.Status.String()),
		fieldModificationDate: timeToIR(lr.ModificationDate),
		fieldSHA1Hash:         ir.IRString(lr.SHA1Hash),
	}
	if lr.Version != nil {
		obj[merge.FieldVersionIdentifier] = ir.IRString(lr.Version.Identifier)
		obj[fieldVersionDate] = timeToIR(lr.Version.Date)
	}

	files := make(ir.IRArray, 0, len(lr.RemoteFiles))
	for _, f := range lr.RemoteFiles {
		files = append(files, f.ToIR())
	}
	obj[merge.FieldRemoteFiles] = files

	if len(lr.AdditionalProperties) > 0 {
		obj[fieldAdditionalProperties] = lr.AdditionalProperties.Clone()
	}
	if len(lr.RemoteRelationships) > 0 {
		rels := ir.IRObject{}
		for field, id := range lr.RemoteRelationships {
			rels[field] = recordIDToIR(id)
		}
		obj[fieldRemoteRelationships] = rels
	}
	return obj
}

func localFromIR(id record.RecordID, obj ir.IRObject) (*record.LocalRecord, error) {
	status, err := statusFromIR(obj[merge.FieldStatus])
	if err != nil {
		return nil, err
	}
	lr := &record.LocalRecord{
		ID:               id,
		Locator:          irString(obj[fieldLocator]),
		Status:           status,
		ModificationDate: timeFromNanos(irInt(obj[fieldModificationDate])),
		SHA1Hash:         irString(obj[fieldSHA1Hash]),
	}
	if v, ok := obj[merge.FieldVersionIdentifier].(ir.IRString); ok {
		lr.Version = &record.Version{Identifier: string(v), Date: timeFromNanos(irInt(obj[fieldVersionDate]))}
	}

	if arr, ok := obj[merge.FieldRemoteFiles].(ir.IRArray); ok && len(arr) > 0 {
		files := make([]record.RemoteFile, 0, len(arr))
		for _, elem := range arr {
			f, ok := elem.(ir.IRObject)
			if !ok {
				return nil, fmt.Errorf("local %s: remote file is not an object", id)
			}
			files = append(files, record.RemoteFile{
				Identifier:        irString(f["identifier"]),
				SHA1Hash:          irString(f["sha1Hash"]),
				Size:              irInt(f["size"]),
				RemoteIdentifier:  irString(f["remoteIdentifier"]),
				VersionIdentifier: irString(f["versionIdentifier"]),
			})
		}
		lr.SetRemoteFiles(files)
	}

	if props, ok := obj[fieldAdditionalProperties].(ir.IRObject); ok && len(props) > 0 {
		lr.AdditionalProperties = props.Clone()
	}
	if rels, ok := obj[fieldRemoteRelationships].(ir.IRObject); ok && len(rels) > 0 {
		lr.RemoteRelationships = make(map[string]record.RecordID, len(rels))
		for field, v := range rels {
			target, ok := v.(ir.IRObject)
			if !ok {
				return nil, fmt.Errorf("local %s: relationship %s is not an object", id, field)
			}
			lr.RemoteRelationships[field] = record.NewRecordID(irString(target["type"]), irString(target["identifier"]))
		}
	}
	return lr, nil
}

func remoteToIR(rr *record.RemoteRecord) ir.IRObject {
	obj := ir.IRObject{
		fieldRemoteIdentifier:        ir.IRString(rr.Identifier),
		merge.FieldStatus:            ir.IRString(rr.Status.String()),
		merge.FieldVersionIdentifier: ir.IRString(rr.Version.Identifier),
		fieldVersionDate:             timeToIR(rr.Version.Date),
		fieldIsLocked:                ir.IRBool(rr.IsLocked),
		fieldAuthor:                  ir.IRString(rr.Author),
		fieldLocalizedName:           ir.IRString(rr.LocalizedName),
		fieldSHA1Hash:                ir.IRString(rr.SHA1Hash),
	}
	if rr.PreviousUnlockedVersion != nil {
		obj[fieldPreviousVersionID] = ir.IRString(rr.PreviousUnlockedVersion.Identifier)
		obj[fieldPreviousVersionDate] = timeToIR(rr.PreviousUnlockedVersion.Date)
	}
	if len(rr.Metadata) > 0 {
		md := ir.IRObject{}
		for k, v := range rr.Metadata {
			md[k] = ir.IRString(v)
		}
		obj[fieldMetadata] = md
	}
	return obj
}

func remoteFromIR(id record.RecordID, obj ir.IRObject) (*record.RemoteRecord, error) {
	status, err := statusFromIR(obj[merge.FieldStatus])
	if err != nil {
		return nil, err
	}
	rr := &record.RemoteRecord{
		Identifier: irString(obj[fieldRemoteIdentifier]),
		ID:         id,
		Status:     status,
		Version: record.Version{
			Identifier: irString(obj[merge.FieldVersionIdentifier]),
			Date:       timeFromNanos(irInt(obj[fieldVersionDate])),
		},
		Author:        irString(obj[fieldAuthor]),
		LocalizedName: irString(obj[fieldLocalizedName]),
		SHA1Hash:      irString(obj[fieldSHA1Hash]),
	}
	if locked, ok := obj[fieldIsLocked].(ir.IRBool); ok {
		rr.IsLocked = bool(locked)
	}
	if v, ok := obj[fieldPreviousVersionID].(ir.IRString); ok {
		rr.PreviousUnlockedVersion = &record.Version{
			Identifier: string(v),
			Date:       timeFromNanos(irInt(obj[fieldPreviousVersionDate])),
		}
	}
	if md, ok := obj[fieldMetadata].(ir.IRObject); ok && len(md) > 0 {
		rr.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			rr.Metadata[k] = irString(v)
		}
	}
	return rr, nil
}

type managedFlags struct {
	IsConflicted     bool
	IsSyncingEnabled bool
}

func managedToIR(f managedFlags) ir.IRObject {
	return ir.IRObject{
		fieldIsConflicted:     ir.IRBool(f.IsConflicted),
		fieldIsSyncingEnabled: ir.IRBool(f.IsSyncingEnabled),
	}
}

func managedFromIR(obj ir.IRObject) managedFlags {
	f := managedFlags{IsSyncingEnabled: true}
	if v, ok := obj[fieldIsConflicted].(ir.IRBool); ok {
		f.IsConflicted = bool(v)
	}
	if v, ok := obj[fieldIsSyncingEnabled].(ir.IRBool); ok {
		f.IsSyncingEnabled = bool(v)
	}
	return f
}

// accountToIR encodes the change token as base64 so the policy can compare it.
func accountToIR(a *record.ManagedAccount) ir.IRObject {
	obj := ir.IRObject{
		fieldName: ir.IRString(a.Name),
	}
	if a.Email != nil {
		obj[fieldEmail] = ir.IRString(*a.Email)
	}
	if a.ChangeToken != nil {
		obj[merge.FieldChangeToken] = ir.IRString(base64.StdEncoding.EncodeToString(a.ChangeToken))
	}
	return obj
}

func accountFromIR(service string, obj ir.IRObject) (*record.ManagedAccount, error) {
	a := &record.ManagedAccount{
		ServiceIdentifier: service,
		Name:              irString(obj[fieldName]),
	}
	if v, ok := obj[fieldEmail].(ir.IRString); ok {
		email := string(v)
		a.Email = &email
	}
	if v, ok := obj[merge.FieldChangeToken].(ir.IRString); ok {
		token, err := base64.StdEncoding.DecodeString(string(v))
		if err != nil {
			return nil, fmt.Errorf("account %s: decode change token: %w", service, err)
		}
		a.ChangeToken = token
	}
	return a, nil
}

func recordIDToIR(id record.RecordID) ir.IRObject {
	return ir.IRObject{
		"type":       ir.IRString(id.Type),
		"identifier": ir.IRString(id.Identifier),
	}
}

func statusFromIR(v ir.IRValue) (record.Status, error) {
	s, ok := v.(ir.IRString)
	if !ok {
		return record.StatusUpdated, nil
	}
	status, err := record.ParseStatus(string(s))
	if err != nil {
		// Corrupt status is re-synced rather than treated as settled.
		return record.StatusUpdated, nil
	}
	return status, nil
}

func irString(v ir.IRValue) string {
	if s, ok := v.(ir.IRString); ok {
		return string(s)
	}
	return ""
}

func irInt(v ir.IRValue) int64 {
	if n, ok := v.(ir.IRInt); ok {
		return int64(n)
	}
	return 0
}

// marshalObject converts an IRObject to canonical JSON TEXT for storage.
func marshalObject(obj ir.IRObject) (string, error) {
	if len(obj) == 0 {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which keeps large integers exact.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

func marshalMetadata(md map[string]string) (string, error) {
	obj := ir.IRObject{}
	for k, v := range md {
		obj[k] = ir.IRString(v)
	}
	return marshalObject(obj)
}

func unmarshalMetadata(data string) (map[string]string, error) {
	obj, err := unmarshalObject(data)
	if err != nil || len(obj) == 0 {
		return nil, err
	}
	md := make(map[string]string, len(obj))
	for k, v := range obj {
		md[k] = irString(v)
	}
	return md, nil
}

func marshalRelationships(rels map[string]record.RecordID) (string, error) {
	obj := ir.IRObject{}
	for field, id := range rels {
		obj[field] = recordIDToIR(id)
	}
	return marshalObject(obj)
}

func unmarshalRelationships(data string) (map[string]record.RecordID, error) {
	obj, err := unmarshalObject(data)
	if err != nil || len(obj) == 0 {
		return nil, err
	}
	rels := make(map[string]record.RecordID, len(obj))
	for field, v := range obj {
		target, ok := v.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("relationship %s is not an object", field)
		}
		rels[field] = record.NewRecordID(irString(target["type"]), irString(target["identifier"]))
	}
	return rels, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
