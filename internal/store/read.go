package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowKey identifies one versioned row.
type rowKey struct {
	kind    merge.Kind
	id      record.RecordID
	service string
}

func (k rowKey) String() string {
	if k.kind == merge.KindAccount {
		return string(k.kind) + "/" + k.service
	}
	return string(k.kind) + "/" + k.id.String()
}

// Filter narrows ManagedRecords. Zero fields match everything.
type Filter struct {
	Type           string
	Conflicted     *bool
	SyncingEnabled *bool
}

// ManagedRecord returns the managed record for id with both sides attached.
// Returns ErrNotFound when no managed row exists.
func (s *Store) ManagedRecord(ctx context.Context, id record.RecordID) (*record.ManagedRecord, error) {
	m, _, err := loadManagedRecord(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

// ManagedRecords returns every managed record matching f, ordered by
// type then identifier.
func (s *Store) ManagedRecords(ctx context.Context, f Filter) ([]*record.ManagedRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "record_type = ?")
		args = append(args, f.Type)
	}
	if f.Conflicted != nil {
		where = append(where, "is_conflicted = ?")
		args = append(args, boolToInt(*f.Conflicted))
	}
	if f.SyncingEnabled != nil {
		where = append(where, "is_syncing_enabled = ?")
		args = append(args, boolToInt(*f.SyncingEnabled))
	}

	query := `SELECT record_type, record_identifier FROM managed_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY record_type COLLATE BINARY ASC, record_identifier COLLATE BINARY ASC"

	ids, err := queryRecordIDs(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}

	records := make([]*record.ManagedRecord, 0, len(ids))
	for _, id := range ids {
		m, _, err := loadManagedRecord(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			records = append(records, m)
		}
	}
	return records, nil
}

// Account returns the account for a remote service.
func (s *Store) Account(ctx context.Context, service string) (*record.ManagedAccount, error) {
	obj, version, err := loadAccountRow(ctx, s.db, service)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrNotFound
	}
	return accountFromIR(service, obj)
}

// PendingRelationships returns the managed records whose local side still
// holds relationships waiting for their target to arrive.
func (s *Store) PendingRelationships(ctx context.Context) ([]*record.ManagedRecord, error) {
	ids, err := queryRecordIDs(ctx, s.db, `
		SELECT record_type, record_identifier FROM local_records
		WHERE remote_relationships != '{}'
		ORDER BY record_type COLLATE BINARY ASC, record_identifier COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, err
	}

	records := make([]*record.ManagedRecord, 0, len(ids))
	for _, id := range ids {
		m, _, err := loadManagedRecord(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			records = append(records, m)
		}
	}
	return records, nil
}

func (s *Store) recordIDs(ctx context.Context, q querier) ([]record.RecordID, error) {
	return queryRecordIDs(ctx, q, `
		SELECT record_type, record_identifier FROM managed_records
		ORDER BY record_type COLLATE BINARY ASC, record_identifier COLLATE BINARY ASC
	`)
}

func queryRecordIDs(ctx context.Context, q querier, query string, args ...any) ([]record.RecordID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query managed records: %w", err)
	}
	defer rows.Close()

	var ids []record.RecordID
	for rows.Next() {
		var id record.RecordID
		if err := rows.Scan(&id.Type, &id.Identifier); err != nil {
			return nil, fmt.Errorf("scan managed record: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate managed records: %w", err)
	}
	return ids, nil
}

// rowVersions are the versions of the three rows behind a managed record.
// Zero means the row was absent.
type rowVersions struct {
	managed, local, remote int64
}

func loadManagedRecord(ctx context.Context, q querier, id record.RecordID) (*record.ManagedRecord, rowVersions, error) {
	var versions rowVersions

	flagsObj, managedVersion, err := loadManagedRow(ctx, q, id)
	if err != nil {
		return nil, versions, err
	}
	versions.managed = managedVersion
	if managedVersion == 0 {
		return nil, versions, nil
	}
	flags := managedFromIR(flagsObj)

	m := &record.ManagedRecord{
		ID:               id,
		IsConflicted:     flags.IsConflicted,
		IsSyncingEnabled: flags.IsSyncingEnabled,
	}

	localObj, localVersion, err := loadLocalRow(ctx, q, id)
	if err != nil {
		return nil, versions, err
	}
	versions.local = localVersion
	if localVersion != 0 {
		if m.Local, err = localFromIR(id, localObj); err != nil {
			return nil, versions, err
		}
	}

	remoteObj, remoteVersion, err := loadRemoteRow(ctx, q, id)
	if err != nil {
		return nil, versions, err
	}
	versions.remote = remoteVersion
	if remoteVersion != 0 {
		if m.Remote, err = remoteFromIR(id, remoteObj); err != nil {
			return nil, versions, err
		}
	}

	return m, versions, nil
}

// loadRow reads any versioned row as an IR object.
func loadRow(ctx context.Context, q querier, key rowKey) (ir.IRObject, int64, error) {
	switch key.kind {
	case merge.KindManagedRecord:
		return loadManagedRow(ctx, q, key.id)
	case merge.KindLocalRecord:
		return loadLocalRow(ctx, q, key.id)
	case merge.KindRemoteRecord:
		return loadRemoteRow(ctx, q, key.id)
	case merge.KindAccount:
		return loadAccountRow(ctx, q, key.service)
	default:
		return nil, 0, fmt.Errorf("load row: unknown kind %s", key.kind)
	}
}

func loadManagedRow(ctx context.Context, q querier, id record.RecordID) (ir.IRObject, int64, error) {
	var (
		flags   managedFlags
		version int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT is_conflicted, is_syncing_enabled, row_version
		FROM managed_records
		WHERE record_type = ? AND record_identifier = ?
	`, id.Type, id.Identifier).Scan(&flags.IsConflicted, &flags.IsSyncingEnabled, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read managed %s: %w", id, err)
	}
	return managedToIR(flags), version, nil
}

func loadLocalRow(ctx context.Context, q querier, id record.RecordID) (ir.IRObject, int64, error) {
	var (
		lr                       = &record.LocalRecord{ID: id}
		status, modified         int64
		versionID                sql.NullString
		versionDate              sql.NullInt64
		additional, relationship string
		rowVersion               int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT locator, status, modification_date, sha1_hash, version_identifier, version_date,
		       additional_properties, remote_relationships, row_version
		FROM local_records
		WHERE record_type = ? AND record_identifier = ?
	`, id.Type, id.Identifier).Scan(
		&lr.Locator, &status, &modified, &lr.SHA1Hash, &versionID, &versionDate,
		&additional, &relationship, &rowVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read local %s: %w", id, err)
	}

	lr.Status = record.StatusFromRaw(status)
	lr.ModificationDate = timeFromNanos(modified)
	if versionID.Valid {
		lr.Version = &record.Version{Identifier: versionID.String, Date: timeFromNanos(versionDate.Int64)}
	}
	if lr.AdditionalProperties, err = unmarshalObject(additional); err != nil {
		return nil, 0, fmt.Errorf("read local %s: %w", id, err)
	}
	if lr.RemoteRelationships, err = unmarshalRelationships(relationship); err != nil {
		return nil, 0, fmt.Errorf("read local %s: %w", id, err)
	}
	if lr.RemoteFiles, err = loadFiles(ctx, q, id); err != nil {
		return nil, 0, err
	}
	return localToIR(lr), rowVersion, nil
}

func loadFiles(ctx context.Context, q querier, id record.RecordID) ([]record.RemoteFile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT identifier, sha1_hash, size, remote_identifier, version_identifier
		FROM remote_files
		WHERE record_type = ? AND record_identifier = ?
		ORDER BY identifier COLLATE BINARY ASC
	`, id.Type, id.Identifier)
	if err != nil {
		return nil, fmt.Errorf("query remote files %s: %w", id, err)
	}
	defer rows.Close()

	var files []record.RemoteFile
	for rows.Next() {
		var f record.RemoteFile
		if err := rows.Scan(&f.Identifier, &f.SHA1Hash, &f.Size, &f.RemoteIdentifier, &f.VersionIdentifier); err != nil {
			return nil, fmt.Errorf("scan remote file %s: %w", id, err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remote files %s: %w", id, err)
	}
	return files, nil
}

func loadRemoteRow(ctx context.Context, q querier, id record.RecordID) (ir.IRObject, int64, error) {
	var (
		rr           = &record.RemoteRecord{ID: id}
		status, date int64
		prevID       sql.NullString
		prevDate     sql.NullInt64
		metadata     string
		rowVersion   int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT remote_identifier, status, version_identifier, version_date, is_locked,
		       previous_version_identifier, previous_version_date,
		       author, localized_name, sha1_hash, metadata, row_version
		FROM remote_records
		WHERE record_type = ? AND record_identifier = ?
	`, id.Type, id.Identifier).Scan(
		&rr.Identifier, &status, &rr.Version.Identifier, &date, &rr.IsLocked,
		&prevID, &prevDate,
		&rr.Author, &rr.LocalizedName, &rr.SHA1Hash, &metadata, &rowVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read remote %s: %w", id, err)
	}

	rr.Status = record.StatusFromRaw(status)
	rr.Version.Date = timeFromNanos(date)
	if prevID.Valid {
		rr.PreviousUnlockedVersion = &record.Version{Identifier: prevID.String, Date: timeFromNanos(prevDate.Int64)}
	}
	if rr.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, 0, fmt.Errorf("read remote %s: %w", id, err)
	}
	return remoteToIR(rr), rowVersion, nil
}

func loadAccountRow(ctx context.Context, q querier, service string) (ir.IRObject, int64, error) {
	var (
		a          = &record.ManagedAccount{ServiceIdentifier: service}
		email      sql.NullString
		token      []byte
		rowVersion int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT name, email, change_token, row_version
		FROM managed_accounts
		WHERE service_identifier = ?
	`, service).Scan(&a.Name, &email, &token, &rowVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read account %s: %w", service, err)
	}
	if email.Valid {
		a.Email = &email.String
	}
	a.ChangeToken = token
	return accountToIR(a), rowVersion, nil
}
