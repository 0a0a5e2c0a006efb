package store

import (
	"context"
	"fmt"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

// writeRow upserts a versioned row from its IR form, bumping row_version.
func writeRow(ctx context.Context, q querier, key rowKey, obj ir.IRObject) error {
	switch key.kind {
	case merge.KindManagedRecord:
		return writeManaged(ctx, q, key.id, managedFromIR(obj))
	case merge.KindLocalRecord:
		lr, err := localFromIR(key.id, obj)
		if err != nil {
			return fmt.Errorf("write local %s: %w", key.id, err)
		}
		return writeLocal(ctx, q, lr)
	case merge.KindRemoteRecord:
		rr, err := remoteFromIR(key.id, obj)
		if err != nil {
			return fmt.Errorf("write remote %s: %w", key.id, err)
		}
		return writeRemote(ctx, q, rr)
	case merge.KindAccount:
		a, err := accountFromIR(key.service, obj)
		if err != nil {
			return fmt.Errorf("write account %s: %w", key.service, err)
		}
		return writeAccount(ctx, q, a)
	default:
		return fmt.Errorf("write row: unknown kind %s", key.kind)
	}
}

// ensureManaged creates the managed row for id if it does not exist yet.
func ensureManaged(ctx context.Context, q querier, id record.RecordID) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO managed_records (record_type, record_identifier)
		VALUES (?, ?)
		ON CONFLICT(record_type, record_identifier) DO NOTHING
	`, id.Type, id.Identifier)
	if err != nil {
		return fmt.Errorf("write managed %s: %w", id, err)
	}
	return nil
}

func writeManaged(ctx context.Context, q querier, id record.RecordID, flags managedFlags) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO managed_records (record_type, record_identifier, is_conflicted, is_syncing_enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(record_type, record_identifier) DO UPDATE SET
			is_conflicted = excluded.is_conflicted,
			is_syncing_enabled = excluded.is_syncing_enabled,
			row_version = managed_records.row_version + 1
	`, id.Type, id.Identifier, boolToInt(flags.IsConflicted), boolToInt(flags.IsSyncingEnabled))
	if err != nil {
		return fmt.Errorf("write managed %s: %w", id, err)
	}
	return nil
}

func writeLocal(ctx context.Context, q querier, lr *record.LocalRecord) error {
	if err := ensureManaged(ctx, q, lr.ID); err != nil {
		return err
	}

	additional, err := marshalObject(lr.AdditionalProperties)
	if err != nil {
		return fmt.Errorf("write local %s: %w", lr.ID, err)
	}
	relationships, err := marshalRelationships(lr.RemoteRelationships)
	if err != nil {
		return fmt.Errorf("write local %s: %w", lr.ID, err)
	}

	var versionID, versionDate any
	if lr.Version != nil {
		versionID = lr.Version.Identifier
		versionDate = lr.Version.Date.UnixNano()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO local_records
		(record_type, record_identifier, locator, status, modification_date, sha1_hash,
		 version_identifier, version_date, additional_properties, remote_relationships)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_type, record_identifier) DO UPDATE SET
			locator = excluded.locator,
			status = excluded.status,
			modification_date = excluded.modification_date,
			sha1_hash = excluded.sha1_hash,
			version_identifier = excluded.version_identifier,
			version_date = excluded.version_date,
			additional_properties = excluded.additional_properties,
			remote_relationships = excluded.remote_relationships,
			row_version = local_records.row_version + 1
	`,
		lr.ID.Type,
		lr.ID.Identifier,
		lr.Locator,
		int64(lr.Status),
		lr.ModificationDate.UnixNano(),
		lr.SHA1Hash,
		versionID,
		versionDate,
		additional,
		relationships,
	)
	if err != nil {
		return fmt.Errorf("write local %s: %w", lr.ID, err)
	}

	return syncFiles(ctx, q, lr.ID, lr.RemoteFiles)
}

// syncFiles makes the remote_files rows for id match files exactly. Rows
// are upserted so reloading an existing descriptor never trips the
// primary key.
func syncFiles(ctx context.Context, q querier, id record.RecordID, files []record.RemoteFile) error {
	existing, err := loadFiles(ctx, q, id)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(files))
	for _, f := range files {
		keep[f.Identifier] = struct{}{}
	}
	for _, f := range existing {
		if _, ok := keep[f.Identifier]; ok {
			continue
		}
		if err := deleteFile(ctx, q, id, f.Identifier); err != nil {
			return err
		}
	}

	for _, f := range files {
		_, err := q.ExecContext(ctx, `
			INSERT INTO remote_files
			(record_type, record_identifier, identifier, sha1_hash, size, remote_identifier, version_identifier)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_type, record_identifier, identifier) DO UPDATE SET
				sha1_hash = excluded.sha1_hash,
				size = excluded.size,
				remote_identifier = excluded.remote_identifier,
				version_identifier = excluded.version_identifier
		`, id.Type, id.Identifier, f.Identifier, f.SHA1Hash, f.Size, f.RemoteIdentifier, f.VersionIdentifier)
		if err != nil {
			return fmt.Errorf("write remote file %s/%s: %w", id, f.Identifier, err)
		}
	}
	return nil
}

func deleteFile(ctx context.Context, q querier, id record.RecordID, identifier string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM remote_files
		WHERE record_type = ? AND record_identifier = ? AND identifier = ?
	`, id.Type, id.Identifier, identifier)
	if err != nil {
		return fmt.Errorf("delete remote file %s/%s: %w", id, identifier, err)
	}
	return nil
}

func writeRemote(ctx context.Context, q querier, rr *record.RemoteRecord) error {
	if err := ensureManaged(ctx, q, rr.ID); err != nil {
		return err
	}

	metadata, err := marshalMetadata(rr.Metadata)
	if err != nil {
		return fmt.Errorf("write remote %s: %w", rr.ID, err)
	}

	var prevID, prevDate any
	if rr.PreviousUnlockedVersion != nil {
		prevID = rr.PreviousUnlockedVersion.Identifier
		prevDate = rr.PreviousUnlockedVersion.Date.UnixNano()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO remote_records
		(record_type, record_identifier, remote_identifier, status, version_identifier, version_date,
		 is_locked, previous_version_identifier, previous_version_date,
		 author, localized_name, sha1_hash, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_type, record_identifier) DO UPDATE SET
			remote_identifier = excluded.remote_identifier,
			status = excluded.status,
			version_identifier = excluded.version_identifier,
			version_date = excluded.version_date,
			is_locked = excluded.is_locked,
			previous_version_identifier = excluded.previous_version_identifier,
			previous_version_date = excluded.previous_version_date,
			author = excluded.author,
			localized_name = excluded.localized_name,
			sha1_hash = excluded.sha1_hash,
			metadata = excluded.metadata,
			row_version = remote_records.row_version + 1
	`,
		rr.ID.Type,
		rr.ID.Identifier,
		rr.Identifier,
		int64(rr.Status),
		rr.Version.Identifier,
		rr.Version.Date.UnixNano(),
		boolToInt(rr.IsLocked),
		prevID,
		prevDate,
		rr.Author,
		rr.LocalizedName,
		rr.SHA1Hash,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("write remote %s: %w", rr.ID, err)
	}
	return nil
}

func writeAccount(ctx context.Context, q querier, a *record.ManagedAccount) error {
	var email any
	if a.Email != nil {
		email = *a.Email
	}
	var token any
	if a.ChangeToken != nil {
		token = a.ChangeToken
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO managed_accounts (service_identifier, name, email, change_token)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_identifier) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			change_token = excluded.change_token,
			row_version = managed_accounts.row_version + 1
	`, a.ServiceIdentifier, a.Name, email, token)
	if err != nil {
		return fmt.Errorf("write account %s: %w", a.ServiceIdentifier, err)
	}
	return nil
}

// purgeManaged deletes a managed record; its local, remote and file rows
// cascade.
func purgeManaged(ctx context.Context, q querier, id record.RecordID) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM managed_records
		WHERE record_type = ? AND record_identifier = ?
	`, id.Type, id.Identifier)
	if err != nil {
		return fmt.Errorf("purge managed %s: %w", id, err)
	}
	return nil
}

// deleteLocal deletes a record's local side; its remote file rows cascade.
func deleteLocal(ctx context.Context, q querier, id record.RecordID) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM local_records
		WHERE record_type = ? AND record_identifier = ?
	`, id.Type, id.Identifier)
	if err != nil {
		return fmt.Errorf("delete local %s: %w", id, err)
	}
	return nil
}
