package record

// ManagedRecord pairs the Local and Remote Records that share a RecordID.
// Either side may be absent. When both sides are deleted the record and
// everything it owns is purged.
type ManagedRecord struct {
	ID     RecordID
	Local  *LocalRecord
	Remote *RemoteRecord

	IsConflicted     bool
	IsSyncingEnabled bool
}

// NewManagedRecord creates an empty managed record with syncing enabled.
func NewManagedRecord(id RecordID) *ManagedRecord {
	return &ManagedRecord{ID: id, IsSyncingEnabled: true}
}

// LocalStatus returns the local status, or nil when there is no local record.
func (m *ManagedRecord) LocalStatus() *Status {
	if m.Local == nil {
		return nil
	}
	return m.Local.Status.Ptr()
}

// RemoteStatus returns the remote status, or nil when there is no remote record.
func (m *ManagedRecord) RemoteStatus() *Status {
	if m.Remote == nil {
		return nil
	}
	return m.Remote.Status.Ptr()
}

// BaseAction is the table classification of the status pair alone.
func (m *ManagedRecord) BaseAction() SyncAction {
	return DeriveAction(m.LocalStatus(), m.RemoteStatus())
}

// SyncAction is the refined classification schedulers act on.
func (m *ManagedRecord) SyncAction() SyncAction {
	return Refine(m.BaseAction(), m.Local, m.Remote)
}

// IsSyncable reports whether schedulers may act on the record.
func (m *ManagedRecord) IsSyncable() bool {
	return !m.IsConflicted && m.IsSyncingEnabled
}

// ShouldPurge reports whether both sides are deleted.
func (m *ManagedRecord) ShouldPurge() bool {
	return m.Local != nil && m.Remote != nil &&
		m.Local.Status == StatusDeleted && m.Remote.Status == StatusDeleted
}

// LocalizedName prefers the remote's display name when the caller has no
// local one.
func (m *ManagedRecord) LocalizedName(local string) string {
	if local != "" {
		return local
	}
	if m.Remote != nil {
		return m.Remote.LocalizedName
	}
	return ""
}

// Clone returns a deep copy.
func (m *ManagedRecord) Clone() *ManagedRecord {
	if m == nil {
		return nil
	}
	out := *m
	out.Local = m.Local.Clone()
	out.Remote = m.Remote.Clone()
	return &out
}
