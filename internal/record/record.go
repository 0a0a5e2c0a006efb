package record

import (
	"fmt"
	"strings"
	"time"
)

// RecordID is the composite natural key of a synced entity.
// Exactly one Managed Record exists per RecordID.
type RecordID struct {
	Type       string `json:"type" yaml:"type"`
	Identifier string `json:"identifier" yaml:"identifier"`
}

// NewRecordID creates a RecordID.
func NewRecordID(recordType, identifier string) RecordID {
	return RecordID{Type: recordType, Identifier: identifier}
}

// String renders the id as "Type-Identifier".
func (id RecordID) String() string {
	return id.Type + "-" + id.Identifier
}

// IsZero reports whether the id has no type and no identifier.
func (id RecordID) IsZero() bool {
	return id.Type == "" && id.Identifier == ""
}

// Less orders ids by type, then identifier.
func (id RecordID) Less(other RecordID) bool {
	if id.Type != other.Type {
		return id.Type < other.Type
	}
	return id.Identifier < other.Identifier
}

// Status is the sync status of one side of a record.
type Status int16

const (
	StatusNormal Status = iota
	StatusUpdated
	StatusDeleted
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{StatusNormal, StatusUpdated, StatusDeleted}

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusUpdated:
		return "updated"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// Ptr returns a pointer to a copy of s, for building optional statuses.
func (s Status) Ptr() *Status {
	return &s
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "normal":
		return StatusNormal, nil
	case "updated":
		return StatusUpdated, nil
	case "deleted":
		return StatusDeleted, nil
	default:
		return 0, fmt.Errorf("unknown record status %q", name)
	}
}

// StatusFromRaw converts a persisted raw value to a Status.
// Unrecognized values decode as updated, so a corrupt row is re-synced
// rather than silently treated as settled.
func StatusFromRaw(raw int64) Status {
	switch Status(raw) {
	case StatusNormal, StatusUpdated, StatusDeleted:
		return Status(raw)
	default:
		return StatusUpdated
	}
}

// Version identifies one remote snapshot of a record.
// Identifiers are only comparable within a single remote store.
type Version struct {
	Identifier string    `json:"identifier" yaml:"identifier"`
	Date       time.Time `json:"date" yaml:"date"`
}

// versionIdentifier returns the identifier of v, or nil when v is absent.
func versionIdentifier(v *Version) *string {
	if v == nil {
		return nil
	}
	id := v.Identifier
	return &id
}
