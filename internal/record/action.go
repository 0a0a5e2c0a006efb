package record

import (
	"fmt"
	"strings"
	"time"
)

// SyncAction is what a scheduler must do to reconcile a record.
type SyncAction int

const (
	ActionNone SyncAction = iota
	ActionUpload
	ActionDownload
	ActionDelete
	ActionConflict
)

// AllActions lists every action in declaration order.
var AllActions = []SyncAction{ActionNone, ActionUpload, ActionDownload, ActionDelete, ActionConflict}

// String returns the lowercase action name.
func (a SyncAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionDelete:
		return "delete"
	case ActionConflict:
		return "conflict"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseSyncAction parses an action name.
func ParseSyncAction(name string) (SyncAction, error) {
	for _, a := range AllActions {
		if strings.EqualFold(a.String(), strings.TrimSpace(name)) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown sync action %q", name)
}

// absent is the table index used for a missing side.
const absent = 3

// actionTable is indexed [local][remote] with normal, updated, deleted, absent.
var actionTable = [4][4]SyncAction{
	//              normal          updated         deleted       absent
	/* normal  */ {ActionNone, ActionDownload, ActionDelete, ActionUpload},
	/* updated */ {ActionUpload, ActionConflict, ActionUpload, ActionUpload},
	/* deleted */ {ActionDelete, ActionDownload, ActionDelete, ActionDelete},
	/* absent  */ {ActionDownload, ActionDownload, ActionDelete, ActionDelete},
}

func statusIndex(s *Status) int {
	if s == nil {
		return absent
	}
	switch *s {
	case StatusNormal, StatusUpdated, StatusDeleted:
		return int(*s)
	default:
		// Corrupt statuses are treated as updated, matching StatusFromRaw.
		return int(StatusUpdated)
	}
}

// DeriveAction classifies a (local, remote) status pair. Either side may be
// nil. The table is total: every one of the 16 combinations has exactly one action.
func DeriveAction(local, remote *Status) SyncAction {
	return actionTable[statusIndex(local)][statusIndex(remote)]
}

// StatusPair is one (local, remote) combination; nil means absent.
type StatusPair struct {
	Local  *Status
	Remote *Status
}

// StatusPairs returns every combination whose base action is a.
// Stores use it to pre-filter candidate rows before Refine runs.
func StatusPairs(a SyncAction) []StatusPair {
	sides := []*Status{StatusNormal.Ptr(), StatusUpdated.Ptr(), StatusDeleted.Ptr(), nil}

	var pairs []StatusPair
	for _, l := range sides {
		for _, r := range sides {
			if DeriveAction(l, r) == a {
				pairs = append(pairs, StatusPair{Local: l, Remote: r})
			}
		}
	}
	return pairs
}

// Refine applies the conflict post-filters to a base action:
//   - upload with a stale base version becomes conflict: the local record's
//     confirmed version differs from the remote's (an absent version is a
//     value of its own, so two absent versions agree);
//   - none with differing content hashes becomes conflict.
//
// Every other action passes through unchanged.
func Refine(base SyncAction, local *LocalRecord, remote *RemoteRecord) SyncAction {
	switch base {
	case ActionUpload:
		if !equalOptional(local.VersionIdentifier(), remote.VersionIdentifier()) {
			return ActionConflict
		}
	case ActionNone:
		if local != nil && remote != nil && local.SHA1Hash != remote.SHA1Hash {
			return ActionConflict
		}
	}
	return base
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ConflictResolution is an entity's policy for a record in conflict.
type ConflictResolution int

const (
	// ResolveConflict leaves the record flagged for a user decision.
	ResolveConflict ConflictResolution = iota
	// ResolveLocal keeps the local state and re-uploads it.
	ResolveLocal
	// ResolveRemote takes the remote state.
	ResolveRemote
	// ResolveNewest picks whichever side changed last.
	ResolveNewest
	// ResolveOldest picks whichever side changed first.
	ResolveOldest
)

// String returns the lowercase resolution name.
func (r ConflictResolution) String() string {
	switch r {
	case ResolveConflict:
		return "conflict"
	case ResolveLocal:
		return "local"
	case ResolveRemote:
		return "remote"
	case ResolveNewest:
		return "newest"
	case ResolveOldest:
		return "oldest"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseConflictResolution parses a resolution name.
func ParseConflictResolution(name string) (ConflictResolution, error) {
	for _, r := range []ConflictResolution{ResolveConflict, ResolveLocal, ResolveRemote, ResolveNewest, ResolveOldest} {
		if strings.EqualFold(r.String(), strings.TrimSpace(name)) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown conflict resolution %q", name)
}

// Arbitrate turns a resolution into the action it implies: upload, download,
// or conflict. Records missing either side always stay in conflict.
func Arbitrate(resolution ConflictResolution, local *LocalRecord, remote *RemoteRecord) SyncAction {
	if local == nil || remote == nil {
		return ActionConflict
	}

	switch resolution {
	case ResolveLocal:
		return ActionUpload
	case ResolveRemote:
		return ActionDownload
	case ResolveNewest:
		return pickByDate(local.ModificationDate, remote.Version.Date, func(l, r time.Time) bool { return l.After(r) })
	case ResolveOldest:
		return pickByDate(local.ModificationDate, remote.Version.Date, func(l, r time.Time) bool { return l.Before(r) })
	default:
		return ActionConflict
	}
}

func pickByDate(local, remote time.Time, localWins func(l, r time.Time) bool) SyncAction {
	if localWins(local, remote) {
		return ActionUpload
	}
	return ActionDownload
}
