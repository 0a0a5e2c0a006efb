package persist

import (
	"slices"

	"github.com/roach88/harmony/internal/record"
)

// Observer receives commit lifecycle callbacks for every transaction on a
// Container. Callbacks run synchronously on the committing goroutine and
// must not begin transactions on the same container.
type Observer interface {
	// WillCommit runs before the commit is applied. Change tracking is
	// reset once the commit completes, so this is the last chance to read
	// which fields changed.
	WillCommit(cc *CommitContext)

	// ObjectsChanged runs on every Flush. It may fire several times per
	// transaction.
	ObjectsChanged(cc *CommitContext)

	// DidCommit runs after the commit is applied.
	DidCommit(cc *CommitContext, result CommitResult)
}

// CommitResult partitions the objects a commit touched.
type CommitResult struct {
	Inserted []ObjectID
	Updated  []ObjectID
	Deleted  []ObjectID

	// DeletedRecords holds the natural keys of deleted objects, which can no
	// longer be resolved through the container.
	DeletedRecords map[ObjectID]record.RecordID

	// Merged maps inserted ids to the existing objects they were merged into.
	Merged map[ObjectID]ObjectID
}

// IsEmpty reports whether the commit changed nothing.
func (r CommitResult) IsEmpty() bool {
	return len(r.Inserted) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// CommitContext is scoped to exactly one transaction.
//
// ChangedKeys is the observers' per-transaction cache of changed field
// names, keyed by object. It starts empty for every transaction and is
// discarded with it.
type CommitContext struct {
	tx *Tx

	ChangedKeys map[ObjectID]map[string]struct{}
}

func newCommitContext(tx *Tx) *CommitContext {
	return &CommitContext{
		tx:          tx,
		ChangedKeys: make(map[ObjectID]map[string]struct{}),
	}
}

// Author returns the transaction's author tag.
func (cc *CommitContext) Author() string {
	return cc.tx.author
}

// Pending returns the fields changed on existing objects since the last
// Flush, with sorted keys.
func (cc *CommitContext) Pending() map[ObjectID][]string {
	out := make(map[ObjectID][]string, len(cc.tx.changes))
	for id, set := range cc.tx.changes {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out[id] = keys
	}
	return out
}

// Object returns the transaction's view of an object.
func (cc *CommitContext) Object(id ObjectID) (*Object, bool) {
	return cc.tx.Get(id)
}

// Union adds keys to the cached change set for id.
func (cc *CommitContext) Union(id ObjectID, keys ...string) {
	if len(keys) == 0 {
		return
	}
	set, ok := cc.ChangedKeys[id]
	if !ok {
		set = make(map[string]struct{}, len(keys))
		cc.ChangedKeys[id] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

// Changed returns the cached change set for id, sorted.
func (cc *CommitContext) Changed(id ObjectID) []string {
	set := cc.ChangedKeys[id]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
