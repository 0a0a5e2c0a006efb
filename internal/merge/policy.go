package merge

import (
	"log/slog"
	"slices"

	"github.com/roach88/harmony/internal/ir"
)

// Kind identifies the model a conflicting row belongs to.
type Kind string

const (
	KindLocalRecord   Kind = "LocalRecord"
	KindRemoteRecord  Kind = "RemoteRecord"
	KindManagedRecord Kind = "ManagedRecord"
	KindAccount       Kind = "ManagedAccount"

	// KindEntity is any host application entity.
	KindEntity Kind = "Entity"
)

// IsCore reports whether k is one of the engine's own record kinds.
func (k Kind) IsCore() bool {
	switch k {
	case KindLocalRecord, KindRemoteRecord, KindManagedRecord, KindAccount:
		return true
	default:
		return false
	}
}

// Field names the policy interprets. Stores must use these names when
// flattening records into IR objects.
const (
	FieldStatus            = "status"
	FieldVersionIdentifier = "versionIdentifier"
	FieldRemoteFiles       = "remoteFiles"
	FieldChangeToken       = "changeToken"
)

// StatusNormal is the IR form of a normal record status.
var StatusNormal = ir.IRString("normal")

// Conflict describes two writers racing on the same uniquely keyed row.
type Conflict struct {
	Kind Kind
	Key  string

	// Snapshot is the row as the losing writer last read it; nil when the
	// writer believed the row did not exist.
	Snapshot ir.IRObject

	// Persisted is the authoritative stored row. It is nil when the row is
	// gone from storage, which makes this a context-level conflict.
	Persisted ir.IRObject

	// Pending is the row the writer is trying to save.
	Pending ir.IRObject
}

// Resolution is the merged row plus bookkeeping the store must apply.
type Resolution struct {
	Value ir.IRObject

	// Orphans are remote file identifiers that lost their owner and must be deleted.
	Orphans []string

	// Reload are remote file identifiers that must be re-read from storage
	// before the next save.
	Reload []string
}

// Policy resolves storage-level write races.
type Policy struct {
	logger *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = l
	}
}

// NewPolicy creates a merge policy.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve merges a conflict.
//
// Rules, in order:
//  1. A core record with no persisted copy is merged field by field and then
//     reported as a context-level conflict. Entity conflicts are never escalated.
//  2. A remote record whose persisted status was normal keeps status normal
//     when the merged version identifier is still the persisted one.
//  3. A local record whose writer changed its remote file set takes the
//     writer's set; files dropped from it become orphans and every file in
//     the union must be reloaded.
//  4. An account never loses a persisted change token to a merge.
func (p *Policy) Resolve(c Conflict) (Resolution, error) {
	merged := writerTrumps(c.Snapshot, c.Persisted, c.Pending)
	res := Resolution{Value: merged}

	if c.Persisted == nil {
		if c.Kind.IsCore() {
			p.logger.Error("context-level conflict on engine record",
				"kind", c.Kind,
				"key", c.Key)
			return res, newContextLevelError(c.Kind, c.Key)
		}
		p.logger.Debug("entity conflict without persisted copy", "key", c.Key)
		return res, nil
	}

	switch c.Kind {
	case KindRemoteRecord:
		previousVersion, hasVersion := c.Persisted[FieldVersionIdentifier]
		if ir.Equal(c.Persisted[FieldStatus], StatusNormal) && hasVersion &&
			ir.Equal(previousVersion, merged[FieldVersionIdentifier]) {
			merged[FieldStatus] = StatusNormal
		}

	case KindLocalRecord:
		if !ir.Equal(c.Snapshot[FieldRemoteFiles], c.Pending[FieldRemoteFiles]) {
			res.Orphans, res.Reload = reconcileFiles(c.Persisted[FieldRemoteFiles], merged[FieldRemoteFiles])
		}

	case KindAccount:
		previous := c.Persisted[FieldChangeToken]
		if !isAbsent(previous) && isAbsent(merged[FieldChangeToken]) {
			p.logger.Warn("restoring change token lost to concurrent write", "key", c.Key)
			merged[FieldChangeToken] = previous
		}
	}

	return res, nil
}

// writerTrumps starts from the persisted row and overlays every field the
// writer changed relative to its snapshot.
func writerTrumps(snapshot, persisted, pending ir.IRObject) ir.IRObject {
	out := persisted.Clone()
	if out == nil {
		out = ir.IRObject{}
	}

	keys := make(map[string]struct{}, len(snapshot)+len(pending))
	for k := range snapshot {
		keys[k] = struct{}{}
	}
	for k := range pending {
		keys[k] = struct{}{}
	}

	for k := range keys {
		if ir.Equal(snapshot[k], pending[k]) {
			continue
		}
		if isAbsent(pending[k]) {
			delete(out, k)
			continue
		}
		out[k] = ir.CloneValue(pending[k])
	}
	return out
}

// reconcileFiles returns the identifiers of files only in previous, and the
// identifiers of every file in either set.
func reconcileFiles(previous, updated ir.IRValue) (orphans, reload []string) {
	prev := fileIdentifiers(previous)
	next := fileIdentifiers(updated)

	union := make(map[string]struct{}, len(prev)+len(next))
	for id := range prev {
		union[id] = struct{}{}
		if _, ok := next[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	for id := range next {
		union[id] = struct{}{}
	}
	for id := range union {
		reload = append(reload, id)
	}

	slices.Sort(orphans)
	slices.Sort(reload)
	return orphans, reload
}

func fileIdentifiers(v ir.IRValue) map[string]struct{} {
	out := make(map[string]struct{})
	arr, ok := v.(ir.IRArray)
	if !ok {
		return out
	}
	for _, elem := range arr {
		obj, ok := elem.(ir.IRObject)
		if !ok {
			continue
		}
		if id, ok := obj["identifier"].(ir.IRString); ok {
			out[string(id)] = struct{}{}
		}
	}
	return out
}

func isAbsent(v ir.IRValue) bool {
	if v == nil {
		return true
	}
	_, null := v.(ir.IRNull)
	return null
}
