// Package record defines the engine's view of a synced entity: the Local
// Record (known local state), the Remote Record (last known remote state),
// the Managed Record that pairs them, Remote File descriptors, and the
// Managed Account holding the incremental-sync change token.
//
// It also owns the sync-action state machine. DeriveAction is the total
// 16-case table over (local status, remote status); Refine post-filters it
// so that stale base versions and silently diverged content surface as
// conflicts. Both are pure functions and are the contract every query and
// scheduler builds on.
//
// Records are plain values. Persisting them is the store's job and
// resolving their backing domain entity is the controller's job; a Local
// Record only carries a locator string, never a pointer to the entity.
package record
