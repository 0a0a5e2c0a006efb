// Package store provides SQLite-backed storage for the engine's own
// records: managed, local and remote records, remote file descriptors,
// accounts, and store metadata such as the seeding flag.
//
// # Optimistic writes
//
// Every versioned row carries row_version. A Tx remembers the versions it
// read and buffers its writes. At commit the rows are re-read inside one
// SQL transaction; a row whose version moved is a write race and is
// resolved by the merge policy rather than overwritten:
//   - remote records keep status normal when nothing semantic changed
//   - local records reconcile their remote file set, deleting orphans
//   - accounts never lose a stored change token
//
// A race against a row that has disappeared is a context-level conflict and
// aborts the commit.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Remote files reference their local record and local and remote records
// reference the managed record, all with ON DELETE CASCADE, so purging a
// managed record leaves no orphaned descriptors behind.
package store
