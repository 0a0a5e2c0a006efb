// Package persist is the host application's unit-of-work layer.
//
// A Container holds entity objects addressed by ObjectID locators and
// indexed by RecordID. All mutation goes through a Tx, which tracks the
// fields it changes and notifies registered Observers at three points:
// before the commit, on each Flush, and after the commit.
//
// Transactions are optimistic. A commit that races another commit on the
// same object, or that inserts an object whose RecordID already exists, is
// settled by the merge policy instead of failing.
package persist
