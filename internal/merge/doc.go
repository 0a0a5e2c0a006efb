// Package merge arbitrates storage-level write races.
//
// Rows are compared as flat IR objects. The default strategy is field-level
// and writer-trumps: fields the losing writer changed relative to what it
// read win, all other fields keep their stored value. Record kinds then get
// targeted fixups so that a race never leaves a remote record spuriously
// updated, never orphans remote file rows, and never drops a change token.
package merge
