// Package harness runs record controller scenarios written in YAML.
//
// A scenario loads an entity schema, drives a real controller through a
// sequence of host edits and remote events, and then checks the resulting
// managed records.
//
// # Scenario Format
//
//	name: upload_then_conflict
//	description: "A record edited on both sides becomes a conflict"
//	schema: schema/library.cue
//	steps:
//	  - op: insert
//	    entity: Game
//	    fields: { identifier: g1, name: Sonic }
//	  - op: uploaded
//	    entity: Game
//	    identifier: g1
//	    version: v1
//	  - op: update
//	    entity: Game
//	    identifier: g1
//	    fields: { name: "Sonic 2" }
//	  - op: remote
//	    entity: Game
//	    identifier: g1
//	    status: updated
//	    version: v2
//	assertions:
//	  - type: action
//	    record: Game-g1
//	    expect: conflict
//	  - type: query
//	    action: conflict
//	    records: [Game-g1]
//
// The schema path is resolved relative to the scenario file.
//
// # Step Operations
//
//   - insert, update, delete, notify: host edits through the object container
//   - remote: apply a remote record (status, version, locked, hash)
//   - uploaded, downloaded: report a finished transfer
//   - enable, disable: toggle syncing for a record
//   - arbitrate, keep_local: conflict handling
//   - seed: create records for entities that have none
//   - advance: move the clock forward by a duration
//
// # Assertion Types
//
//   - action: the record's sync action
//   - local_status, remote_status: a record side's status, or "nil"
//   - conflicted: the record is flagged as conflicted
//   - query: exactly these records need the given action
//   - absent: no managed record exists
//
// # Deterministic Testing
//
// Every scenario runs against an in-memory record store with a fixed clock
// starting at testutil.Epoch and sequential object locators, so traces are
// identical across runs and can be compared with golden files.
package harness
