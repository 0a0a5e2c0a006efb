// Package schema loads entity declarations written in CUE into a
// syncable.Registry.
//
// A schema file declares entities under a top-level `entity` struct:
//
//	entity: Game: {
//		keys: ["name", "artworkURL"]
//		files: [{identifier: "game", field: "filename"}]
//		nameField:  "name"
//		resolution: "newest"
//	}
//
// Every declaration is closed over #Entity (see entity.cue) and defaults
// are filled in before the declaration is turned into an EntityType.
package schema
