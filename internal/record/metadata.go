package record

import "strings"

// MetadataKey names an entry in a remote record's metadata map.
type MetadataKey string

// Reserved metadata keys written by the engine. Everything else in a remote
// metadata map belongs to the application and is preserved verbatim.
const (
	KeyRecordedObjectType        MetadataKey = "harmony_recordedObjectType"
	KeyRecordedObjectIdentifier  MetadataKey = "harmony_recordedObjectIdentifier"
	KeyRelationshipIdentifier    MetadataKey = "harmony_relationshipIdentifier"
	KeyIsLocked                  MetadataKey = "harmony_locked"
	KeyPreviousVersionIdentifier MetadataKey = "harmony_previousVersionIdentifier"
	KeyPreviousVersionDate       MetadataKey = "harmony_previousVersionDate"
	KeySHA1Hash                  MetadataKey = "harmony_sha1Hash"
	KeyAuthor                    MetadataKey = "harmony_author"
	KeyLocalizedName             MetadataKey = "harmony_localizedName"
)

const reservedPrefix = "harmony_"

// AllReservedKeys lists every key the engine owns.
var AllReservedKeys = []MetadataKey{
	KeyRecordedObjectType, KeyRecordedObjectIdentifier, KeyRelationshipIdentifier,
	KeyIsLocked, KeyPreviousVersionIdentifier, KeyPreviousVersionDate,
	KeySHA1Hash, KeyAuthor, KeyLocalizedName,
}

// IsReserved reports whether key belongs to the engine's namespace.
func (k MetadataKey) IsReserved() bool {
	return strings.HasPrefix(string(k), reservedPrefix)
}

// Lookup returns metadata[key] and whether it was present.
func Lookup(metadata map[string]string, key MetadataKey) (string, bool) {
	v, ok := metadata[string(key)]
	return v, ok
}

// ApplicationMetadata returns a copy of metadata without reserved keys.
func ApplicationMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range metadata {
		if MetadataKey(k).IsReserved() {
			continue
		}
		out[k] = v
	}
	return out
}
