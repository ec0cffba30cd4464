// Package scene normalizes heterogeneous telemetry records into canonical
// scene descriptors and identity-derived values.
package scene

// Descriptor is a normalized snapshot of where the player currently is,
// derived from one telemetry record. Empty strings and nil pointers mean
// the field was absent from the record. Descriptors are immutable and are
// superseded wholesale by the next one.
type Descriptor struct {
	DungeonGUID string
	LevelUUID   string
	SceneGUID   string
	RecordID    string

	// LevelMapID is the proposed map identity. Nil when the record did not
	// carry one; a staged transition is only created from a non-nil value.
	LevelMapID *int64

	// LastSceneID is diagnostic only and never drives a transition.
	LastSceneID int64

	// LineID is the channel/shard the player is on, when known.
	LineID *int32
}

// Equal reports whether two descriptors match field by field. Any
// difference marks the newer descriptor as changed.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.DungeonGUID == other.DungeonGUID &&
		d.LevelUUID == other.LevelUUID &&
		d.SceneGUID == other.SceneGUID &&
		d.RecordID == other.RecordID &&
		equalInt64Ptr(d.LevelMapID, other.LevelMapID) &&
		d.LastSceneID == other.LastSceneID &&
		equalInt32Ptr(d.LineID, other.LineID)
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt32Ptr(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
