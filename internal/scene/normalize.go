package scene

import "strings"

// Telemetry records are decoded protocol payloads with no stable shape:
// the scene sub-record and display name move between nesting paths across
// client builds. Each field is probed at every known path and treated as
// absent when no path yields a usable value.

var sceneRecordPaths = [][]string{
	{"SceneData"},
	{"sceneData"},
	{"Scene"},
	{"scene"},
}

var displayNamePaths = [][]string{
	{"CharBase", "Name"},
	{"charBase", "name"},
	{"RoleInfo", "Name"},
	{"roleInfo", "name"},
	{"Name"},
	{"name"},
}

// FromRecord extracts a Descriptor from a heterogeneous telemetry record.
// It returns false when the record carries no scene sub-record at all.
func FromRecord(record map[string]any) (Descriptor, bool) {
	sub := subRecord(record, sceneRecordPaths)
	if sub == nil {
		return Descriptor{}, false
	}

	d := Descriptor{
		DungeonGUID: stringField(sub, "DungeonGuid", "dungeonGuid"),
		LevelUUID:   stringField(sub, "LevelUuid", "levelUuid"),
		SceneGUID:   stringField(sub, "SceneGuid", "sceneGuid"),
		RecordID:    stringField(sub, "RecordId", "recordId"),
	}
	if v, ok := intField(sub, "LevelMapId", "levelMapId"); ok {
		d.LevelMapID = &v
	}
	if v, ok := intField(sub, "LastSceneId", "lastSceneId"); ok {
		d.LastSceneID = v
	}
	if v, ok := intField(sub, "LineId", "lineId"); ok {
		line := int32(v)
		d.LineID = &line
	}
	return d, true
}

// DisplayName probes the known nesting paths for a player display name.
// It returns "" when none is present.
func DisplayName(record map[string]any) string {
	for _, path := range displayNamePaths {
		node := any(record)
		for _, key := range path {
			m, ok := node.(map[string]any)
			if !ok {
				node = nil
				break
			}
			node = m[key]
		}
		if s, ok := node.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// SceneIDFromRecord derives the authoritative scene id from an identity
// snapshot record, bypassing descriptor staging. Returns nil when absent.
func SceneIDFromRecord(record map[string]any) *int64 {
	if v, ok := intField(record, "SceneId", "sceneId"); ok {
		return &v
	}
	if sub := subRecord(record, sceneRecordPaths); sub != nil {
		if v, ok := intField(sub, "SceneId", "sceneId"); ok {
			return &v
		}
	}
	return nil
}

// LineIDFromRecord derives the candidate line/channel id from an identity
// snapshot record. Returns nil when absent.
func LineIDFromRecord(record map[string]any) *int32 {
	if v, ok := intField(record, "LineId", "lineId"); ok {
		line := int32(v)
		return &line
	}
	if sub := subRecord(record, sceneRecordPaths); sub != nil {
		if v, ok := intField(sub, "LineId", "lineId"); ok {
			line := int32(v)
			return &line
		}
	}
	return nil
}

func subRecord(record map[string]any, paths [][]string) map[string]any {
	for _, path := range paths {
		node := any(record)
		for _, key := range path {
			m, ok := node.(map[string]any)
			if !ok {
				node = nil
				break
			}
			node = m[key]
		}
		if m, ok := node.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func stringField(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := record[key].(string); ok {
			return s
		}
	}
	return ""
}

func intField(record map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		value, present := record[key]
		if !present {
			continue
		}
		switch v := value.(type) {
		case int64:
			return v, true
		case int32:
			return int64(v), true
		case int:
			return int64(v), true
		case uint32:
			return int64(v), true
		case uint64:
			return int64(v), true
		case float64:
			return int64(v), true
		case float32:
			return int64(v), true
		}
	}
	return 0, false
}
