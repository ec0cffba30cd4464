// Package mapnames resolves numeric map/instance ids to display names from
// a small read-only lookup file.
package mapnames

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Table maps map ids to human-readable names. The zero value is usable and
// resolves every id to its fallback label.
type Table struct {
	names map[int64]string
}

// Load reads the lookup file at path. A missing or corrupt file yields an
// empty table, never an error.
func Load(path string) *Table {
	table := &Table{names: make(map[int64]string)}
	if path == "" {
		return table
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("map name table unavailable at %s: %v", path, err)
		return table
	}
	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("map name table corrupt at %s: %v", path, err)
		return table
	}
	for key, name := range raw {
		var id int64
		if _, err := fmt.Sscanf(key, "%d", &id); err == nil {
			table.names[id] = name
		}
	}
	return table
}

// Lookup returns the configured name for a map id.
func (t *Table) Lookup(id int64) (string, bool) {
	if t == nil || t.names == nil {
		return "", false
	}
	name, ok := t.names[id]
	return name, ok
}

// Name resolves a map id, falling back to "Map <id>".
func (t *Table) Name(id int64) string {
	if name, ok := t.Lookup(id); ok {
		return name
	}
	return fmt.Sprintf("Map %d", id)
}
