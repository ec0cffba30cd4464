// Package storage defines the finalized-session store contract shared by
// its file and SQLite backends.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/louisbranch/riftmeter/internal/stats"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Record is the persisted, flattened form of a finalized session.
// Timestamps are unix milliseconds UTC.
type Record struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	StartedAt    int64           `json:"startedAt"`
	EndedAt      int64           `json:"endedAt"`
	DurationMs   int64           `json:"durationMs"`
	ReasonStart  string          `json:"reasonStart,omitempty"`
	ReasonEnd    string          `json:"reasonEnd,omitempty"`
	Sequence     uint64          `json:"sequence"`
	InstanceID   *int64          `json:"instanceId,omitempty"`
	FromInstance *int64          `json:"fromInstance,omitempty"`
	PartySize    int             `json:"partySize,omitempty"`
	Snapshot     *stats.Snapshot `json:"snapshot,omitempty"`

	// LegacyPlayerCount is read from records written before partySize
	// existed. It is never written for new records.
	LegacyPlayerCount int `json:"playerCount,omitempty"`
}

// DerivedPartySize resolves the party size with the priority: explicit
// field, snapshot player count, legacy player count, zero.
func (r Record) DerivedPartySize() int {
	if r.PartySize > 0 {
		return r.PartySize
	}
	if r.Snapshot != nil && len(r.Snapshot.Players) > 0 {
		return len(r.Snapshot.Players)
	}
	if r.LegacyPlayerCount > 0 {
		return r.LegacyPlayerCount
	}
	return 0
}

// SessionStore persists finalized session records.
type SessionStore interface {
	// List returns all records, newest StartedAt first, with PartySize
	// derived and the heavy Snapshot payload stripped.
	List(ctx context.Context) ([]Record, error)
	// Get returns the full record including its snapshot, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// Add appends a record and persists it, returning the record id.
	Add(ctx context.Context, rec Record) (string, error)
	// Delete removes a record if present, reporting whether it did.
	Delete(ctx context.Context, id string) (bool, error)
	// Clear empties the store.
	Clear(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// ListView prepares records for list responses: newest first, party size
// derived, snapshots stripped.
func ListView(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt > out[j].StartedAt
	})
	for i := range out {
		out[i].PartySize = out[i].DerivedPartySize()
		out[i].Snapshot = nil
	}
	return out
}
