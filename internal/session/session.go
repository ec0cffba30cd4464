// Package session manages the measurement-session lifecycle driven by
// detected instance transitions.
package session

import (
	"fmt"
	"time"

	"github.com/louisbranch/riftmeter/internal/stats"
	"github.com/louisbranch/riftmeter/internal/storage"
)

// Session is one bounded measurement window. It is exclusively owned by
// the Manager until finalized and never mutated afterwards.
type Session struct {
	ID           string
	Name         string
	StartedAt    time.Time
	EndedAt      time.Time
	DurationMs   int64
	ReasonStart  string
	ReasonEnd    string
	Sequence     uint64
	InstanceID   *int64
	FromInstance *int64
	PartySize    int
	Snapshot     *stats.Snapshot
}

// finalize closes the session and flattens it into its persisted form.
// The caller has already filtered the snapshot to qualifying players.
func (s Session) finalize(endedAt time.Time, reasonEnd string, snap stats.Snapshot) storage.Record {
	duration := endedAt.Sub(s.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	return storage.Record{
		ID:           s.ID,
		Name:         s.Name,
		StartedAt:    s.StartedAt.UnixMilli(),
		EndedAt:      endedAt.UnixMilli(),
		DurationMs:   duration,
		ReasonStart:  s.ReasonStart,
		ReasonEnd:    reasonEnd,
		Sequence:     s.Sequence,
		InstanceID:   s.InstanceID,
		FromInstance: s.FromInstance,
		PartySize:    len(snap.Players),
		Snapshot:     &snap,
	}
}

// label derives the human session name from the instance id.
func label(names nameTable, instanceID *int64, at time.Time) string {
	stamp := at.Local().Format("2006-01-02 15:04:05")
	if instanceID == nil {
		return fmt.Sprintf("Unknown Instance - %s", stamp)
	}
	if names != nil {
		if name, ok := names.Lookup(*instanceID); ok {
			return fmt.Sprintf("%s - %s", name, stamp)
		}
	}
	return fmt.Sprintf("Instance %d - %s", *instanceID, stamp)
}

// nameTable is the subset of mapnames.Table the manager needs.
type nameTable interface {
	Lookup(id int64) (string, bool)
}
