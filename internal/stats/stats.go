// Package stats defines the aggregate collaborator the session lifecycle
// snapshots. The meter core treats aggregation arithmetic as opaque; this
// package carries the snapshot shape, the qualifying-player filter, and a
// minimal per-player tally used as the default provider.
package stats

import (
	"sync"
	"time"
)

// PlayerSummary is one player's aggregated contribution.
type PlayerSummary struct {
	UID     int64  `json:"uid"`
	Name    string `json:"name,omitempty"`
	Damage  uint64 `json:"damage"`
	Healing uint64 `json:"healing"`
}

// Snapshot is an immutable copy of the aggregate state at one point in time.
type Snapshot struct {
	Players    []PlayerSummary `json:"players"`
	Total      PlayerSummary   `json:"total"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// Qualifying returns the players with a nonzero damage-or-healing
// contribution. A session whose snapshot has no qualifying players is
// discarded rather than persisted.
func (s Snapshot) Qualifying() []PlayerSummary {
	var out []PlayerSummary
	for _, p := range s.Players {
		if p.Damage+p.Healing > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Provider exposes the current aggregate state for snapshotting.
type Provider interface {
	Snapshot() Snapshot
}

// Recorder is a thread-safe per-player damage/healing tally. It implements
// Provider and resets between instances.
type Recorder struct {
	mu      sync.Mutex
	now     func() time.Time
	players map[int64]*PlayerSummary
}

// NewRecorder creates an empty tally.
func NewRecorder() *Recorder {
	return &Recorder{
		now:     time.Now,
		players: make(map[int64]*PlayerSummary),
	}
}

// Add accumulates one contribution for a player. An empty name keeps any
// previously seen one.
func (r *Recorder) Add(uid int64, name string, damage, healing uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[uid]
	if !ok {
		p = &PlayerSummary{UID: uid}
		r.players[uid] = p
	}
	if name != "" {
		p.Name = name
	}
	p.Damage += damage
	p.Healing += healing
}

// Snapshot copies the current tally.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{CapturedAt: r.now().UTC()}
	for _, p := range r.players {
		snap.Players = append(snap.Players, *p)
		snap.Total.Damage += p.Damage
		snap.Total.Healing += p.Healing
	}
	return snap
}

// Reset clears the tally. The session manager invokes it when a new
// instance opens.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.players = make(map[int64]*PlayerSummary)
}
