package session

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/riftmeter/internal/detector"
	"github.com/louisbranch/riftmeter/internal/platform/id"
	"github.com/louisbranch/riftmeter/internal/stats"
	"github.com/louisbranch/riftmeter/internal/storage"
)

// Observer receives session lifecycle notifications for the UI layer.
type Observer interface {
	SessionStarted(s Session)
	SessionChanged(sequence uint64, reason detector.Reason, extra detector.Extra)
	CountersReset()
}

// Resetter clears per-instance transient state (entity caches, rolling
// logs, the stats tally) when a new instance opens.
type Resetter interface {
	Reset()
}

// Manager reacts to instance changes: it finalizes the previous session,
// persists or discards it, resets per-instance caches, and opens a new
// session. It implements detector.Notifier.
type Manager struct {
	mu        sync.Mutex
	store     storage.SessionStore
	provider  stats.Provider
	names     nameTable
	observers []Observer
	resetters []Resetter
	now       func() time.Time
	newID     func() (string, error)
	tracer    trace.Tracer

	current          *Session
	lastSequence     uint64
	lastInstanceID   *int64
	lastFromInstance *int64
}

// NewManager creates a manager persisting finalized sessions to store and
// snapshotting provider on every transition.
func NewManager(store storage.SessionStore, provider stats.Provider, names nameTable) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		names:    names,
		now:      time.Now,
		newID:    id.NewID,
		tracer:   otel.Tracer("riftmeter/session"),
	}
}

// AddObserver registers a lifecycle observer. Not safe to call once
// changes are flowing.
func (m *Manager) AddObserver(obs Observer) {
	m.observers = append(m.observers, obs)
}

// AddResetter registers per-instance transient state to clear on
// transitions. Not safe to call once changes are flowing.
func (m *Manager) AddResetter(r Resetter) {
	m.resetters = append(m.resetters, r)
}

// InstanceChanged handles one triggering transition from the detector.
func (m *Manager) InstanceChanged(change detector.Change) {
	ctx, span := m.tracer.Start(context.Background(), "session.InstanceChanged",
		trace.WithAttributes(
			attribute.String("reason", string(change.Reason)),
			attribute.Int64("sequence", int64(change.Sequence)),
		))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.finalizeLocked(ctx, string(change.Reason))
	m.resetLocked()

	m.lastSequence = change.Sequence
	if change.Extra.To != nil {
		m.lastFromInstance = change.Extra.From
		if change.Extra.From == nil {
			m.lastFromInstance = m.lastInstanceID
		}
		m.lastInstanceID = change.Extra.To
	} else {
		// Line changes keep the map; the previous instance is itself.
		m.lastFromInstance = m.lastInstanceID
	}
	m.openLocked(string(change.Reason))

	for _, obs := range m.observers {
		obs.SessionChanged(change.Sequence, change.Reason, change.Extra)
	}
}

// Restart closes the current session and opens a new one with a
// caller-supplied reason, without touching the detector's sequence.
func (m *Manager) Restart(ctx context.Context, reason string) {
	ctx, span := m.tracer.Start(ctx, "session.Restart",
		trace.WithAttributes(attribute.String("reason", reason)))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.finalizeLocked(ctx, reason)
	m.resetLocked()
	m.lastFromInstance = m.lastInstanceID
	m.openLocked(reason)
}

// Shutdown finalizes the open session. Safe to call more than once; the
// second call finds no open session and does nothing.
func (m *Manager) Shutdown(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.Shutdown")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.finalizeLocked(ctx, "shutdown")
}

// Current returns a copy of the open session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// finalizeLocked snapshots the aggregate collaborator and persists the open
// session, or discards it when no player contributed. Either way the
// open-session reference is cleared. Callers must hold m.mu.
func (m *Manager) finalizeLocked(ctx context.Context, reasonEnd string) {
	if m.current == nil {
		return
	}
	sess := *m.current
	m.current = nil

	snap := m.provider.Snapshot()
	snap.Players = snap.Qualifying()
	if len(snap.Players) == 0 {
		log.Printf("discarding empty session %s (%s)", sess.ID, sess.Name)
		return
	}

	rec := sess.finalize(m.now(), reasonEnd, snap)
	if _, err := m.store.Add(ctx, rec); err != nil {
		// Losing one record is preferable to stalling live tracking.
		log.Printf("persist session %s: %v", rec.ID, err)
		return
	}
	log.Printf("persisted session %s (%s) players=%d duration=%dms",
		rec.ID, rec.Name, rec.PartySize, rec.DurationMs)
}

// resetLocked clears per-instance transient state and tells observers the
// counters were cleared. Callers must hold m.mu.
func (m *Manager) resetLocked() {
	for _, r := range m.resetters {
		r.Reset()
	}
	for _, obs := range m.observers {
		obs.CountersReset()
	}
}

// openLocked opens a new in-memory session. Callers must hold m.mu.
func (m *Manager) openLocked(reason string) {
	sessionID, err := m.newID()
	if err != nil {
		log.Printf("generate session id: %v", err)
		return
	}
	startedAt := m.now()
	sess := Session{
		ID:           sessionID,
		Name:         label(m.names, m.lastInstanceID, startedAt),
		StartedAt:    startedAt,
		ReasonStart:  reason,
		Sequence:     m.lastSequence,
		InstanceID:   m.lastInstanceID,
		FromInstance: m.lastFromInstance,
	}
	m.current = &sess
	log.Printf("session started %s (%s) reason=%s", sess.ID, sess.Name, reason)
	for _, obs := range m.observers {
		obs.SessionStarted(sess)
	}
}
