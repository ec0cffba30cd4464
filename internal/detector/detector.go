// Package detector decides when the player has entered a logically new
// instance from normalized scene descriptors and population events.
//
// A declared scene change (parsed descriptor fields) is frequently
// premature: it can arrive before the client finished loading the
// destination, and in open-world travel it can arrive without any real
// instance boundary. The detector therefore stages the candidate and
// defers the authoritative flip until a confirming signal arrives: an AOI
// wipe, the player entity re-appearing, or a second independent scene-id
// derivation.
package detector

import (
	"log"
	"sync"
	"time"

	"github.com/louisbranch/riftmeter/internal/scene"
)

const subInstanceWindow = 3 * time.Second

// DefaultDebounce is the minimum gap between two accepted reasons.
const DefaultDebounce = 500 * time.Millisecond

// Extra carries the diagnostic payload of an instance-change notification.
type Extra struct {
	From     *int64 `json:"from,omitempty"`
	To       *int64 `json:"to,omitempty"`
	Via      string `json:"via,omitempty"`
	FromLine *int32 `json:"fromLine,omitempty"`
	ToLine   *int32 `json:"toLine,omitempty"`
	PlayerID int64  `json:"playerId,omitempty"`
}

// Change is one raised-and-accepted reason, sequenced and timestamped.
type Change struct {
	Sequence  uint64
	Reason    Reason
	Extra     Extra
	Triggered bool
	At        time.Time
}

// Notifier receives changes whose reason is trigger-worthy in the current
// phase. Diagnostic-only reasons advance the sequence but are not delivered.
// Delivery is synchronous on the ingestion path; implementations must not
// call back into the Detector.
type Notifier interface {
	InstanceChanged(change Change)
}

// Config controls detector behavior.
type Config struct {
	// Debounce is the global window within which a second raised reason is
	// swallowed entirely. Zero means DefaultDebounce.
	Debounce time.Duration
	// VerboseIdentityLogging logs every identity evaluation, accepted or not.
	VerboseIdentityLogging bool
}

// pendingTransition is a staged-but-uncommitted scene change. At most one
// exists at a time; a newer staged descriptor overwrites it.
type pendingTransition struct {
	sourceSceneID *int64 // diagnostic
	targetSceneID int64  // authoritative candidate
	sourceLineID  *int32 // captured at staging time
}

// State is a copy of the detector's committed view.
type State struct {
	CurrentSceneID  *int64
	CurrentLineID   *int32
	PlayerID        int64
	PlayerIdentity  uint64
	Sequence        uint64
	Phase           Phase
	Population      int
	LastChangeAt    time.Time
	LastWipeAt      time.Time
	LastAppearAt    time.Time
	PendingTargetID *int64
}

// Detector holds the committed instance state, a single staged transition,
// and the monotonic event sequence. All mutation happens under one mutex;
// callers may invoke it from the ingestion path and timer/shutdown
// callbacks concurrently.
type Detector struct {
	mu       sync.Mutex
	now      func() time.Time
	notifier Notifier
	cfg      Config

	phase          Phase
	seq            uint64
	lastDescriptor *scene.Descriptor
	pending        *pendingTransition

	currentSceneID *int64
	currentLineID  *int32
	playerID       int64
	playerIdentity uint64

	lastChangeAt   time.Time
	lastIdentityAt time.Time
	lastWipeAt     time.Time
	lastAppearAt   time.Time
	population     int
}

// New creates a detector delivering triggered changes to notifier.
func New(notifier Notifier, cfg Config) *Detector {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Detector{
		now:      time.Now,
		notifier: notifier,
		cfg:      cfg,
		phase:    PhaseAwaitingIdentity,
	}
}

// SetPlayerIdentity evaluates a raw identity token. It reports whether the
// derived player id was accepted as changed. A change within debounceWindow
// of the previous accepted identity change is ignored. The first accepted
// change moves the detector into the tracking phase.
func (d *Detector) SetPlayerIdentity(raw uint64, debounceWindow time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	derived := scene.PlayerID(raw)
	if d.cfg.VerboseIdentityLogging {
		log.Printf("identity evaluate: raw=%#x derived=%d current=%d", raw, derived, d.playerID)
	}
	if derived == d.playerID {
		return false
	}
	now := d.now()
	if !d.lastIdentityAt.IsZero() && now.Sub(d.lastIdentityAt) < debounceWindow {
		if d.cfg.VerboseIdentityLogging {
			log.Printf("identity change suppressed by debounce: derived=%d", derived)
		}
		return false
	}

	d.playerIdentity = raw
	d.playerID = derived
	d.lastIdentityAt = now
	d.raise(ReasonIdentityChanged, Extra{PlayerID: derived})
	return true
}

// IngestSceneDescriptor diffs the descriptor against the last-seen one and
// stages a transition when it proposes a new, different map id. Staging is
// diagnostic only: the sequence does not advance and nothing triggers.
func (d *Detector) IngestSceneDescriptor(desc scene.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastDescriptor != nil && desc.Equal(*d.lastDescriptor) {
		return
	}
	d.lastDescriptor = &desc

	if desc.LevelMapID == nil {
		return
	}
	target := *desc.LevelMapID
	if d.currentSceneID != nil && target == *d.currentSceneID {
		return
	}
	// A newer staged descriptor supersedes any uncommitted transition.
	d.pending = &pendingTransition{
		sourceSceneID: d.currentSceneID,
		targetSceneID: target,
		sourceLineID:  desc.LineID,
	}
	log.Printf("scene descriptor changed: staged transition target=%d", target)
}

// IngestIdentitySnapshot derives an authoritative scene id directly from
// the record. A differing derived id commits the pending transition, or
// commits the derived id itself when nothing is staged. A matching scene
// with a differing known line id raises a line change instead.
func (d *Detector) IngestIdentitySnapshot(record map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sceneID := scene.SceneIDFromRecord(record)
	lineID := scene.LineIDFromRecord(record)

	if sceneID != nil && (d.currentSceneID == nil || *sceneID != *d.currentSceneID) {
		if d.pending != nil {
			d.commitPending(ViaMapOrDungeonChanged)
			return
		}
		d.commitDirect(*sceneID, lineID)
		return
	}

	if lineID == nil {
		return
	}
	if d.currentLineID == nil {
		// First known line id initializes silently.
		d.currentLineID = lineID
		return
	}
	if *lineID == *d.currentLineID {
		return
	}
	from := d.currentLineID
	d.currentLineID = lineID
	d.raise(ReasonLineIDChanged, Extra{FromLine: from, ToLine: lineID, To: d.currentSceneID})
}

// OnAreaPopulationWipe records a mass AOI removal, the strongest "landed in
// a new area" signal, and commits any pending transition.
func (d *Detector) OnAreaPopulationWipe(disappearCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastWipeAt = d.now()
	d.raise(ReasonAOIWipe, Extra{To: d.currentSceneID})
	log.Printf("aoi wipe: %d entities disappeared", disappearCount)
	if d.pending != nil {
		d.commitPending(ViaAOIWipe)
	}
}

// OnSelfAppeared records the player entity appearing in the AOI and commits
// any pending transition. An appearance shortly after a wipe additionally
// raises a synthetic sub-instance entry, catching private copies layered on
// an open-world map whose outer map id never changes.
func (d *Detector) OnSelfAppeared(identity uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.lastAppearAt = now
	d.raise(ReasonSelfAppeared, Extra{PlayerID: scene.PlayerID(identity)})
	if d.pending != nil {
		d.commitPending(ViaSelfAppeared)
	}
	if !d.lastWipeAt.IsZero() && now.Sub(d.lastWipeAt) <= subInstanceWindow {
		d.raise(ReasonEnteredSubInstance, Extra{From: d.currentSceneID, To: d.currentSceneID, Via: ViaSelfAppeared})
	}
}

// OnSelfDisappeared records the player entity leaving the AOI. Diagnostic
// only; it neither commits nor triggers.
func (d *Detector) OnSelfDisappeared(identity uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.raise(ReasonSelfDisappeared, Extra{PlayerID: scene.PlayerID(identity)})
}

// OnPopulationDelta adjusts the population estimate, floored at zero.
func (d *Detector) OnPopulationDelta(delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.population += delta
	if d.population < 0 {
		d.population = 0
	}
}

// State returns a copy of the committed view.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := State{
		CurrentSceneID: copyInt64(d.currentSceneID),
		CurrentLineID:  copyInt32(d.currentLineID),
		PlayerID:       d.playerID,
		PlayerIdentity: d.playerIdentity,
		Sequence:       d.seq,
		Phase:          d.phase,
		Population:     d.population,
		LastChangeAt:   d.lastChangeAt,
		LastWipeAt:     d.lastWipeAt,
		LastAppearAt:   d.lastAppearAt,
	}
	if d.pending != nil {
		target := d.pending.targetSceneID
		st.PendingTargetID = &target
	}
	return st
}

// commitPending applies the staged transition. No-op when the target equals
// the committed scene, which makes a double commit harmless.
func (d *Detector) commitPending(via string) {
	pending := d.pending
	if pending == nil {
		return
	}
	if d.currentSceneID != nil && pending.targetSceneID == *d.currentSceneID {
		d.pending = nil
		return
	}
	from := d.currentSceneID
	target := pending.targetSceneID
	d.currentSceneID = &target
	// Line id was captured at staging time; telemetry arriving out of
	// order can desynchronize this, which is accepted behavior.
	d.currentLineID = pending.sourceLineID
	d.pending = nil
	d.raise(ReasonSceneIDChanged, Extra{From: from, To: &target, Via: via})
}

// commitDirect applies a scene id derived outside the staging path.
func (d *Detector) commitDirect(target int64, lineID *int32) {
	if d.currentSceneID != nil && target == *d.currentSceneID {
		return
	}
	from := d.currentSceneID
	d.currentSceneID = &target
	if lineID != nil {
		d.currentLineID = lineID
	}
	d.raise(ReasonSceneIDChanged, Extra{From: from, To: &target, Via: ViaDerived})
}

// raise bumps the sequence for a reason unless it falls inside the global
// debounce window, then notifies downstream when the reason is
// trigger-worthy in the current phase. The debounce timestamp only moves
// on trigger-worthy reasons, so a diagnostic raise never suppresses the
// commit it confirms. Callers must hold d.mu.
func (d *Detector) raise(reason Reason, extra Extra) {
	now := d.now()
	if !d.lastChangeAt.IsZero() && now.Sub(d.lastChangeAt) < d.cfg.Debounce {
		log.Printf("reason %s swallowed by debounce", reason)
		return
	}
	d.seq++

	triggered := triggers(d.phase, reason)
	if triggered {
		d.lastChangeAt = now
	}
	if reason == ReasonIdentityChanged && d.phase == PhaseAwaitingIdentity {
		d.phase = PhaseTracking
	}
	log.Printf("instance reason %s seq=%d triggered=%v via=%q", reason, d.seq, triggered, extra.Via)
	if triggered && d.notifier != nil {
		d.notifier.InstanceChanged(Change{
			Sequence:  d.seq,
			Reason:    reason,
			Extra:     extra,
			Triggered: true,
			At:        now,
		})
	}
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt32(v *int32) *int32 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
