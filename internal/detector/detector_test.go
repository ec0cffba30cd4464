package detector

import (
	"testing"
	"time"

	"github.com/louisbranch/riftmeter/internal/scene"
)

type fakeNotifier struct {
	changes []Change
}

func (f *fakeNotifier) InstanceChanged(change Change) {
	f.changes = append(f.changes, change)
}

func (f *fakeNotifier) last(t *testing.T) Change {
	t.Helper()
	if len(f.changes) == 0 {
		t.Fatal("expected at least one change")
	}
	return f.changes[len(f.changes)-1]
}

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestDetector(t *testing.T) (*Detector, *fakeNotifier, *fakeClock) {
	t.Helper()
	notifier := &fakeNotifier{}
	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := New(notifier, Config{Debounce: 500 * time.Millisecond})
	d.now = clock.now
	return d, notifier, clock
}

func int64ptr(v int64) *int64 { return &v }

func rawIdentity(playerID int64) uint64 {
	return uint64(playerID)<<16 | 0xABCD
}

func TestIdentityChangeLocksAndTriggers(t *testing.T) {
	d, notifier, _ := newTestDetector(t)

	if !d.SetPlayerIdentity(rawIdentity(42), time.Second) {
		t.Fatal("expected identity change to be accepted")
	}

	change := notifier.last(t)
	if change.Reason != ReasonIdentityChanged {
		t.Fatalf("reason = %s, want %s", change.Reason, ReasonIdentityChanged)
	}
	if change.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", change.Sequence)
	}
	if change.Extra.PlayerID != 42 {
		t.Fatalf("player id = %d, want 42", change.Extra.PlayerID)
	}
	if st := d.State(); st.Phase != PhaseTracking {
		t.Fatalf("phase = %v, want tracking", st.Phase)
	}
}

func TestIdentityUnchangedIsNoop(t *testing.T) {
	d, notifier, clock := newTestDetector(t)

	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Minute)
	if d.SetPlayerIdentity(rawIdentity(42), time.Second) {
		t.Fatal("expected same derived id to be a no-op")
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(notifier.changes))
	}
}

func TestIdentityChangeDebounced(t *testing.T) {
	d, notifier, clock := newTestDetector(t)

	d.SetPlayerIdentity(rawIdentity(42), 10*time.Second)
	clock.advance(time.Second)
	if d.SetPlayerIdentity(rawIdentity(43), 10*time.Second) {
		t.Fatal("expected identity change inside debounce window to be rejected")
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(notifier.changes))
	}
	if st := d.State(); st.PlayerID != 42 {
		t.Fatalf("player id = %d, want 42", st.PlayerID)
	}
}

func TestNoTriggerBeforeIdentityLock(t *testing.T) {
	d, notifier, clock := newTestDetector(t)

	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100)})
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})
	clock.advance(time.Second)
	d.OnAreaPopulationWipe(10)
	clock.advance(time.Second)
	d.OnSelfAppeared(rawIdentity(1))

	if len(notifier.changes) != 0 {
		t.Fatalf("expected no notifications before identity lock, got %d", len(notifier.changes))
	}
	if st := d.State(); st.Sequence == 0 {
		t.Fatal("expected diagnostic raises to advance the sequence")
	}
}

func TestStageThenCommitViaIdentitySnapshot(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100)})
	if st := d.State(); st.Sequence != 1 {
		t.Fatalf("staging advanced sequence to %d", st.Sequence)
	}
	if st := d.State(); st.PendingTargetID == nil || *st.PendingTargetID != 100 {
		t.Fatalf("expected pending target 100, got %v", st.PendingTargetID)
	}

	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})

	change := notifier.last(t)
	if change.Reason != ReasonSceneIDChanged {
		t.Fatalf("reason = %s, want %s", change.Reason, ReasonSceneIDChanged)
	}
	if change.Extra.Via != ViaMapOrDungeonChanged {
		t.Fatalf("via = %q, want %q", change.Extra.Via, ViaMapOrDungeonChanged)
	}
	if change.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", change.Sequence)
	}
	st := d.State()
	if st.CurrentSceneID == nil || *st.CurrentSceneID != 100 {
		t.Fatalf("current scene = %v, want 100", st.CurrentSceneID)
	}
	if st.PendingTargetID != nil {
		t.Fatal("expected pending transition cleared on commit")
	}
}

func TestDirectCommitWithoutPending(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(200), "LineId": int64(4)})

	change := notifier.last(t)
	if change.Reason != ReasonSceneIDChanged || change.Extra.Via != ViaDerived {
		t.Fatalf("got reason %s via %q", change.Reason, change.Extra.Via)
	}
	st := d.State()
	if st.CurrentSceneID == nil || *st.CurrentSceneID != 200 {
		t.Fatalf("current scene = %v, want 200", st.CurrentSceneID)
	}
	if st.CurrentLineID == nil || *st.CurrentLineID != 4 {
		t.Fatalf("current line = %v, want 4", st.CurrentLineID)
	}
}

func TestRepeatedIdentitySnapshotIsNoop(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	record := map[string]any{"SceneId": int64(200)}
	d.IngestIdentitySnapshot(record)
	seq := d.State().Sequence
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		d.IngestIdentitySnapshot(record)
	}

	if got := d.State().Sequence; got != seq {
		t.Fatalf("sequence advanced from %d to %d on repeated snapshots", seq, got)
	}
	if len(notifier.changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(notifier.changes))
	}
}

func TestCommitViaWipe(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(300)})
	d.OnAreaPopulationWipe(5)

	change := notifier.last(t)
	if change.Reason != ReasonSceneIDChanged || change.Extra.Via != ViaAOIWipe {
		t.Fatalf("got reason %s via %q", change.Reason, change.Extra.Via)
	}
	if st := d.State(); st.CurrentSceneID == nil || *st.CurrentSceneID != 300 {
		t.Fatalf("current scene = %v, want 300", st.CurrentSceneID)
	}
}

func TestWipeWithoutPendingIsDiagnosticOnly(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	before := d.State().Sequence
	d.OnAreaPopulationWipe(5)

	if got := d.State().Sequence; got != before+1 {
		t.Fatalf("sequence = %d, want %d", got, before+1)
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("expected only the identity change, got %d changes", len(notifier.changes))
	}
}

func TestDebounceSwallowsSecondTrigger(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})
	seq := d.State().Sequence

	clock.advance(100 * time.Millisecond)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(101)})

	if got := d.State().Sequence; got != seq {
		t.Fatalf("sequence advanced to %d inside debounce window", got)
	}
	if len(notifier.changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(notifier.changes))
	}
	// State still flipped; only the notification was swallowed.
	if st := d.State(); st.CurrentSceneID == nil || *st.CurrentSceneID != 101 {
		t.Fatalf("current scene = %v, want 101", st.CurrentSceneID)
	}
}

func TestCommitIdempotence(t *testing.T) {
	d, _, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100)})
	d.OnAreaPopulationWipe(3)
	seq := d.State().Sequence

	// Staging the same target again and re-confirming must not re-commit.
	clock.advance(time.Second)
	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100), RecordID: "r2"})
	d.OnAreaPopulationWipe(1)

	st := d.State()
	if st.CurrentSceneID == nil || *st.CurrentSceneID != 100 {
		t.Fatalf("current scene = %v, want 100", st.CurrentSceneID)
	}
	// Only the second wipe's diagnostic raise advances the sequence.
	if st.Sequence != seq+1 {
		t.Fatalf("sequence = %d, want %d", st.Sequence, seq+1)
	}
}

func TestLineChange(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100), "LineId": int64(1)})
	clock.advance(time.Second)

	// Same scene, different line.
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100), "LineId": int64(2)})

	change := notifier.last(t)
	if change.Reason != ReasonLineIDChanged {
		t.Fatalf("reason = %s, want %s", change.Reason, ReasonLineIDChanged)
	}
	if change.Extra.FromLine == nil || *change.Extra.FromLine != 1 {
		t.Fatalf("from line = %v, want 1", change.Extra.FromLine)
	}
	if change.Extra.ToLine == nil || *change.Extra.ToLine != 2 {
		t.Fatalf("to line = %v, want 2", change.Extra.ToLine)
	}
}

func TestFirstLineInitializesSilently(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})
	clock.advance(time.Second)

	before := len(notifier.changes)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100), "LineId": int64(7)})

	if len(notifier.changes) != before {
		t.Fatal("expected first known line id to initialize without an event")
	}
	if st := d.State(); st.CurrentLineID == nil || *st.CurrentLineID != 7 {
		t.Fatalf("current line = %v, want 7", st.CurrentLineID)
	}
}

func TestSubInstanceEntryAfterWipe(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})
	clock.advance(time.Minute)

	// No pending transition: the outer map id never changes, but a wipe
	// followed closely by a self-appear marks a sub-instance entry.
	d.OnAreaPopulationWipe(20)
	clock.advance(2 * time.Second)
	d.OnSelfAppeared(rawIdentity(42))

	change := notifier.last(t)
	if change.Reason != ReasonEnteredSubInstance {
		t.Fatalf("reason = %s, want %s", change.Reason, ReasonEnteredSubInstance)
	}
}

func TestSelfAppearLongAfterWipeNoSubInstance(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100)})
	clock.advance(time.Minute)

	d.OnAreaPopulationWipe(20)
	clock.advance(10 * time.Second)
	before := len(notifier.changes)
	d.OnSelfAppeared(rawIdentity(42))

	if len(notifier.changes) != before {
		t.Fatal("expected no sub-instance event long after a wipe")
	}
}

func TestSubInstanceCollapsesIntoCommitDebounce(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	// Pending transition confirmed by the self-appear: the commit triggers
	// and the synthetic sub-instance raise collapses into its debounce.
	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(400)})
	d.OnAreaPopulationWipe(20)
	seq := d.State().Sequence
	clock.advance(100 * time.Millisecond)
	d.OnSelfAppeared(rawIdentity(42))

	if got := d.State().Sequence; got != seq {
		t.Fatalf("sequence = %d, want %d", got, seq)
	}
	change := notifier.last(t)
	if change.Reason != ReasonSceneIDChanged || change.Extra.Via != ViaAOIWipe {
		t.Fatalf("got reason %s via %q", change.Reason, change.Extra.Via)
	}
}

func TestSelfDisappearedIsDiagnostic(t *testing.T) {
	d, notifier, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100)})

	d.OnSelfDisappeared(rawIdentity(42))

	st := d.State()
	if st.PendingTargetID == nil {
		t.Fatal("expected pending transition untouched by self-disappear")
	}
	if len(notifier.changes) != 1 {
		t.Fatalf("expected only the identity change, got %d", len(notifier.changes))
	}
}

func TestPopulationDeltaFlooredAtZero(t *testing.T) {
	d, notifier, _ := newTestDetector(t)

	d.OnPopulationDelta(5)
	d.OnPopulationDelta(-2)
	if st := d.State(); st.Population != 3 {
		t.Fatalf("population = %d, want 3", st.Population)
	}
	d.OnPopulationDelta(-10)
	if st := d.State(); st.Population != 0 {
		t.Fatalf("population = %d, want 0", st.Population)
	}
	if st := d.State(); st.Sequence != 0 {
		t.Fatalf("population deltas advanced the sequence to %d", st.Sequence)
	}
	if len(notifier.changes) != 0 {
		t.Fatal("population deltas must never notify")
	}
}

func TestStagedDescriptorOverwritten(t *testing.T) {
	d, _, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(100)})
	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(200)})

	if st := d.State(); st.PendingTargetID == nil || *st.PendingTargetID != 200 {
		t.Fatalf("pending target = %v, want 200", st.PendingTargetID)
	}
}

func TestIdenticalDescriptorIgnored(t *testing.T) {
	d, _, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)

	desc := scene.Descriptor{LevelMapID: int64ptr(100), RecordID: "r1"}
	d.IngestSceneDescriptor(desc)
	d.OnAreaPopulationWipe(1) // commits 100
	clock.advance(time.Second)

	d.IngestSceneDescriptor(desc)
	if st := d.State(); st.PendingTargetID != nil {
		t.Fatalf("identical descriptor re-staged target %v", st.PendingTargetID)
	}
}

func TestLineResetToStagedValueOnCommit(t *testing.T) {
	d, _, clock := newTestDetector(t)
	d.SetPlayerIdentity(rawIdentity(42), time.Second)
	clock.advance(time.Second)
	d.IngestIdentitySnapshot(map[string]any{"SceneId": int64(100), "LineId": int64(1)})
	clock.advance(time.Second)

	line := int32(9)
	d.IngestSceneDescriptor(scene.Descriptor{LevelMapID: int64ptr(200), LineID: &line})
	d.OnAreaPopulationWipe(5)

	if st := d.State(); st.CurrentLineID == nil || *st.CurrentLineID != 9 {
		t.Fatalf("current line = %v, want staged value 9", st.CurrentLineID)
	}
}
