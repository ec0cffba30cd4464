package detector

// Reason identifies why an instance-change notification was raised.
type Reason string

const (
	// ReasonIdentityChanged records an accepted player identity change.
	ReasonIdentityChanged Reason = "identity-changed"
	// ReasonSceneIDChanged records a committed scene id change.
	ReasonSceneIDChanged Reason = "scene-id-changed"
	// ReasonLineIDChanged records a channel/line change within the same scene.
	ReasonLineIDChanged Reason = "line-id-changed"
	// ReasonEnteredSubInstance records entry into a sub-instance that does
	// not change the outer map id.
	ReasonEnteredSubInstance Reason = "entered-sub-instance"
	// ReasonAOIWipe records a mass removal of tracked entities.
	ReasonAOIWipe Reason = "aoi-wipe"
	// ReasonSelfAppeared records the player entity appearing in the AOI.
	ReasonSelfAppeared Reason = "self-appeared-in-aoi"
	// ReasonSelfDisappeared records the player entity leaving the AOI.
	ReasonSelfDisappeared Reason = "self-disappeared-from-aoi"
)

// Commit trigger names carried in Extra.Via on committed scene changes.
const (
	ViaMapOrDungeonChanged = "map-or-dungeon-changed"
	ViaDerived             = "derived"
	ViaAOIWipe             = "aoi-wipe"
	ViaSelfAppeared        = "self-appeared-in-aoi"
)

// Phase is the detector's gating state. No instance-change side effects
// fire until player identity has been established once.
type Phase int

const (
	// PhaseAwaitingIdentity gates all triggers except identity changes.
	PhaseAwaitingIdentity Phase = iota
	// PhaseTracking is entered on the first accepted identity change and
	// is permanent for the detector's lifetime.
	PhaseTracking
)

// triggerTable maps a raised reason to whether it notifies downstream in a
// given phase. Reasons absent from a phase's row advance the sequence
// counter but stay diagnostic-only.
var triggerTable = map[Phase]map[Reason]bool{
	PhaseAwaitingIdentity: {
		ReasonIdentityChanged: true,
	},
	PhaseTracking: {
		ReasonSceneIDChanged:     true,
		ReasonLineIDChanged:      true,
		ReasonEnteredSubInstance: true,
	},
}

// triggers reports whether a reason notifies downstream in the given phase.
func triggers(phase Phase, reason Reason) bool {
	return triggerTable[phase][reason]
}
