package engine

import (
	"time"

	"nightwatch/engine/internal/decide"
	"nightwatch/engine/internal/geom"
)

// PatrolState is the patrol lifecycle state.
type PatrolState string

const (
	PatrolIdle   PatrolState = "idle"
	PatrolActive PatrolState = "active"
	PatrolPaused PatrolState = "paused"
	PatrolAlert  PatrolState = "alert"
)

// Mode selects how the guard moves between waypoints. Hybrid behaves as
// blink until per-waypoint modes exist.
type Mode string

const (
	ModeBlink  Mode = "blink"
	ModeWalk   Mode = "walk"
	ModeHybrid Mode = "hybrid"
)

// Phase is the patrol's position inside its movement cycle. Blink alternates
// visible/invisible dwells; walk runs moving/dwell. The appear and disappear
// windows are effect timing inside those phases, not phases of their own.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseVisible   Phase = "visible"
	PhaseInvisible Phase = "invisible"
	PhaseMoving    Phase = "moving"
	PhaseDwell     Phase = "dwell"
)

// DetectionAction selects what a detection escalates into.
type DetectionAction string

const (
	ActionNotify DetectionAction = "notify"
	ActionAlert  DetectionAction = "alert"
	ActionCombat DetectionAction = "combat"
	ActionMacro  DetectionAction = "macro"
)

// Patrol is one guard route. Exported fields persist; lowercase fields are
// volatile runtime state rebuilt on load.
type Patrol struct {
	ID      string `json:"id"`
	SceneID string `json:"sceneId"`
	TokenID string `json:"tokenId,omitempty"`
	Name    string `json:"name,omitempty"`

	State PatrolState `json:"state"`
	Mode  Mode        `json:"mode"`

	Pattern      Pattern  `json:"pattern"`
	WaypointIDs  []string `json:"waypointIds"`
	CurrentIndex int      `json:"currentIndex"`
	PingPongDir  int      `json:"pingPongDir"`

	// AppearDuration is the visible dwell, DisappearDuration the invisible
	// gap, both in seconds. VariancePct jitters both symmetrically.
	AppearDuration    float64 `json:"appearDuration"`
	DisappearDuration float64 `json:"disappearDuration"`
	VariancePct       float64 `json:"variancePct"`

	DetectionEnabled bool            `json:"detectionEnabled"`
	DetectionAction  DetectionAction `json:"detectionAction,omitempty"`
	Macro            string          `json:"macro,omitempty"`
	Filter           FilterPolicy    `json:"filter"`

	EffectStyle string   `json:"effectStyle,omitempty"`
	Color       string   `json:"color,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`

	AlertLevel        int                   `json:"alertLevel"`
	Aggressiveness    decide.Aggressiveness `json:"aggressiveness,omitempty"`
	AutomateCombat    bool                  `json:"automateCombat,omitempty"`
	AutomateDecisions bool                  `json:"automateDecisions,omitempty"`

	// ApprovalRequired overrides the global flag when non-nil.
	ApprovalRequired *bool `json:"approvalRequired,omitempty"`

	BribeMultiplier float64 `json:"bribeMultiplier,omitempty"`

	Phase Phase `json:"-"`

	phaseUntil time.Time
	nextSample time.Time
	seen       map[string]struct{}

	walkFrom     geom.Vec2
	walkTarget   geom.Vec2
	walkStart    time.Time
	walkDuration time.Duration

	lastWaypointID string
}

// NewPatrol returns a patrol with defaults matching the authoring UI.
func NewPatrol(id, sceneID string) *Patrol {
	return &Patrol{
		ID:                id,
		SceneID:           sceneID,
		State:             PatrolIdle,
		Mode:              ModeBlink,
		Pattern:           PatternSequential,
		PingPongDir:       1,
		AppearDuration:    2,
		DisappearDuration: 1,
		DetectionEnabled:  true,
		DetectionAction:   ActionNotify,
		Filter:            DefaultFilterPolicy(),
		Aggressiveness:    decide.Normal,
		BribeMultiplier:   1,
	}
}

// Runnable reports whether the patrol satisfies the activation invariants.
func (p *Patrol) Runnable() bool {
	return p != nil && p.TokenID != "" && len(p.WaypointIDs) >= 1 && !p.Disabled
}

// IsRunning reports whether the phase loop should progress.
func (p *Patrol) IsRunning() bool {
	return p != nil && (p.State == PatrolActive || p.State == PatrolAlert)
}

// effectiveMode folds hybrid onto blink.
func (p *Patrol) effectiveMode() Mode {
	if p.Mode == ModeWalk {
		return ModeWalk
	}
	return ModeBlink
}

// resetVolatile clears the runtime phase state, leaving persisted fields
// untouched.
func (p *Patrol) resetVolatile() {
	p.Phase = PhaseNone
	p.phaseUntil = time.Time{}
	p.nextSample = time.Time{}
	p.seen = nil
	p.walkStart = time.Time{}
	p.walkDuration = 0
	p.lastWaypointID = ""
}

// clampIndex bounds CurrentIndex to the route, used after waypoint removal.
func (p *Patrol) clampIndex() {
	if len(p.WaypointIDs) == 0 {
		p.CurrentIndex = 0
		return
	}
	if p.CurrentIndex < 0 {
		p.CurrentIndex = 0
	}
	if p.CurrentIndex >= len(p.WaypointIDs) {
		p.CurrentIndex = len(p.WaypointIDs) - 1
	}
}

// removeWaypointRef deletes every reference to a waypoint id from the route
// and clamps the index. Reports whether anything changed.
func (p *Patrol) removeWaypointRef(waypointID string) bool {
	kept := p.WaypointIDs[:0]
	removedBefore := 0
	removed := false
	for i, id := range p.WaypointIDs {
		if id == waypointID {
			removed = true
			if i <= p.CurrentIndex {
				removedBefore++
			}
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return false
	}
	p.WaypointIDs = kept
	p.CurrentIndex -= removedBefore
	p.clampIndex()
	return true
}
