package engine

import (
	"nightwatch/engine/internal/geom"
)

// WaypointState is the waypoint tri-state.
type WaypointState string

const (
	WaypointInactive WaypointState = "inactive"
	WaypointActive   WaypointState = "active"
	WaypointOccupied WaypointState = "occupied"
)

// Waypoint is a positioned checkpoint with optional vision cone and
// detection range. Occupancy is mutated only by the owning patrol during
// appear/vacate.
type Waypoint struct {
	ID       string    `json:"id"`
	SceneID  string    `json:"sceneId"`
	Position geom.Vec2 `json:"position"`
	Name     string    `json:"name,omitempty"`

	State WaypointState `json:"state"`

	// Range is measured in grid units; converted to pixels per scene.
	Range       float64 `json:"range"`
	Dwell       float64 `json:"dwell,omitempty"`
	Weight      float64 `json:"weight"`
	Priority    int     `json:"priority"`
	EffectStyle string  `json:"effectStyle,omitempty"`
	Color       string  `json:"color,omitempty"`

	// Facing is degrees clockwise from north; VisionAngle 360 means
	// omnidirectional.
	Facing      float64 `json:"facing"`
	VisionAngle float64 `json:"visionAngle"`

	Tags     []string `json:"tags,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`

	OccupiedBy string `json:"occupiedBy,omitempty"`
}

// NewWaypoint returns a waypoint with sane field bounds applied.
func NewWaypoint(id, sceneID string, pos geom.Vec2) *Waypoint {
	return &Waypoint{
		ID:          id,
		SceneID:     sceneID,
		Position:    pos,
		State:       WaypointActive,
		Range:       3,
		Weight:      1,
		VisionAngle: 360,
	}
}

// InRange reports whether p lies within the detection radius.
func (w *Waypoint) InRange(p geom.Vec2, gridSize float64) bool {
	if w == nil || w.Range < 0 {
		return false
	}
	return geom.Distance(w.Position, p) <= w.Range*gridSize
}

// InVisionCone reports whether p lies inside the facing cone. A vision angle
// of 360 or more accepts every direction.
func (w *Waypoint) InVisionCone(p geom.Vec2) bool {
	if w == nil {
		return false
	}
	if w.VisionAngle >= 360 {
		return true
	}
	heading := geom.AngleFromNorth(w.Position, p)
	return geom.ShortestArcDeg(heading, w.Facing) <= w.VisionAngle/2
}

// Occupy transitions inactive|active -> occupied. Disabled waypoints and
// empty token ids are rejected.
func (w *Waypoint) Occupy(tokenID string) bool {
	if w == nil || w.Disabled || tokenID == "" {
		return false
	}
	if w.State == WaypointOccupied {
		return w.OccupiedBy == tokenID
	}
	w.State = WaypointOccupied
	w.OccupiedBy = tokenID
	return true
}

// Vacate transitions occupied -> active.
func (w *Waypoint) Vacate() {
	if w == nil || w.State != WaypointOccupied {
		return
	}
	w.State = WaypointActive
	w.OccupiedBy = ""
}

// Enable clears the disabled flag.
func (w *Waypoint) Enable() {
	if w == nil {
		return
	}
	w.Disabled = false
}

// Disable sets the disabled flag. Disabled waypoints drop out of selection.
func (w *Waypoint) Disable() {
	if w == nil {
		return
	}
	w.Disabled = true
}

// EffectiveColor resolves explicit > patrol > global default.
func (w *Waypoint) EffectiveColor(patrolColor, globalColor string) string {
	if w != nil && w.Color != "" {
		return w.Color
	}
	if patrolColor != "" {
		return patrolColor
	}
	return globalColor
}
