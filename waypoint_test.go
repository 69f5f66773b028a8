package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/geom"
)

func TestOccupancyTransitions(t *testing.T) {
	w := NewWaypoint("w1", "scene", geom.Vec2{X: 100, Y: 100})

	require.True(t, w.Occupy("tok-a"))
	require.Equal(t, WaypointOccupied, w.State)
	require.Equal(t, "tok-a", w.OccupiedBy)

	require.True(t, w.Occupy("tok-a"), "re-occupying by the holder is a no-op success")
	require.False(t, w.Occupy("tok-b"), "occupancy is exclusive")
	require.Equal(t, "tok-a", w.OccupiedBy)

	w.Vacate()
	require.Equal(t, WaypointActive, w.State)
	require.Empty(t, w.OccupiedBy)
	w.Vacate() // idempotent
	require.Equal(t, WaypointActive, w.State)
}

func TestOccupyRejectsDisabledAndEmpty(t *testing.T) {
	w := NewWaypoint("w1", "scene", geom.Vec2{})
	require.False(t, w.Occupy(""))

	w.Disable()
	require.False(t, w.Occupy("tok-a"))
	w.Enable()
	require.True(t, w.Occupy("tok-a"))
}

func TestInRangeUsesGridUnits(t *testing.T) {
	w := NewWaypoint("w1", "scene", geom.Vec2{X: 0, Y: 0})
	w.Range = 2

	require.True(t, w.InRange(geom.Vec2{X: 200, Y: 0}, 100), "exactly on the boundary")
	require.False(t, w.InRange(geom.Vec2{X: 201, Y: 0}, 100))
	require.True(t, w.InRange(geom.Vec2{X: 100, Y: 0}, 50), "range scales with the grid")

	w.Range = -1
	require.False(t, w.InRange(geom.Vec2{}, 100))
}

func TestVisionConeGeometry(t *testing.T) {
	w := NewWaypoint("w1", "scene", geom.Vec2{X: 500, Y: 500})
	w.Facing = 90 // due east
	w.VisionAngle = 90

	require.True(t, w.InVisionCone(geom.Vec2{X: 700, Y: 500}))
	require.False(t, w.InVisionCone(geom.Vec2{X: 300, Y: 500}), "directly behind")
	require.True(t, w.InVisionCone(geom.Vec2{X: 700, Y: 360}), "off axis but inside the half-angle")
	require.False(t, w.InVisionCone(geom.Vec2{X: 500, Y: 300}), "due north is 90 degrees off")

	w.VisionAngle = 360
	require.True(t, w.InVisionCone(geom.Vec2{X: 300, Y: 500}))
}

func TestEffectiveColorPrecedence(t *testing.T) {
	w := NewWaypoint("w1", "scene", geom.Vec2{})

	require.Equal(t, "#00ff00", w.EffectiveColor("", "#00ff00"))
	require.Equal(t, "#ff8800", w.EffectiveColor("#ff8800", "#00ff00"))
	w.Color = "#123456"
	require.Equal(t, "#123456", w.EffectiveColor("#ff8800", "#00ff00"))
}
