package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
)

func detectIDs(fx *fixture, w *Waypoint, selfID string, policy FilterPolicy) []string {
	hits := Detect(fx.rt.Scenes, fx.rt.Tokens, w, selfID, host.DispositionHostile, policy)
	ids := make([]string, 0, len(hits))
	for _, tok := range hits {
		ids = append(ids, tok.ID)
	}
	return ids
}

func TestDetectRangeGate(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	near, _ := fx.addPlayer("Rook", geom.Vec2{X: 350, Y: 150}, 0)
	far, _ := fx.addPlayer("Finch", geom.Vec2{X: 950, Y: 150}, 0)

	w := NewWaypoint("w1", fx.sceneID, geom.Vec2{X: 150, Y: 150})
	ids := detectIDs(fx, w, guard, DefaultFilterPolicy())
	require.Equal(t, []string{near}, ids, "range is 3 grid units = 300 px")
	require.NotContains(t, ids, far)
}

func TestDetectVisionCone(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 550, Y: 550})
	north, _ := fx.addPlayer("Rook", geom.Vec2{X: 550, Y: 350}, 0)
	south, _ := fx.addPlayer("Finch", geom.Vec2{X: 550, Y: 750}, 0)

	w := NewWaypoint("w1", fx.sceneID, geom.Vec2{X: 550, Y: 550})
	w.Facing = 0
	w.VisionAngle = 90

	ids := detectIDs(fx, w, guard, DefaultFilterPolicy())
	require.Contains(t, ids, north, "in the north-facing cone")
	require.NotContains(t, ids, south, "behind the guard")

	w.VisionAngle = 360
	ids = detectIDs(fx, w, guard, DefaultFilterPolicy())
	require.Contains(t, ids, south, "360 degrees sees everything in range")
}

func TestDetectPolicyFilters(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	player, _ := fx.addPlayer("Rook", geom.Vec2{X: 250, Y: 150}, 0)
	require.NoError(t, fx.rt.Tokens.SetHidden(fx.sceneID, player, true))

	npc := fx.mem.AddToken(host.TokenSnapshot{
		Name:        "Merchant",
		Position:    geom.Vec2{X: 250, Y: 250},
		Disposition: host.DispositionFriendly,
	}, fx.sceneID)
	ally := fx.mem.AddToken(host.TokenSnapshot{
		Name:           "Informant",
		Position:       geom.Vec2{X: 150, Y: 250},
		Disposition:    host.DispositionHostile,
		OwnerUserIDs:   []string{"player-2"},
		HasPlayerOwner: true,
	}, fx.sceneID)

	w := NewWaypoint("w1", fx.sceneID, geom.Vec2{X: 150, Y: 150})

	ids := detectIDs(fx, w, guard, DefaultFilterPolicy())
	require.Empty(t, ids, "hidden, NPC and same-disposition tokens all drop out")

	open := FilterPolicy{}
	ids = detectIDs(fx, w, guard, open)
	require.ElementsMatch(t, []string{player, npc, ally}, ids)
	require.NotContains(t, ids, guard, "the guard never detects itself")
}

func TestDetectLineOfSight(t *testing.T) {
	wall := geom.Wall{
		Segment: geom.Segment{A: geom.Vec2{X: 300, Y: 0}, B: geom.Vec2{X: 300, Y: 400}},
		Kind:    geom.WallSight,
	}
	fx := newFixture(t, DefaultConfig(), []geom.Wall{wall})
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	behind, _ := fx.addPlayer("Rook", geom.Vec2{X: 400, Y: 150}, 0)

	w := NewWaypoint("w1", fx.sceneID, geom.Vec2{X: 150, Y: 150})
	require.Empty(t, detectIDs(fx, w, guard, DefaultFilterPolicy()), "sight wall blocks the ray")

	policy := DefaultFilterPolicy()
	policy.RequireLineOfSight = false
	require.Equal(t, []string{behind}, detectIDs(fx, w, guard, policy))
}

func TestDetectionFiresOncePerPresence(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	player, _ := fx.addPlayer("Rook", geom.Vec2{X: 250, Y: 150}, 0)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, wps)
	p.AppearDuration = 30

	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)

	detections := func() int {
		count := 0
		for _, ev := range fx.mem.Events {
			if ev.Event == HookDetection {
				count++
			}
		}
		return count
	}

	fx.advance(500 * time.Millisecond)
	require.Equal(t, 1, detections())
	require.Equal(t, 1, p.AlertLevel)

	// The token stays in range: further samples must not re-fire.
	fx.advance(500 * time.Millisecond)
	fx.advance(500 * time.Millisecond)
	require.Equal(t, 1, detections())

	// Leaving and returning re-arms the detection.
	require.NoError(t, fx.rt.Tokens.MoveToken(fx.sceneID, player, geom.Vec2{X: 1500, Y: 150}))
	fx.advance(500 * time.Millisecond)
	require.NoError(t, fx.rt.Tokens.MoveToken(fx.sceneID, player, geom.Vec2{X: 250, Y: 150}))
	fx.advance(500 * time.Millisecond)
	require.Equal(t, 2, detections())
	require.Equal(t, 2, p.AlertLevel)
}

func TestDetectionMacroAction(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	fx.addPlayer("Rook", geom.Vec2{X: 250, Y: 150}, 0)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, wps)
	p.DetectionAction = ActionMacro
	p.Macro = "sound-the-alarm"

	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)
	fx.advance(500 * time.Millisecond)

	require.Len(t, fx.mem.MacroCalls, 1)
	require.Equal(t, "sound-the-alarm", fx.mem.MacroCalls[0].Name)
	require.Equal(t, p.ID, fx.mem.MacroCalls[0].Ctx["patrolId"])
}

func TestDetectionCombatAction(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	player, _ := fx.addPlayer("Rook", geom.Vec2{X: 250, Y: 150}, 0)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, wps)
	p.DetectionAction = ActionCombat

	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)
	fx.advance(500 * time.Millisecond)

	combatID, ok := fx.rt.Combat.ActiveCombat(fx.sceneID)
	require.True(t, ok)
	combatants := fx.rt.Combat.Combatants(combatID)
	require.Len(t, combatants, 2)
	ids := []string{combatants[0].TokenID, combatants[1].TokenID}
	require.ElementsMatch(t, []string{guard, player}, ids)
}
