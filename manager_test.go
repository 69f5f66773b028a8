package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
)

func TestConfigNormalizedBackfillsZeroFields(t *testing.T) {
	cfg := Config{BriberyEnabled: true}.normalized()
	def := DefaultConfig()
	require.Equal(t, def.BriberyChance, cfg.BriberyChance, "zero chance is a missing value, not a disabled gate")
	require.Equal(t, def.BriberyBaseCost, cfg.BriberyBaseCost)
	require.Equal(t, def.OutcomeWeights, cfg.OutcomeWeights)
}

func TestPatrolCapacityGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActivePatrols = 2
	fx := newFixture(t, cfg, nil)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})

	fx.newPatrol(fx.addGuard(geom.Vec2{X: 150, Y: 150}), wps)
	fx.newPatrol(fx.addGuard(geom.Vec2{X: 250, Y: 150}), wps)

	extra := NewPatrol("", fx.sceneID)
	extra.TokenID = fx.addGuard(geom.Vec2{X: 350, Y: 150})
	extra.WaypointIDs = wps
	_, err := fx.m.CreatePatrol(extra)
	require.ErrorContains(t, err, "capacity")
}

func TestDeleteWaypointCascades(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	wps := fx.addWaypoints(
		geom.Vec2{X: 150, Y: 150},
		geom.Vec2{X: 450, Y: 150},
		geom.Vec2{X: 750, Y: 150},
	)
	p := fx.newPatrol(guard, wps)
	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)
	p.CurrentIndex = 2

	require.True(t, fx.m.DeleteWaypoint(wps[2]))
	require.Equal(t, []string{wps[0], wps[1]}, p.WaypointIDs)
	require.Equal(t, 1, p.CurrentIndex, "the index clamps to the shortened route")
	require.Equal(t, PatrolActive, p.State)

	require.True(t, fx.m.DeleteWaypoint(wps[1]))
	require.True(t, fx.m.DeleteWaypoint(wps[0]))
	require.Equal(t, PatrolIdle, p.State, "an emptied route stops the patrol")
	require.False(t, fx.m.DeleteWaypoint(wps[0]), "double delete reports false")
}

func TestHandleTokenDeleted(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, wps)
	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)

	fx.m.HandleTokenDeleted(fx.sceneID, guard)
	require.Equal(t, PatrolIdle, p.State)
	require.Empty(t, p.TokenID)
	require.False(t, p.Runnable(), "without a token the patrol cannot restart")

	w, _ := fx.m.Waypoint(wps[0])
	require.Equal(t, WaypointActive, w.State)
}

func TestPersistenceRoundTrip(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150}, geom.Vec2{X: 450, Y: 150})
	p := fx.newPatrol(guard, wps)
	p.Pattern = PatternPingPong
	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)
	fx.m.SaveSceneState(fx.sceneID)

	// A second manager over the same host sees the persisted registry and
	// auto-starts what was active.
	m2 := NewManager(fx.rt, ManagerOptions{
		Config: DefaultConfig(),
		RNG:    rand.New(rand.NewSource(11)),
	})
	require.NoError(t, m2.LoadScenePatrols(fx.sceneID))

	restored, ok := m2.Patrol(p.ID)
	require.True(t, ok)
	require.Equal(t, PatternPingPong, restored.Pattern)
	require.Equal(t, guard, restored.TokenID)
	require.Equal(t, PatrolActive, restored.State, "persisted-active patrols restart on load")

	w, ok := m2.Waypoint(wps[0])
	require.True(t, ok)
	require.Empty(t, w.OccupiedBy, "occupancy is volatile across loads")
}

func TestLoadScenePatrolsSwapsScenes(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, fx.addWaypoints(geom.Vec2{X: 150, Y: 150}))
	require.NoError(t, fx.m.Start(p.ID))

	other := fx.mem.AddScene(host.SceneInfo{
		Name:     "Warehouse Row",
		Width:    2000,
		Height:   2000,
		GridSize: 100,
	}, nil)
	require.NoError(t, fx.m.LoadScenePatrols(other))

	_, ok := fx.m.Patrol(p.ID)
	require.False(t, ok, "the registry is scene-scoped")
	require.Zero(t, fx.m.Stats().Total)

	require.NoError(t, fx.m.LoadScenePatrols(fx.sceneID))
	restored, ok := fx.m.Patrol(p.ID)
	require.True(t, ok)
	require.Equal(t, PatrolActive, restored.State)
}

func TestStatsSummarizesRegistry(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150}, geom.Vec2{X: 450, Y: 150})
	active := fx.newPatrol(fx.addGuard(geom.Vec2{X: 150, Y: 150}), wps)
	idle := fx.newPatrol(fx.addGuard(geom.Vec2{X: 250, Y: 150}), wps)
	idle.Mode = ModeWalk
	active.AlertLevel = 3
	require.NoError(t, fx.m.Start(active.ID))

	st := fx.m.Stats()
	require.Equal(t, 2, st.Total)
	require.Equal(t, 1, st.ByState[PatrolActive])
	require.Equal(t, 1, st.ByState[PatrolIdle])
	require.Equal(t, 1, st.ByMode[ModeWalk])
	require.Equal(t, 1, st.Alerted)
	require.Equal(t, 3, st.AlertLevel)
	require.Equal(t, 2, st.Waypoints)
	require.Zero(t, st.Prisoners)
}

func TestBulkControls(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150}, geom.Vec2{X: 450, Y: 150})
	pa := fx.newPatrol(fx.addGuard(geom.Vec2{X: 150, Y: 150}), wps)
	pb := fx.newPatrol(fx.addGuard(geom.Vec2{X: 250, Y: 150}), wps)
	broken := fx.newPatrol(fx.addGuard(geom.Vec2{X: 350, Y: 150}), nil)

	fx.m.StartAll()
	require.Equal(t, PatrolActive, pa.State)
	require.Equal(t, PatrolActive, pb.State)
	require.Equal(t, PatrolIdle, broken.State, "unrunnable patrols are skipped silently")

	fx.m.PauseAll()
	require.Equal(t, PatrolPaused, pa.State)
	require.Equal(t, PatrolPaused, pb.State)

	fx.m.ResumeAll()
	require.Equal(t, PatrolActive, pa.State)

	pa.AlertLevel = 2
	pa.State = PatrolAlert
	fx.m.ResetAllAlerts()
	require.Zero(t, pa.AlertLevel)
	require.Equal(t, PatrolActive, pa.State)

	fx.m.StopAll()
	require.Equal(t, PatrolIdle, pa.State)
	require.Equal(t, PatrolIdle, pb.State)
}

func TestRestorePersistedPrisoners(t *testing.T) {
	cfg := DefaultConfig()
	fx := newFixture(t, cfg, nil)
	guard := fx.addGuard(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(guard, fx.addWaypoints(geom.Vec2{X: 150, Y: 150}))
	player, actorID := fx.addPlayer("Rook", geom.Vec2{X: 250, Y: 150}, 50)

	_, err := fx.m.ResolveCapture(p.ID, player, CaptureOptions{ForcedOutcome: OutcomeJail})
	require.NoError(t, err)
	require.Equal(t, 1, fx.m.Jails().Prisoners.ActiveCount())
	fx.m.SaveSceneState(fx.sceneID)

	m2 := NewManager(fx.rt, ManagerOptions{
		Config: cfg,
		RNG:    rand.New(rand.NewSource(5)),
	})
	m2.RestorePersisted()
	rec, ok := m2.Jails().Prisoners.Active(actorID)
	require.True(t, ok)
	require.Equal(t, player, rec.TokenID)
}

func TestCleanupStopsEverything(t *testing.T) {
	fx := newFixture(t, DefaultConfig(), nil)
	wps := fx.addWaypoints(geom.Vec2{X: 150, Y: 150})
	p := fx.newPatrol(fx.addGuard(geom.Vec2{X: 150, Y: 150}), wps)
	require.NoError(t, fx.m.Start(p.ID))
	fx.advance(0)

	fx.m.Cleanup()
	require.Equal(t, PatrolIdle, p.State)
	w, _ := fx.m.Waypoint(wps[0])
	require.Empty(t, w.OccupiedBy)

	fx.advance(5 * time.Second)
	require.Equal(t, PatrolIdle, p.State)
}
