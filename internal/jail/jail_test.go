package jail

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/host/memhost"
)

func newTestSystem(t *testing.T) (*System, *memhost.Runtime, string) {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mem := memhost.New(host.ClockFunc(func() time.Time { return now }))
	bundle := mem.Bundle()
	origin := mem.AddScene(host.SceneInfo{Name: "Town Square", Width: 3000, Height: 2000, GridSize: 100}, nil)
	sys := NewSystem(bundle.Scenes, bundle.Tokens, bundle.Actors, bundle.Clock, rand.New(rand.NewSource(11)))
	return sys, mem, origin
}

func TestGuardScaling(t *testing.T) {
	g := GuardScaling{BaseLevel: 1, BaseHP: 16, HPPerLevel: 7, BaseAC: 14, ACPerLevel: 1}
	require.Equal(t, 16, g.HPAt(0), "levels below base clamp to base")
	require.Equal(t, 16, g.HPAt(1))
	require.Equal(t, 44, g.HPAt(5))
	require.Equal(t, 18, g.ACAt(5))
}

func TestEnsureSceneIsLazyAndIdempotent(t *testing.T) {
	sys, mem, _ := newTestSystem(t)
	bundle := mem.Bundle()

	first, err := sys.EnsureScene("stone-keep")
	require.NoError(t, err)
	second, err := sys.EnsureScene("stone-keep")
	require.NoError(t, err)
	require.Equal(t, first, second, "repeated EnsureScene must reuse the instance")

	flag, ok := bundle.Scenes.Flag(first, ConfigFlagKey)
	require.True(t, ok)
	require.Equal(t, "stone-keep", flag)

	_, err = sys.EnsureScene("no-such-jail")
	require.Error(t, err)
}

func TestRollRandomJailDrawsBundledTemplate(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		_, template, err := sys.RollRandomJail()
		require.NoError(t, err)
		seen[template.ID] = true
	}
	require.GreaterOrEqual(t, len(seen), 2, "uniform draw over 3 templates should hit more than one in 50 tries")
}

func TestSendToJailMovesTokenAndRecordsOrigin(t *testing.T) {
	sys, mem, origin := newTestSystem(t)
	bundle := mem.Bundle()
	actorID := mem.AddActor(host.Actor{Name: "Pip", System: "generic"})
	pos := geom.Vec2{X: 450, Y: 350}
	tokenID := mem.AddToken(host.TokenSnapshot{Name: "Pip", ActorID: actorID, Position: pos}, origin)

	rec, originDoc, err := sys.SendToJail(origin, tokenID, SendOptions{CapturedBy: "guard-1", TargetLevel: 3})
	require.NoError(t, err)
	require.Equal(t, actorID, rec.ActorID)
	require.Equal(t, origin, rec.OriginSceneID)
	require.Equal(t, pos, rec.OriginPos)
	require.Equal(t, pos, originDoc.Position)

	_, stillThere := bundle.Tokens.Token(origin, tokenID)
	require.False(t, stillThere, "origin token must be removed")

	placed, ok := bundle.Tokens.Token(rec.JailSceneID, rec.TokenID)
	require.True(t, ok)
	require.Equal(t, rec.Cell, placed.Position)

	template, ok := sys.TemplateForScene(rec.JailSceneID)
	require.True(t, ok)
	require.Contains(t, template.Cells, rec.Cell)

	active, ok := sys.Prisoners.Active(actorID)
	require.True(t, ok)
	require.Equal(t, rec.TokenID, active.TokenID)
}

func TestSendToJailRejectsSecondCapture(t *testing.T) {
	sys, mem, origin := newTestSystem(t)
	actorID := mem.AddActor(host.Actor{Name: "Pip"})
	tokenID := mem.AddToken(host.TokenSnapshot{Name: "Pip", ActorID: actorID}, origin)

	_, _, err := sys.SendToJail(origin, tokenID, SendOptions{})
	require.NoError(t, err)

	again := mem.AddToken(host.TokenSnapshot{Name: "Pip clone", ActorID: actorID}, origin)
	_, _, err = sys.SendToJail(origin, again, SendOptions{})
	require.Error(t, err, "one active record per actor")
}

func TestCellAssignmentSkipsOccupied(t *testing.T) {
	sys, mem, _ := newTestSystem(t)

	jailSceneID, err := sys.EnsureScene("harbor-brig")
	require.NoError(t, err)
	template := Templates["harbor-brig"]

	seats := make(map[geom.Vec2]bool)
	for i := 0; i < len(template.Cells); i++ {
		cell := sys.NextAvailableCell(jailSceneID)
		require.False(t, seats[cell], "cell handed out twice")
		seats[cell] = true
		actorID := mem.AddActor(host.Actor{Name: "prisoner"})
		require.NoError(t, sys.Prisoners.Add(PrisonerRecord{
			ActorID:     actorID,
			TokenID:     "tok-" + actorID,
			JailSceneID: jailSceneID,
			Cell:        cell,
		}))
	}
	require.Equal(t, template.Spawn, sys.NextAvailableCell(jailSceneID), "full jail falls back to spawn")
}

func TestReleasePrisonerReturnToOrigin(t *testing.T) {
	sys, mem, origin := newTestSystem(t)
	bundle := mem.Bundle()
	actorID := mem.AddActor(host.Actor{Name: "Pip"})
	pos := geom.Vec2{X: 850, Y: 550}
	tokenID := mem.AddToken(host.TokenSnapshot{Name: "Pip", ActorID: actorID, Position: pos}, origin)

	rec, _, err := sys.SendToJail(origin, tokenID, SendOptions{})
	require.NoError(t, err)

	released, err := sys.ReleasePrisoner(actorID, ReleaseOptions{ReturnToOrigin: true})
	require.NoError(t, err)
	require.Equal(t, rec.TokenID, released.TokenID)

	_, inJail := bundle.Tokens.Token(rec.JailSceneID, rec.TokenID)
	require.False(t, inJail, "jail token must be removed on release")

	returned := bundle.Tokens.TokensInScene(origin)
	require.Len(t, returned, 1)
	require.Equal(t, pos, returned[0].Position)

	_, active := sys.Prisoners.Active(actorID)
	require.False(t, active)

	// Record stays in the ledger as history unless cleared.
	require.Len(t, sys.Prisoners.Records(), 1)

	_, err = sys.ReleasePrisoner(actorID, ReleaseOptions{})
	require.Error(t, err, "double release")
}

func TestReleasePrisonerClearRecord(t *testing.T) {
	sys, mem, origin := newTestSystem(t)
	actorID := mem.AddActor(host.Actor{Name: "Pip"})
	tokenID := mem.AddToken(host.TokenSnapshot{Name: "Pip", ActorID: actorID}, origin)

	_, _, err := sys.SendToJail(origin, tokenID, SendOptions{})
	require.NoError(t, err)
	_, err = sys.ReleasePrisoner(actorID, ReleaseOptions{ClearRecord: true})
	require.NoError(t, err)
	require.Empty(t, sys.Prisoners.Records())
}

func TestPrepareIsOneShotAndScalesGuards(t *testing.T) {
	sys, mem, _ := newTestSystem(t)
	bundle := mem.Bundle()

	jailSceneID, err := sys.EnsureScene("stone-keep")
	require.NoError(t, err)
	mem.AddToken(host.TokenSnapshot{Name: "Placeholder Guard"}, jailSceneID)

	require.NoError(t, sys.Prepare(jailSceneID, 5))

	template := Templates["stone-keep"]
	tokens := bundle.Tokens.TokensInScene(jailSceneID)
	require.Len(t, tokens, len(template.GuardAnchors), "placeholders swapped for scaled guards")
	for _, tok := range tokens {
		require.Equal(t, host.DispositionHostile, tok.Disposition)
		actor, ok := bundle.Actors.Actor(tok.ActorID)
		require.True(t, ok)
		require.Equal(t, template.Guards.HPAt(5), actor.Attributes["hp"])
		require.Equal(t, template.Guards.ACAt(5), actor.Attributes["ac"])
	}

	// Second call is a no-op: no duplicate guards.
	require.NoError(t, sys.Prepare(jailSceneID, 9))
	require.Len(t, bundle.Tokens.TokensInScene(jailSceneID), len(template.GuardAnchors))
}

func TestRestoreInstancesDropsDeadScenes(t *testing.T) {
	sys, _, origin := newTestSystem(t)
	sys.RestoreInstances(map[string]string{
		"stone-keep":  origin, // exists
		"harbor-brig": "gone",
	})
	idx := sys.Instances()
	require.Equal(t, map[string]string{"stone-keep": origin}, idx)
}

func TestRegistryRestoreRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(PrisonerRecord{ActorID: "a1", TokenID: "t1", JailSceneID: "j1", Cell: geom.Vec2{X: 1}}))
	require.NoError(t, reg.Add(PrisonerRecord{ActorID: "a2", TokenID: "t2", JailSceneID: "j1", Cell: geom.Vec2{X: 2}}))
	reg.Release("a1", time.Now())

	clone := NewRegistry()
	clone.Restore(reg.Records())
	require.Equal(t, 1, clone.ActiveCount())
	_, ok := clone.Active("a2")
	require.True(t, ok)
}
