package engine

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/host/memhost"
	"nightwatch/engine/internal/wire"

	"github.com/stretchr/testify/require"
)

// fixture drives the engine against the in-memory host with a virtual clock.
// Advance always goes through fx.advance so the clock and the scheduler stay
// in step.
type fixture struct {
	t       *testing.T
	mem     *memhost.Runtime
	rt      host.Runtime
	m       *Manager
	sceneID string
	now     time.Time
}

func newFixture(t *testing.T, cfg Config, walls []geom.Wall) *fixture {
	t.Helper()
	fx := &fixture{
		t:   t,
		now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	fx.mem = memhost.New(host.ClockFunc(func() time.Time { return fx.now }))
	fx.rt = fx.mem.Bundle()
	fx.sceneID = fx.mem.AddScene(host.SceneInfo{
		Name:     "Harbor District",
		Width:    3000,
		Height:   2000,
		Padding:  100,
		GridSize: 100,
	}, walls)
	fx.m = NewManager(fx.rt, ManagerOptions{
		Config: cfg,
		RNG:    rand.New(rand.NewSource(7)),
	})
	require.NoError(t, fx.m.LoadScenePatrols(fx.sceneID))
	return fx
}

// busFixture runs the engine behind a wire bus whose transport captures every
// outbound frame. The default memhost identity is a lone GM, so the local
// session is primary unless SetPeers says otherwise.
type busFixture struct {
	*fixture
	bus *wire.Bus

	mu     sync.Mutex
	frames [][]byte
}

func newBusFixture(t *testing.T, cfg Config, walls []geom.Wall) *busFixture {
	t.Helper()
	bf := &busFixture{fixture: &fixture{
		t:   t,
		now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}}
	fx := bf.fixture
	fx.mem = memhost.New(host.ClockFunc(func() time.Time { return fx.now }))
	fx.rt = fx.mem.Bundle()
	fx.sceneID = fx.mem.AddScene(host.SceneInfo{
		Name:     "Harbor District",
		Width:    3000,
		Height:   2000,
		Padding:  100,
		GridSize: 100,
	}, walls)
	bf.bus = wire.NewBus(fx.rt.Peers, wire.TransportFunc(func(data []byte) error {
		bf.mu.Lock()
		defer bf.mu.Unlock()
		bf.frames = append(bf.frames, append([]byte(nil), data...))
		return nil
	}), nil)
	fx.m = NewManager(fx.rt, ManagerOptions{
		Config: cfg,
		RNG:    rand.New(rand.NewSource(7)),
		Bus:    bf.bus,
	})
	require.NoError(t, fx.m.LoadScenePatrols(fx.sceneID))
	return bf
}

// sent decodes the captured frames of one message type, in send order.
func (bf *busFixture) sent(msgType string) []wire.Message {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	var out []wire.Message
	for _, data := range bf.frames {
		msg, err := wire.Decode(data)
		require.NoError(bf.t, err)
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (bf *busFixture) clearFrames() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.frames = nil
}

func (fx *fixture) advance(d time.Duration) {
	fx.now = fx.now.Add(d)
	fx.m.Advance(fx.now)
}

func (fx *fixture) addGuard(pos geom.Vec2) string {
	fx.t.Helper()
	return fx.mem.AddToken(host.TokenSnapshot{
		Name:        "Night Guard",
		Position:    pos,
		Hidden:      true,
		Disposition: host.DispositionHostile,
	}, fx.sceneID)
}

// addPlayer registers a player-owned token with an actor carrying gold and
// items.
func (fx *fixture) addPlayer(name string, pos geom.Vec2, gold int, items ...host.Item) (string, string) {
	fx.t.Helper()
	actorID := fx.mem.AddActor(host.Actor{
		Name:   name,
		System: "generic",
		Level:  3,
		Attributes: map[string]any{
			"hp":    30,
			"hpMax": 30,
			"gold":  gold,
		},
		Items: items,
	})
	tokenID := fx.mem.AddToken(host.TokenSnapshot{
		Name:           name,
		ActorID:        actorID,
		Position:       pos,
		Disposition:    host.DispositionFriendly,
		OwnerUserIDs:   []string{"player-1"},
		HasPlayerOwner: true,
	}, fx.sceneID)
	return tokenID, actorID
}

func (fx *fixture) addWaypoints(positions ...geom.Vec2) []string {
	fx.t.Helper()
	ids := make([]string, 0, len(positions))
	for _, pos := range positions {
		w := NewWaypoint("", fx.sceneID, pos)
		created, err := fx.m.CreateWaypoint(w)
		require.NoError(fx.t, err)
		ids = append(ids, created.ID)
	}
	return ids
}

func (fx *fixture) newPatrol(tokenID string, waypointIDs []string) *Patrol {
	fx.t.Helper()
	p := NewPatrol("", fx.sceneID)
	p.Name = "Harbor Watch"
	p.TokenID = tokenID
	p.WaypointIDs = waypointIDs
	created, err := fx.m.CreatePatrol(p)
	require.NoError(fx.t, err)
	return created
}

func (fx *fixture) actorGold(actorID string) int {
	fx.t.Helper()
	actor, ok := fx.rt.Actors.Actor(actorID)
	require.True(fx.t, ok)
	gold, ok := fx.m.adapters.ForActor(actor).Gold(actor)
	require.True(fx.t, ok)
	return gold
}

func (fx *fixture) token(tokenID string) host.TokenSnapshot {
	fx.t.Helper()
	tok, ok := fx.rt.Tokens.Token(fx.sceneID, tokenID)
	require.True(fx.t, ok)
	return tok
}
