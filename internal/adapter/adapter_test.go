package adapter

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/host/memhost"
)

func TestParseDamageFormula(t *testing.T) {
	cases := []struct {
		formula string
		want    float64
		ok      bool
	}{
		{"1d6", 3.5, true},
		{"2d8+3", 12, true},
		{"2d8 + 3", 12, true},
		{"4d4-2", 8, true},
		{" 1 d 20 ", 10.5, true},
		{"d6", 0, false},
		{"2x8", 0, false},
		{"", 0, false},
		{"1d6+", 0, false},
		{"fireball", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			got, ok := ParseDamageFormula(tc.formula)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestParseDamageFormulaRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(100)
		m := 1 + rng.Intn(100)
		k := rng.Intn(50)
		sign := "+"
		signed := float64(k)
		if rng.Intn(2) == 0 {
			sign = "-"
			signed = -float64(k)
		}
		formula := fmt.Sprintf("%dd%d%s%d", n, m, sign, k)
		got, ok := ParseDamageFormula(formula)
		require.True(t, ok, formula)
		want := float64(n)*float64(m+1)/2 + signed
		require.InDelta(t, want, got, 1e-9, formula)
	}
}

func newTestHost(t *testing.T) (*memhost.Runtime, host.Runtime) {
	t.Helper()
	rt := memhost.New(host.ClockFunc(func() time.Time { return time.Unix(0, 0) }))
	return rt, rt.Bundle()
}

func TestRegistryFallback(t *testing.T) {
	_, bundle := newTestHost(t)
	reg := NewRegistry(bundle.Actors, nil)

	assert.Equal(t, "dnd5e", reg.Get("dnd5e").ID())
	assert.Equal(t, "generic", reg.Get("pf2e").ID())
	assert.Equal(t, "generic", reg.Get("").ID())
}

func TestGenericGoldRoundTrip(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{
		Name:       "Merchant",
		System:     "worldbuilder",
		Attributes: map[string]any{"gold": 200, "hp": 12, "hpMax": 20},
	})
	reg := NewRegistry(bundle.Actors, nil)

	actor, ok := bundle.Actors.Actor(actorID)
	require.True(t, ok)
	ad := reg.ForActor(actor)

	before, ok := ad.RemoveGold(actor, 50)
	require.True(t, ok)
	assert.Equal(t, 200, before)

	actor, _ = bundle.Actors.Actor(actorID)
	gold, ok := ad.Gold(actor)
	require.True(t, ok)
	assert.Equal(t, 150, gold)

	// Restoring the pre-value is the undo path.
	_, ok = ad.SetGold(actor, before)
	require.True(t, ok)
	actor, _ = bundle.Actors.Actor(actorID)
	gold, _ = ad.Gold(actor)
	assert.Equal(t, 200, gold)
}

func TestGenericRemoveGoldFloorsAtZero(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{
		Attributes: map[string]any{"gold": 5},
	})
	reg := NewRegistry(bundle.Actors, nil)
	actor, _ := bundle.Actors.Actor(actorID)
	ad := reg.ForActor(actor)

	_, ok := ad.RemoveGold(actor, 50)
	require.True(t, ok)
	actor, _ = bundle.Actors.Actor(actorID)
	gold, _ := ad.Gold(actor)
	assert.Equal(t, 0, gold)
}

func TestDnd5eNestedStats(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{
		Name:   "Guard",
		System: "dnd5e",
		Attributes: map[string]any{
			"attributes": map[string]any{
				"hp": map[string]any{"value": 30, "max": 45},
				"ac": map[string]any{"value": 16},
			},
			"abilities": map[string]any{
				"con": map[string]any{"mod": 2},
			},
			"currency": map[string]any{"gp": 80},
		},
	})
	reg := NewRegistry(bundle.Actors, nil)
	actor, _ := bundle.Actors.Actor(actorID)
	ad := reg.ForActor(actor)
	require.Equal(t, "dnd5e", ad.ID())

	hp, ok := ad.HP(actor)
	require.True(t, ok)
	assert.Equal(t, 30, hp)
	maxHP, _ := ad.MaxHP(actor)
	assert.Equal(t, 45, maxHP)
	assert.Equal(t, 16, ad.AC(actor))
	assert.Equal(t, 2, ad.ConMod(actor))

	before, after, ok := ad.ApplyDamage(actor, 12)
	require.True(t, ok)
	assert.Equal(t, 30, before)
	assert.Equal(t, 18, after)

	actor, _ = bundle.Actors.Actor(actorID)
	hp, _ = ad.HP(actor)
	assert.Equal(t, 18, hp)
	// Siblings survive the nested patch.
	maxHP, _ = ad.MaxHP(actor)
	assert.Equal(t, 45, maxHP)

	require.True(t, ad.RestoreDamage(actor, before))
	actor, _ = bundle.Actors.Actor(actorID)
	hp, _ = ad.HP(actor)
	assert.Equal(t, 30, hp)
}

func TestAdapterMissingStatsFailSoft(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{Name: "Statless"})
	reg := NewRegistry(bundle.Actors, nil)
	actor, _ := bundle.Actors.Actor(actorID)
	ad := reg.ForActor(actor)

	_, ok := ad.HP(actor)
	assert.False(t, ok)
	_, _, ok = ad.ApplyDamage(actor, 5)
	assert.False(t, ok)
	_, ok = ad.Gold(actor)
	assert.False(t, ok)
	assert.Equal(t, 10, ad.AC(actor))
	assert.Equal(t, 0, ad.ConMod(actor))
}

func TestEstimateBestAttack(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{
		Items: []host.Item{
			{ID: "i1", Name: "Dagger", Type: "weapon", Quantity: 1, DamageFormula: "1d4", AttackBonus: 2},
			{ID: "i2", Name: "Longsword", Type: "weapon", Quantity: 1, DamageFormula: "1d8+3", AttackBonus: 5},
			{ID: "i3", Name: "Rope", Type: "tool", Quantity: 1},
			{ID: "i4", Name: "Cursed Blade", Type: "weapon", Quantity: 1, DamageFormula: "banana"},
		},
	})
	reg := NewRegistry(bundle.Actors, nil)
	actor, _ := bundle.Actors.Actor(actorID)
	ad := reg.ForActor(actor)

	est, ok := ad.EstimateBestAttack(actor)
	require.True(t, ok)
	assert.Equal(t, "Longsword", est.Weapon.Name)
	assert.InDelta(t, 7.5, est.AvgDamage, 1e-9)
	assert.Equal(t, 5, est.AttackBonus)
}

type stubOrchestrator struct {
	fail bool
}

func (s stubOrchestrator) RollItem(item host.Item, attackerID string, targetIDs []string) (string, error) {
	if s.fail {
		return "", assert.AnError
	}
	return "workflow-1", nil
}

func TestRollItemUsePrecedence(t *testing.T) {
	_, bundle := newTestHost(t)
	item := host.Item{Name: "Mace", Type: "weapon", DamageFormula: "1d6+1"}

	withOrch := NewRegistry(bundle.Actors, stubOrchestrator{}).Get("generic")
	res, ok := withOrch.RollItemUse(item, "a1", []string{"t1"})
	require.True(t, ok)
	assert.Equal(t, "workflow-1", res.WorkflowID)
	assert.False(t, res.Native)

	failing := NewRegistry(bundle.Actors, stubOrchestrator{fail: true}).Get("generic")
	res, ok = failing.RollItemUse(item, "a1", nil)
	require.True(t, ok)
	assert.True(t, res.Native)
	assert.InDelta(t, 4.5, res.AvgDamage, 1e-9)

	none := NewRegistry(bundle.Actors, nil).Get("generic")
	_, ok = none.RollItemUse(host.Item{Name: "Shield"}, "a1", nil)
	assert.False(t, ok)
}

func TestRemoveAndRestoreItem(t *testing.T) {
	rt, bundle := newTestHost(t)
	actorID := rt.AddActor(host.Actor{
		Items: []host.Item{{ID: "i1", Name: "Lockpick", Type: "tool", Quantity: 3}},
	})
	reg := NewRegistry(bundle.Actors, nil)
	actor, _ := bundle.Actors.Actor(actorID)
	ad := reg.ForActor(actor)

	removed, ok := ad.RemoveItem(actor, "lockpick")
	require.True(t, ok)
	assert.Equal(t, "Lockpick", removed.Name)

	actor, _ = bundle.Actors.Actor(actorID)
	assert.Empty(t, actor.Items)

	require.True(t, ad.RestoreItem(actorID, removed))
	actor, _ = bundle.Actors.Actor(actorID)
	require.Len(t, actor.Items, 1)
	assert.Equal(t, 3, actor.Items[0].Quantity)
}
