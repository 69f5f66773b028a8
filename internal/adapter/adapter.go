// Package adapter isolates per-game-system stat, item and damage access
// behind one interface. The rest of the engine never touches a system field
// layout; adapters fail soft and return ok=false instead of erroring.
package adapter

import (
	"nightwatch/engine/internal/host"
)

// AttackEstimate summarizes the strongest attack an actor can make.
type AttackEstimate struct {
	AvgDamage   float64
	AttackBonus int
	Weapon      host.Item
}

// ItemUseResult captures the product of rolling an item use.
type ItemUseResult struct {
	WorkflowID string
	AvgDamage  float64
	Native     bool
}

// Orchestrator is an optional third-party combat/damage workflow source.
// When present it takes precedence over native rolls.
type Orchestrator interface {
	RollItem(item host.Item, attackerID string, targetIDs []string) (string, error)
}

// SystemAdapter is the uniform capability set the engine relies on. Adapters
// differ only in how they walk the host actor's attribute tree.
type SystemAdapter interface {
	ID() string

	HP(a host.Actor) (int, bool)
	MaxHP(a host.Actor) (int, bool)
	SetHP(a host.Actor, v int) bool
	// ApplyDamage reduces HP by n and reports the pre and post values.
	ApplyDamage(a host.Actor, n int) (before, after int, ok bool)
	// RestoreDamage writes back a previously captured HP value.
	RestoreDamage(a host.Actor, before int) bool

	AC(a host.Actor) int
	ConMod(a host.Actor) int

	Gold(a host.Actor) (int, bool)
	// SetGold overwrites the gold value and returns the pre-mutation value.
	SetGold(a host.Actor, v int) (before int, ok bool)
	AddGold(a host.Actor, n int) (before int, ok bool)
	RemoveGold(a host.Actor, n int) (before int, ok bool)

	AttackItems(a host.Actor) []host.Item
	EstimateBestAttack(a host.Actor) (AttackEstimate, bool)
	// RollItemUse delegates to the orchestrator when configured, falls back
	// to averaging the item's native damage formula, and reports ok=false
	// when neither path applies.
	RollItemUse(item host.Item, attackerID string, targetIDs []string) (ItemUseResult, bool)

	RestoreItem(actorID string, item host.Item) bool
	RemoveItem(a host.Actor, idOrName string) (host.Item, bool)
}

// Registry selects an adapter by system id with a generic fallback.
type Registry struct {
	adapters map[string]SystemAdapter
	fallback SystemAdapter
}

// NewRegistry builds a registry with the bundled adapters registered against
// the supplied actor service.
func NewRegistry(actors host.ActorService, orchestrator Orchestrator) *Registry {
	generic := NewGeneric(actors, orchestrator)
	r := &Registry{
		adapters: make(map[string]SystemAdapter),
		fallback: generic,
	}
	r.Register(generic)
	r.Register(NewDnd5e(actors, orchestrator))
	return r
}

// Register adds or replaces an adapter keyed by its system id.
func (r *Registry) Register(a SystemAdapter) {
	if r == nil || a == nil {
		return
	}
	r.adapters[a.ID()] = a
}

// Get returns the exact-match adapter for systemID, else the generic default.
func (r *Registry) Get(systemID string) SystemAdapter {
	if r == nil {
		return nil
	}
	if a, ok := r.adapters[systemID]; ok {
		return a
	}
	return r.fallback
}

// ForActor resolves the adapter matching the actor's declared system.
func (r *Registry) ForActor(a host.Actor) SystemAdapter {
	if r == nil {
		return nil
	}
	return r.Get(a.System)
}
