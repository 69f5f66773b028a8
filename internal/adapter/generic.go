package adapter

import (
	"strings"

	"nightwatch/engine/internal/host"
)

// statAccess captures the system-specific read/write pair one adapter uses
// for an integer stat.
type statAccess struct {
	read  func(host.Actor) (int, bool)
	write func(actorID string, v int) error
}

// base carries the shared mechanics of every bundled adapter; only the stat
// accessors differ per system.
type base struct {
	id           string
	actors       host.ActorService
	orchestrator Orchestrator
	hp           statAccess
	maxHP        func(host.Actor) (int, bool)
	ac           func(host.Actor) (int, bool)
	conMod       func(host.Actor) (int, bool)
	gold         statAccess
}

func (b *base) ID() string { return b.id }

func (b *base) HP(a host.Actor) (int, bool) {
	if b == nil || b.hp.read == nil {
		return 0, false
	}
	return b.hp.read(a)
}

func (b *base) MaxHP(a host.Actor) (int, bool) {
	if b == nil || b.maxHP == nil {
		return 0, false
	}
	return b.maxHP(a)
}

func (b *base) SetHP(a host.Actor, v int) bool {
	if b == nil || b.hp.write == nil {
		return false
	}
	return b.hp.write(a.ID, v) == nil
}

func (b *base) ApplyDamage(a host.Actor, n int) (int, int, bool) {
	before, ok := b.HP(a)
	if !ok {
		return 0, 0, false
	}
	after := before - n
	if after < 0 {
		after = 0
	}
	if !b.SetHP(a, after) {
		return 0, 0, false
	}
	return before, after, true
}

func (b *base) RestoreDamage(a host.Actor, before int) bool {
	return b.SetHP(a, before)
}

func (b *base) AC(a host.Actor) int {
	if b != nil && b.ac != nil {
		if v, ok := b.ac(a); ok {
			return v
		}
	}
	return 10
}

func (b *base) ConMod(a host.Actor) int {
	if b != nil && b.conMod != nil {
		if v, ok := b.conMod(a); ok {
			return v
		}
	}
	return 0
}

func (b *base) Gold(a host.Actor) (int, bool) {
	if b == nil || b.gold.read == nil {
		return 0, false
	}
	return b.gold.read(a)
}

func (b *base) SetGold(a host.Actor, v int) (int, bool) {
	before, ok := b.Gold(a)
	if !ok {
		return 0, false
	}
	if b.gold.write == nil || b.gold.write(a.ID, v) != nil {
		return 0, false
	}
	return before, true
}

func (b *base) AddGold(a host.Actor, n int) (int, bool) {
	before, ok := b.Gold(a)
	if !ok {
		return 0, false
	}
	return b.SetGold(a, before+n)
}

func (b *base) RemoveGold(a host.Actor, n int) (int, bool) {
	before, ok := b.Gold(a)
	if !ok {
		return 0, false
	}
	next := before - n
	if next < 0 {
		next = 0
	}
	return b.SetGold(a, next)
}

// attackItemTypes lists the item types considered usable attacks.
var attackItemTypes = map[string]bool{
	"weapon": true,
	"spell":  true,
}

func (b *base) AttackItems(a host.Actor) []host.Item {
	items := make([]host.Item, 0, len(a.Items))
	for _, item := range a.Items {
		if attackItemTypes[item.Type] && item.Quantity != 0 {
			items = append(items, item)
		}
	}
	return items
}

func (b *base) EstimateBestAttack(a host.Actor) (AttackEstimate, bool) {
	best := AttackEstimate{}
	found := false
	for _, item := range b.AttackItems(a) {
		avg, ok := ParseDamageFormula(item.DamageFormula)
		if !ok {
			continue
		}
		if !found || avg > best.AvgDamage {
			best = AttackEstimate{AvgDamage: avg, AttackBonus: item.AttackBonus, Weapon: item}
			found = true
		}
	}
	return best, found
}

func (b *base) RollItemUse(item host.Item, attackerID string, targetIDs []string) (ItemUseResult, bool) {
	if b != nil && b.orchestrator != nil {
		workflowID, err := b.orchestrator.RollItem(item, attackerID, targetIDs)
		if err == nil {
			return ItemUseResult{WorkflowID: workflowID}, true
		}
	}
	if avg, ok := ParseDamageFormula(item.DamageFormula); ok {
		return ItemUseResult{AvgDamage: avg, Native: true}, true
	}
	return ItemUseResult{}, false
}

func (b *base) RestoreItem(actorID string, item host.Item) bool {
	if b == nil || b.actors == nil {
		return false
	}
	return b.actors.CreateItem(actorID, item) == nil
}

func (b *base) RemoveItem(a host.Actor, idOrName string) (host.Item, bool) {
	if b == nil || b.actors == nil {
		return host.Item{}, false
	}
	for _, item := range a.Items {
		if item.ID == idOrName || strings.EqualFold(item.Name, idOrName) {
			removed, err := b.actors.DeleteItem(a.ID, item.ID)
			if err != nil {
				return host.Item{}, false
			}
			return removed, true
		}
	}
	return host.Item{}, false
}

// NewGeneric builds the fallback adapter reading flat attribute keys. It is
// registered under the id "generic" and used whenever no exact-match adapter
// exists for a system.
func NewGeneric(actors host.ActorService, orchestrator Orchestrator) SystemAdapter {
	readInt := func(key string) func(host.Actor) (int, bool) {
		return func(a host.Actor) (int, bool) {
			return intAttr(a.Attributes, key)
		}
	}
	writeInt := func(key string) func(string, int) error {
		return func(actorID string, v int) error {
			return actors.UpdateAttributes(actorID, map[string]any{key: v})
		}
	}
	return &base{
		id:           "generic",
		actors:       actors,
		orchestrator: orchestrator,
		hp:           statAccess{read: readInt("hp"), write: writeInt("hp")},
		maxHP:        readInt("hpMax"),
		ac:           readInt("ac"),
		conMod:       readInt("conMod"),
		gold:         statAccess{read: readInt("gold"), write: writeInt("gold")},
	}
}

// intAttr coerces a loosely typed attribute into an int. JSON round-trips
// produce float64, host documents may carry native ints.
func intAttr(attrs map[string]any, key string) (int, bool) {
	if attrs == nil {
		return 0, false
	}
	switch v := attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
