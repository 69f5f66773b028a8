package adapter

import "nightwatch/engine/internal/host"

// NewDnd5e builds the adapter for the dnd5e system layout. The stat tree is
// nested: attributes.hp.{value,max}, attributes.ac.value, abilities.con.mod,
// currency.gp. The adapter walks those shapes explicitly; no generic path
// reflection is involved.
func NewDnd5e(actors host.ActorService, orchestrator Orchestrator) SystemAdapter {
	return &base{
		id:           "dnd5e",
		actors:       actors,
		orchestrator: orchestrator,
		hp: statAccess{
			read: func(a host.Actor) (int, bool) {
				return nestedInt(a.Attributes, "attributes", "hp", "value")
			},
			write: func(actorID string, v int) error {
				return actors.UpdateAttributes(actorID, nestedPatch(v, "attributes", "hp", "value"))
			},
		},
		maxHP: func(a host.Actor) (int, bool) {
			return nestedInt(a.Attributes, "attributes", "hp", "max")
		},
		ac: func(a host.Actor) (int, bool) {
			return nestedInt(a.Attributes, "attributes", "ac", "value")
		},
		conMod: func(a host.Actor) (int, bool) {
			return nestedInt(a.Attributes, "abilities", "con", "mod")
		},
		gold: statAccess{
			read: func(a host.Actor) (int, bool) {
				return nestedInt(a.Attributes, "currency", "gp")
			},
			write: func(actorID string, v int) error {
				return actors.UpdateAttributes(actorID, nestedPatch(v, "currency", "gp"))
			},
		},
	}
}

// nestedInt walks a chain of map keys and coerces the leaf into an int.
func nestedInt(attrs map[string]any, path ...string) (int, bool) {
	current := attrs
	for i, key := range path {
		if current == nil {
			return 0, false
		}
		if i == len(path)-1 {
			return intAttr(current, key)
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			return 0, false
		}
		current = next
	}
	return 0, false
}

// nestedPatch builds a single-leaf nested map for UpdateAttributes.
func nestedPatch(v int, path ...string) map[string]any {
	patch := map[string]any{path[len(path)-1]: v}
	for i := len(path) - 2; i >= 0; i-- {
		patch = map[string]any{path[i]: patch}
	}
	return patch
}
