// Package decide hosts the engine's abstract decision points. The bundled
// heuristic provider keeps the engine fully operable offline; an external
// oracle can be layered on top and falls back to the heuristic on any
// failure.
package decide

import (
	"context"
	"math/rand"
	"sort"
)

// Aggressiveness tunes how strongly a patrol escalates.
type Aggressiveness string

const (
	Conservative Aggressiveness = "conservative"
	Normal       Aggressiveness = "normal"
	Aggressive   Aggressiveness = "aggressive"
)

// BriberyInput carries everything the bribery decision needs.
type BriberyInput struct {
	Bribe          int
	Gold           int
	BaseCost       int
	Scale          float64
	Aggressiveness Aggressiveness
	// Chance is the bribery acceptance gate in percent [0, 100].
	Chance float64
}

// OutcomeInput carries the capture outcome weights and context.
type OutcomeInput struct {
	Weights        map[string]int
	Aggressiveness Aggressiveness
}

// CombatAction is one of the four tactical choices.
type CombatAction string

const (
	ActionAttack CombatAction = "attack"
	ActionDefend CombatAction = "defend"
	ActionPursue CombatAction = "pursue"
	ActionFlee   CombatAction = "flee"
)

// CombatInput summarizes a combatant's situation.
type CombatInput struct {
	HP         int
	MaxHP      int
	EnemyCount int
}

// Provider answers the engine's decision points. Implementations must not
// block beyond their context and must never panic; errors route the caller
// to the heuristic fallback.
type Provider interface {
	Label() string
	DecideBribery(ctx context.Context, in BriberyInput) (bool, error)
	DecideCaptureOutcome(ctx context.Context, in OutcomeInput) (string, error)
	DecideCombatAction(ctx context.Context, in CombatInput) (CombatAction, error)
}

// Heuristic is the default provider. All randomness flows through the
// injected rng so decisions are reproducible under a fixed seed.
type Heuristic struct {
	rng *rand.Rand
}

// NewHeuristic constructs the default provider around the supplied rng.
func NewHeuristic(rng *rand.Rand) *Heuristic {
	return &Heuristic{rng: rng}
}

// Label implements Provider.
func (h *Heuristic) Label() string { return "heuristic" }

// DecideBribery accepts a bribe when the guard can be moved at all
// (chance gate), the target can pay, and the offer clears the guard's
// threshold of baseCost * 0.75 * scale adjusted by aggressiveness.
func (h *Heuristic) DecideBribery(_ context.Context, in BriberyInput) (bool, error) {
	threshold := float64(in.BaseCost) * 0.75 * in.Scale
	switch in.Aggressiveness {
	case Aggressive:
		threshold *= 0.6
	case Conservative:
		threshold *= 1.1
	}
	if in.Gold < in.Bribe {
		return false, nil
	}
	if float64(in.Bribe) < threshold {
		return false, nil
	}
	roll := 0.0
	if h != nil && h.rng != nil {
		roll = h.rng.Float64() * 100
	}
	return roll <= in.Chance, nil
}

// DecideCaptureOutcome biases the weights by aggressiveness then returns the
// argmax. Ties break on lexical order so the pick is deterministic.
func (h *Heuristic) DecideCaptureOutcome(_ context.Context, in OutcomeInput) (string, error) {
	if len(in.Weights) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(in.Weights))
	for k := range in.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	bestWeight := -1.0
	for _, k := range keys {
		w := float64(in.Weights[k])
		switch in.Aggressiveness {
		case Aggressive:
			if k == "combat" {
				w *= 1.25
			} else if k == "theft" {
				w *= 0.75
			}
		case Conservative:
			if k == "combat" {
				w *= 0.75
			} else if k == "theft" {
				w *= 1.25
			}
		}
		if w > bestWeight {
			bestWeight = w
			best = k
		}
	}
	return best, nil
}

// DecideCombatAction picks by HP ratio: flee under a quarter, defend under
// half, pursue when no enemy remains in reach, attack otherwise.
func (h *Heuristic) DecideCombatAction(_ context.Context, in CombatInput) (CombatAction, error) {
	if in.MaxHP > 0 {
		ratio := float64(in.HP) / float64(in.MaxHP)
		if ratio < 0.25 {
			return ActionFlee, nil
		}
		if ratio < 0.5 {
			return ActionDefend, nil
		}
	}
	if in.EnemyCount == 0 {
		return ActionPursue, nil
	}
	return ActionAttack, nil
}
