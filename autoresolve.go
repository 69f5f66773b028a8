package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"nightwatch/engine/internal/decide"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/undo"
	logpatrol "nightwatch/engine/logging/patrol"
)

// autoResolveDelay is one combat round. Automated captures resolve after the
// opening round so assistants rolled at capture time can still arrive.
const autoResolveDelay = 6 * time.Second

// unarmedAvgDamage stands in for combatants without a parseable attack item
// so no group simulates at zero damage output.
const unarmedAvgDamage = 2.5

// CombatResolution reports the product of one attrition auto-resolve.
type CombatResolution struct {
	Rounds   int      `json:"rounds"`
	Decisive bool     `json:"decisive"`
	Defeated []string `json:"defeated"`
	Fled     []string `json:"fled"`
	UndoIDs  []int64  `json:"undoIds"`
}

// AutoResolveCombat resolves the scene's active combat by group attrition:
// combatants are grouped by disposition, each group's hit points and damage
// output are estimated through the system adapter, and the losing side is
// removed from the scene with one undo record per defeated token. Patrols
// with AutomateCombat run this automatically one round after their combat
// outcome; this entry point covers the GM button.
func (m *Manager) AutoResolveCombat(sceneID string) (CombatResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rt.Combat == nil {
		return CombatResolution{}, fmt.Errorf("no combat service available")
	}
	combatID, ok := m.rt.Combat.ActiveCombat(sceneID)
	if !ok {
		return CombatResolution{}, fmt.Errorf("no active combat in scene %s", sceneID)
	}
	return m.autoResolveCombatLocked(sceneID, combatID, "", m.clockNow()), nil
}

// autoResolveCombatLocked polls each combatant's tactical decision, feeds the
// remaining groups to the attrition simulation and executes the defeat of the
// losing side. Combatants who decide to flee sit the simulation out and stay
// on the scene.
func (m *Manager) autoResolveCombatLocked(sceneID, combatID, patrolID string, now time.Time) CombatResolution {
	combatants := m.rt.Combat.Combatants(combatID)

	byDisp := map[host.Disposition]*decide.GroupSummary{}
	var fled []string
	for _, c := range combatants {
		tok, ok := m.rt.Tokens.Token(sceneID, c.TokenID)
		if !ok {
			continue
		}
		enemies := 0
		for _, other := range combatants {
			if other.Disposition != c.Disposition {
				enemies++
			}
		}
		hp, maxHP := 1, 1
		dpr := unarmedAvgDamage
		if actor, ok := m.actorOf(tok); ok {
			ad := m.adapters.ForActor(actor)
			if v, ok := ad.HP(actor); ok {
				hp = v
			}
			if v, ok := ad.MaxHP(actor); ok {
				maxHP = v
			}
			if est, ok := ad.EstimateBestAttack(actor); ok && est.AvgDamage > 0 {
				dpr = est.AvgDamage
			}
		}
		action, err := m.decider.DecideCombatAction(context.Background(), decide.CombatInput{
			HP:         hp,
			MaxHP:      maxHP,
			EnemyCount: enemies,
		})
		if err != nil {
			m.warnf("combat action decision for %s: %v", tok.ID, err)
			action = decide.ActionAttack
		}
		logpatrol.Decision(context.Background(), m.events, m.tick, patrolID, logpatrol.DecisionPayload{
			Decision: string(action),
			Provider: m.decider.Label(),
			Detail:   map[string]any{"tokenId": tok.ID, "hp": hp, "enemies": enemies},
		})
		if action == decide.ActionFlee {
			fled = append(fled, tok.ID)
			continue
		}
		group, ok := byDisp[tok.Disposition]
		if !ok {
			group = &decide.GroupSummary{Disposition: int(tok.Disposition)}
			byDisp[tok.Disposition] = group
		}
		group.HP += float64(hp)
		group.DamagePerRound += dpr
		group.TokenIDs = append(group.TokenIDs, tok.ID)
	}

	groups := make([]decide.GroupSummary, 0, len(byDisp))
	for _, g := range byDisp {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Disposition < groups[j].Disposition })

	res := CombatResolution{Fled: fled}
	if len(groups) < 2 {
		// One side fled or fell apart; nothing left to simulate.
		return res
	}
	sim := decide.SimulateAttrition(groups)
	res.Rounds = sim.Rounds
	res.Decisive = sim.Decisive

	for _, tokenID := range sim.LoserTokens {
		rec, ok := m.defeatTokenLocked(sceneID, tokenID, now)
		if !ok {
			continue
		}
		res.Defeated = append(res.Defeated, tokenID)
		res.UndoIDs = append(res.UndoIDs, rec.Timestamp)
	}

	if err := m.rt.Combat.DeleteCombat(combatID); err != nil {
		m.warnf("close resolved combat %s: %v", combatID, err)
	}
	m.emitHook(HookCombatResolved, map[string]any{
		"sceneId":  sceneID,
		"rounds":   res.Rounds,
		"defeated": res.Defeated,
		"fled":     res.Fled,
	})
	return res
}

// defeatTokenLocked zeroes the loser's hit points, removes the token from the
// scene and journals one record whose actions restore both.
func (m *Manager) defeatTokenLocked(sceneID, tokenID string, now time.Time) (undo.Record, bool) {
	tok, ok := m.rt.Tokens.Token(sceneID, tokenID)
	if !ok {
		return undo.Record{}, false
	}
	var actions []undo.Action
	if actor, ok := m.actorOf(tok); ok {
		ad := m.adapters.ForActor(actor)
		if hp, ok := ad.HP(actor); ok && hp > 0 {
			if before, _, ok := ad.ApplyDamage(actor, hp); ok {
				actions = append(actions, undo.Action{Kind: undo.ActionRestoreHP, ActorID: actor.ID, HP: before})
			}
		}
	}
	doc, err := m.rt.Tokens.DeleteToken(sceneID, tokenID)
	if err != nil {
		m.warnf("remove defeated token %s: %v", tokenID, err)
	} else {
		actions = append(actions, undo.Action{Kind: undo.ActionRestoreToken, SceneID: sceneID, TokenID: tokenID, Token: doc})
	}
	if len(actions) == 0 {
		return undo.Record{}, false
	}
	m.notifyOwners(tok, fmt.Sprintf("%s falls in the skirmish.", tok.Name))
	rec := m.undoLog.Append(undo.Record{
		Timestamp: now.UnixMilli(),
		Type:      "combatDefeat",
		Message:   fmt.Sprintf("%s defeated in automated combat", tok.Name),
		Payload:   map[string]any{"tokenId": tokenID, "sceneId": sceneID},
		Actions:   actions,
	})
	return rec, true
}
