package engine

import (
	"fmt"
	"time"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/jail"
	"nightwatch/engine/internal/undo"
	"nightwatch/engine/internal/wire"
)

// reinforcementVariants are the visual variants drawn for spawned
// reinforcements.
var reinforcementVariants = []string{
	"guards/reinforcement-halberd.webp",
	"guards/reinforcement-sword.webp",
	"guards/reinforcement-crossbow.webp",
	"guards/reinforcement-captain.webp",
}

// reinforcementScaling is the stat template for alert reinforcements and
// encounter assistants.
var reinforcementScaling = jail.GuardScaling{
	BaseLevel:  1,
	BaseHP:     11,
	HPPerLevel: 4,
	BaseAC:     14,
	ACPerLevel: 1,
}

// reinforceOwner tags scheduled spawn tasks per scene, so scene teardown can
// cancel telegraphed waves that have not landed yet.
func reinforceOwner(sceneID string) string { return "reinforce:" + sceneID }

// requestReinforcementsLocked runs the alert wave for one detection: gate on
// the per-scene cooldown, pick waypoints from the other active routes, then
// telegraph and spawn a hostile token at each after the telegraph delay.
func (m *Manager) requestReinforcementsLocked(p *Patrol, w *Waypoint, tok host.TokenSnapshot, now time.Time) {
	srt := m.runtimeFor(p.SceneID)
	if !srt.lastAlert.IsZero() && now.Sub(srt.lastAlert) < m.cfg.ReinforcementCooldown {
		return
	}
	srt.lastAlert = now

	pool := m.reinforcementPoolLocked(p.SceneID, w)
	k := 1 + srt.rng.Intn(4)
	if k > len(pool) {
		k = len(pool)
	}
	if k == 0 {
		return
	}
	srt.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	// One journal record per wave; each landing spawn appends its
	// compensating despawn action to it.
	waveRec := m.undoLog.Append(undo.Record{
		Timestamp: now.UnixMilli(),
		Type:      "reinforcements",
		Message:   fmt.Sprintf("%s called %d reinforcements", p.Name, k),
		Payload:   map[string]any{"patrolId": p.ID, "sceneId": p.SceneID, "count": k},
	})

	level := m.targetLevel(tok)
	for _, spot := range pool[:k] {
		pos := spot.Position
		m.publish(wire.TypePlayAppearEffect, wire.EffectPayload{
			X:          pos.X,
			Y:          pos.Y,
			EffectType: "telegraph",
			Color:      m.cfg.GlobalColor,
		})
		sceneID, sourceID, journalTS := p.SceneID, p.ID, waveRec.Timestamp
		m.sched.schedule(now.Add(m.cfg.TelegraphDelay), reinforceOwner(sceneID), func(due time.Time) {
			m.spawnReinforcementLocked(sceneID, sourceID, pos, level, 1, journalTS, due)
		})
	}

	for _, userID := range m.nonGMOwners(tok) {
		m.publish(wire.TypeAlertPopup, wire.AlertPopupPayload{
			UserID: userID,
			Data: wire.AlertPopupData{
				TokenName:          tok.Name,
				ReinforcementCount: k,
			},
		})
	}
	m.emitHook(HookAlertReceived, map[string]any{
		"patrolId": p.ID,
		"sceneId":  p.SceneID,
		"count":    k,
	})
}

// reinforcementPoolLocked gathers the waypoints of every active patrol in the
// scene, minus the alerting waypoint.
func (m *Manager) reinforcementPoolLocked(sceneID string, exclude *Waypoint) []*Waypoint {
	seen := map[string]struct{}{}
	var pool []*Waypoint
	for _, other := range m.patrols {
		if other.SceneID != sceneID || !other.IsRunning() {
			continue
		}
		for _, id := range other.WaypointIDs {
			wp, ok := m.waypoints[id]
			if !ok || wp.Disabled {
				continue
			}
			if exclude != nil && wp.ID == exclude.ID {
				continue
			}
			if _, dup := seen[wp.ID]; dup {
				continue
			}
			seen[wp.ID] = struct{}{}
			pool = append(pool, wp)
		}
	}
	return pool
}

// targetLevel reads the level of a detected token's actor, defaulting to 1.
func (m *Manager) targetLevel(tok host.TokenSnapshot) int {
	if tok.ActorID == "" || m.rt.Actors == nil {
		return 1
	}
	actor, ok := m.rt.Actors.Actor(tok.ActorID)
	if !ok || actor.Level < 1 {
		return 1
	}
	return actor.Level
}

// spawnReinforcementLocked materializes one hostile reinforcement at pos and
// registers it for lifetime expiry. boost scales the stat template, used by
// encounter assistants. journalTS names the undo record the spawn's despawn
// action is appended to; zero skips journaling.
func (m *Manager) spawnReinforcementLocked(sceneID, sourcePatrolID string, pos geom.Vec2, level int, boost float64, journalTS int64, now time.Time) {
	srt := m.runtimeFor(sceneID)
	variant := reinforcementVariants[srt.rng.Intn(len(reinforcementVariants))]
	hp := int(float64(reinforcementScaling.HPAt(level)) * boost)
	ac := int(float64(reinforcementScaling.ACAt(level)) * boost)

	name := fmt.Sprintf("Reinforcement %d", len(srt.reinforcements)+1)
	actorID := ""
	if m.rt.Actors != nil {
		id, err := m.rt.Actors.CreateActor(host.Actor{
			Name:   name,
			System: "generic",
			Level:  level,
			Attributes: map[string]any{
				"hp":    hp,
				"hpMax": hp,
				"ac":    ac,
			},
		})
		if err != nil {
			m.warnf("create reinforcement actor: %v", err)
			return
		}
		actorID = id
	}
	tokenID, err := m.rt.Tokens.CreateToken(host.TokenDocument{
		Name:        name,
		ActorID:     actorID,
		SceneID:     sceneID,
		Position:    pos,
		Disposition: host.DispositionHostile,
		Image:       variant,
	})
	if err != nil {
		m.warnf("place reinforcement token: %v", err)
		if actorID != "" {
			if derr := m.rt.Actors.DeleteActor(actorID); derr != nil {
				m.warnf("drop orphaned reinforcement actor: %v", derr)
			}
		}
		return
	}

	srt.reinforcements = append(srt.reinforcements, ReinforcementInstance{
		TokenID:        tokenID,
		ActorID:        actorID,
		SourcePatrolID: sourcePatrolID,
		SpawnedAt:      now,
		Lifetime:       m.cfg.ReinforcementLifetime,
	})
	if journalTS != 0 {
		m.undoLog.Update(journalTS, func(r *undo.Record) {
			r.Actions = append(r.Actions, undo.Action{
				Kind:    undo.ActionDespawnToken,
				SceneID: sceneID,
				TokenID: tokenID,
				ActorID: actorID,
			})
		})
	}
	m.publish(wire.TypePlayAppearEffect, wire.EffectPayload{
		X:          pos.X,
		Y:          pos.Y,
		EffectType: "reinforcement",
		Color:      m.cfg.GlobalColor,
		TokenID:    tokenID,
	})
}

// expireReinforcementsLocked despawns reinforcements past their lifetime.
// Deletion proceeds immediately; the fade is a best-effort client effect.
func (m *Manager) expireReinforcementsLocked(now time.Time) {
	for _, srt := range m.runtimes {
		kept := srt.reinforcements[:0]
		for _, inst := range srt.reinforcements {
			if now.Sub(inst.SpawnedAt) < inst.Lifetime {
				kept = append(kept, inst)
				continue
			}
			if tok, ok := m.rt.Tokens.Token(srt.SceneID, inst.TokenID); ok {
				m.publish(wire.TypePlayDisappearEffect, wire.EffectPayload{
					X:          tok.Position.X,
					Y:          tok.Position.Y,
					EffectType: "fade",
					Color:      m.cfg.GlobalColor,
					TokenID:    inst.TokenID,
				})
				if _, err := m.rt.Tokens.DeleteToken(srt.SceneID, inst.TokenID); err != nil {
					m.warnf("despawn reinforcement %s: %v", inst.TokenID, err)
				}
			}
			if inst.ActorID != "" && m.rt.Actors != nil {
				if err := m.rt.Actors.DeleteActor(inst.ActorID); err != nil {
					m.warnf("delete reinforcement actor %s: %v", inst.ActorID, err)
				}
			}
		}
		srt.reinforcements = kept
	}
}

// scheduleAssistantsLocked rolls the capture-to-combat escalation: a coin
// flip schedules one or two assistants, each arriving after one or two
// simulated combat rounds at a waypoint adjacent to the patrol's current one.
func (m *Manager) scheduleAssistantsLocked(p *Patrol, tok host.TokenSnapshot, now time.Time) {
	srt := m.runtimeFor(p.SceneID)
	if srt.rng.Float64() >= 0.5 {
		return
	}
	count := 1 + srt.rng.Intn(2)
	level := m.targetLevel(tok)
	waveRec := m.undoLog.Append(undo.Record{
		Timestamp: now.UnixMilli(),
		Type:      "assistants",
		Message:   fmt.Sprintf("%s called %d assistants", p.Name, count),
		Payload:   map[string]any{"patrolId": p.ID, "count": count},
	})
	for i := 0; i < count; i++ {
		rounds := 1 + srt.rng.Intn(2)
		delay := time.Duration(rounds) * 6 * time.Second
		boost := 1.10 + srt.rng.Float64()*0.10
		pos := m.adjacentRoutePositionLocked(p, i+1)
		sceneID, sourceID, journalTS := p.SceneID, p.ID, waveRec.Timestamp
		m.sched.schedule(now.Add(delay), reinforceOwner(sceneID), func(due time.Time) {
			m.spawnAssistantLocked(sceneID, sourceID, pos, level, boost, journalTS, due)
		})
	}
}

// adjacentRoutePositionLocked picks a waypoint offset steps away from the
// patrol's current index, wrapping over the route, falling back to the
// current waypoint's position.
func (m *Manager) adjacentRoutePositionLocked(p *Patrol, offset int) geom.Vec2 {
	n := len(p.WaypointIDs)
	if n == 0 {
		return geom.Vec2{}
	}
	idx := ((p.CurrentIndex+offset)%n + n) % n
	if wp, ok := m.waypoints[p.WaypointIDs[idx]]; ok {
		return wp.Position
	}
	if wp := m.currentWaypoint(p); wp != nil {
		return wp.Position
	}
	return geom.Vec2{}
}

// spawnAssistantLocked spawns a boosted reinforcement and folds it into the
// scene's combat tracker when one is running.
func (m *Manager) spawnAssistantLocked(sceneID, sourcePatrolID string, pos geom.Vec2, level int, boost float64, journalTS int64, now time.Time) {
	before := len(m.runtimeFor(sceneID).reinforcements)
	m.spawnReinforcementLocked(sceneID, sourcePatrolID, pos, level, boost, journalTS, now)
	srt := m.runtimeFor(sceneID)
	if len(srt.reinforcements) == before {
		return
	}
	inst := srt.reinforcements[len(srt.reinforcements)-1]
	if m.rt.Combat == nil {
		return
	}
	combatID, ok := m.rt.Combat.ActiveCombat(sceneID)
	if !ok {
		return
	}
	if err := m.rt.Combat.AddCombatant(combatID, sceneID, inst.TokenID); err != nil {
		m.warnf("add assistant combatant: %v", err)
	}
}
