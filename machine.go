package engine

import (
	"context"
	"fmt"
	"time"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/wire"
	logpatrol "nightwatch/engine/logging/patrol"
)

// advancePatrolLocked progresses one patrol's phase machine to now. Missing
// entities abort the phase with a warning and no partial mutation; host
// errors stop the patrol.
func (m *Manager) advancePatrolLocked(p *Patrol, now time.Time) {
	switch p.effectiveMode() {
	case ModeWalk:
		m.advanceWalkLocked(p, now)
	default:
		m.advanceBlinkLocked(p, now)
	}
}

func (m *Manager) advanceBlinkLocked(p *Patrol, now time.Time) {
	switch p.Phase {
	case PhaseNone:
		m.appearLocked(p, now)
	case PhaseVisible:
		m.sampleDetectionLocked(p, now)
		if !p.IsRunning() {
			return
		}
		if !now.Before(p.phaseUntil) {
			m.disappearLocked(p, now)
		}
	case PhaseInvisible:
		if !now.Before(p.phaseUntil) {
			m.appearLocked(p, now)
		}
	}
}

func (m *Manager) advanceWalkLocked(p *Patrol, now time.Time) {
	switch p.Phase {
	case PhaseNone:
		m.startWalkLocked(p, now)
	case PhaseMoving:
		m.progressWalkLocked(p, now)
	case PhaseDwell:
		m.sampleDetectionLocked(p, now)
		if !p.IsRunning() {
			return
		}
		if !now.Before(p.phaseUntil) {
			m.leaveDwellLocked(p, now)
		}
	}
}

// currentWaypoint resolves the patrol's current route entry.
func (m *Manager) currentWaypoint(p *Patrol) *Waypoint {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.WaypointIDs) {
		return nil
	}
	return m.waypoints[p.WaypointIDs[p.CurrentIndex]]
}

// routeWaypoints resolves the full route; deleted waypoints appear as nil.
func (m *Manager) routeWaypoints(p *Patrol) []*Waypoint {
	out := make([]*Waypoint, len(p.WaypointIDs))
	for i, id := range p.WaypointIDs {
		out[i] = m.waypoints[id]
	}
	return out
}

// appearLocked runs the blink appear step: occupy, reposition to the nearest
// valid cell, unhide, face, broadcast, then open the visible dwell.
func (m *Manager) appearLocked(p *Patrol, now time.Time) {
	w := m.currentWaypoint(p)
	if w == nil || w.Disabled {
		m.selectNextLocked(p)
		w = m.currentWaypoint(p)
		if w == nil || w.Disabled {
			m.warnf("patrol %s has no selectable waypoint", p.ID)
			return
		}
	}
	if _, ok := m.rt.Tokens.Token(p.SceneID, p.TokenID); !ok {
		m.warnf("patrol %s token %s missing", p.ID, p.TokenID)
		return
	}
	scene, ok := m.rt.Scenes.Scene(p.SceneID)
	if !ok {
		m.warnf("patrol %s scene %s missing", p.ID, p.SceneID)
		return
	}
	if !w.Occupy(p.TokenID) {
		m.warnf("patrol %s cannot occupy waypoint %s", p.ID, w.ID)
		return
	}

	pos := m.validAppearPosition(p.SceneID, scene, w.Position)
	if err := m.rt.Tokens.MoveToken(p.SceneID, p.TokenID, pos); err != nil {
		w.Vacate()
		m.failPatrolLocked(p, fmt.Errorf("move token: %w", err))
		return
	}
	if err := m.rt.Tokens.SetRotation(p.SceneID, p.TokenID, w.Facing); err != nil {
		m.warnf("patrol %s set facing: %v", p.ID, err)
	}
	if err := m.rt.Tokens.SetHidden(p.SceneID, p.TokenID, false); err != nil {
		w.Vacate()
		m.failPatrolLocked(p, fmt.Errorf("unhide token: %w", err))
		return
	}

	m.publish(wire.TypeTokenAppear, wire.TokenVisibilityPayload{TokenID: p.TokenID, X: pos.X, Y: pos.Y})
	m.publish(wire.TypePlayAppearEffect, wire.EffectPayload{
		X:          pos.X,
		Y:          pos.Y,
		EffectType: m.effectStyleFor(p, w),
		Color:      w.EffectiveColor(p.Color, m.cfg.GlobalColor),
		TokenID:    p.TokenID,
	})
	m.emitHook(HookWaypointState, map[string]any{"waypointId": w.ID, "state": w.State})

	p.lastWaypointID = w.ID
	m.setPhaseLocked(p, PhaseVisible, w)
	p.phaseUntil = now.Add(m.effectiveDuration(p, p.AppearDuration))
	p.nextSample = now
}

// disappearLocked hides the token, vacates the waypoint and opens the
// invisible gap, pre-selecting the next waypoint.
func (m *Manager) disappearLocked(p *Patrol, now time.Time) {
	w := m.currentWaypoint(p)
	if w != nil {
		if err := m.rt.Tokens.SetHidden(p.SceneID, p.TokenID, true); err != nil {
			m.failPatrolLocked(p, fmt.Errorf("hide token: %w", err))
			return
		}
		m.publish(wire.TypeTokenDisappear, wire.TokenVisibilityPayload{TokenID: p.TokenID, X: w.Position.X, Y: w.Position.Y})
		m.publish(wire.TypePlayDisappearEffect, wire.EffectPayload{
			X:          w.Position.X,
			Y:          w.Position.Y,
			EffectType: m.effectStyleFor(p, w),
			Color:      w.EffectiveColor(p.Color, m.cfg.GlobalColor),
			TokenID:    p.TokenID,
		})
		w.Vacate()
		m.emitHook(HookWaypointState, map[string]any{"waypointId": w.ID, "state": w.State})
	}
	m.selectNextLocked(p)
	m.setPhaseLocked(p, PhaseInvisible, nil)
	p.phaseUntil = now.Add(m.effectiveDuration(p, p.DisappearDuration))
}

// startWalkLocked shows the token and begins the translation toward the
// current waypoint.
func (m *Manager) startWalkLocked(p *Patrol, now time.Time) {
	w := m.currentWaypoint(p)
	if w == nil || w.Disabled {
		m.selectNextLocked(p)
		w = m.currentWaypoint(p)
		if w == nil || w.Disabled {
			m.warnf("patrol %s has no selectable waypoint", p.ID)
			return
		}
	}
	token, ok := m.rt.Tokens.Token(p.SceneID, p.TokenID)
	if !ok {
		m.warnf("patrol %s token %s missing", p.ID, p.TokenID)
		return
	}
	if err := m.rt.Tokens.SetHidden(p.SceneID, p.TokenID, false); err != nil {
		m.failPatrolLocked(p, fmt.Errorf("unhide token: %w", err))
		return
	}
	p.walkFrom = token.Position
	p.walkTarget = w.Position
	p.walkStart = now
	dist := geom.Distance(p.walkFrom, p.walkTarget)
	speed := m.cfg.WalkSpeed
	if speed <= 0 {
		speed = 1
	}
	p.walkDuration = time.Duration(dist / speed * float64(time.Second))
	m.setPhaseLocked(p, PhaseMoving, w)
}

// progressWalkLocked interpolates the token toward the target and opens the
// dwell on arrival.
func (m *Manager) progressWalkLocked(p *Patrol, now time.Time) {
	w := m.currentWaypoint(p)
	if w == nil {
		m.warnf("patrol %s waypoint vanished mid-walk", p.ID)
		p.Phase = PhaseNone
		return
	}
	elapsed := now.Sub(p.walkStart)
	if p.walkDuration > 0 && elapsed < p.walkDuration {
		f := float64(elapsed) / float64(p.walkDuration)
		pos := geom.Vec2{
			X: p.walkFrom.X + (p.walkTarget.X-p.walkFrom.X)*f,
			Y: p.walkFrom.Y + (p.walkTarget.Y-p.walkFrom.Y)*f,
		}
		if err := m.rt.Tokens.MoveToken(p.SceneID, p.TokenID, pos); err != nil {
			m.failPatrolLocked(p, fmt.Errorf("move token: %w", err))
		}
		return
	}
	if err := m.rt.Tokens.MoveToken(p.SceneID, p.TokenID, p.walkTarget); err != nil {
		m.failPatrolLocked(p, fmt.Errorf("move token: %w", err))
		return
	}
	if !w.Occupy(p.TokenID) {
		m.warnf("patrol %s cannot occupy waypoint %s", p.ID, w.ID)
	} else {
		m.emitHook(HookWaypointState, map[string]any{"waypointId": w.ID, "state": w.State})
		p.lastWaypointID = w.ID
	}
	m.setPhaseLocked(p, PhaseDwell, w)
	p.phaseUntil = now.Add(m.effectiveDuration(p, p.AppearDuration))
	p.nextSample = now
}

// leaveDwellLocked vacates and starts the next leg.
func (m *Manager) leaveDwellLocked(p *Patrol, now time.Time) {
	if w := m.currentWaypoint(p); w != nil {
		w.Vacate()
		m.emitHook(HookWaypointState, map[string]any{"waypointId": w.ID, "state": w.State})
	}
	m.selectNextLocked(p)
	m.startWalkLocked(p, now)
}

// selectNextLocked advances CurrentIndex per the patrol's pattern.
func (m *Manager) selectNextLocked(p *Patrol) {
	route := m.routeWaypoints(p)
	next, dir := nextIndex(p.Pattern, route, p.CurrentIndex, p.PingPongDir, m.runtimeFor(p.SceneID).rng)
	if next < 0 {
		m.warnf("patrol %s selection yielded no waypoint", p.ID)
		return
	}
	p.CurrentIndex = next
	p.PingPongDir = dir
}

// setPhaseLocked records a phase transition, logs it and mirrors it to
// peers.
func (m *Manager) setPhaseLocked(p *Patrol, phase Phase, w *Waypoint) {
	from := p.Phase
	p.Phase = phase
	waypointID := ""
	if w != nil {
		waypointID = w.ID
	}
	logpatrol.PhaseChange(context.Background(), m.events, m.tick, p.ID, logpatrol.PhaseChangePayload{
		From:       string(from),
		To:         string(phase),
		WaypointID: waypointID,
		Index:      p.CurrentIndex,
	})
	m.publishPatrolUpdate(p)
}

// failPatrolLocked implements the thrown-error rule: stop the patrol, never
// propagate.
func (m *Manager) failPatrolLocked(p *Patrol, err error) {
	m.warnf("patrol %s stopped: %v", p.ID, err)
	m.stopLocked(p, true)
}

// effectiveDuration applies the symmetric variance jitter with the 0.1s
// floor.
func (m *Manager) effectiveDuration(p *Patrol, baseSec float64) time.Duration {
	d := baseSec
	if p.VariancePct > 0 {
		rng := m.runtimeFor(p.SceneID).rng
		d = baseSec * (1 + (rng.Float64()*2-1)*p.VariancePct/100)
	}
	if d < 0.1 {
		d = 0.1
	}
	return time.Duration(d * float64(time.Second))
}

func (m *Manager) effectStyleFor(p *Patrol, w *Waypoint) string {
	if w != nil && w.EffectStyle != "" {
		return w.EffectStyle
	}
	return p.EffectStyle
}

// appearOffsets is the fixed valid-position search order: 0, ±1, ±2 grid
// cells on each axis.
var appearOffsets = []float64{0, -1, 1, -2, 2}

// validAppearPosition returns the first candidate cell around target whose
// short probe rays hit no move-blocking wall, falling back to the raw target
// when every candidate fails.
func (m *Manager) validAppearPosition(sceneID string, scene host.SceneInfo, target geom.Vec2) geom.Vec2 {
	grid := scene.GridSize
	if grid <= 0 {
		return target
	}
	for _, dy := range appearOffsets {
		for _, dx := range appearOffsets {
			candidate := geom.SnapToGrid(geom.Vec2{X: target.X + dx*grid, Y: target.Y + dy*grid}, grid)
			if !m.probeBlocked(sceneID, candidate, grid) {
				return candidate
			}
		}
	}
	return target
}

// probeBlocked tests two short rays across the cell center against
// move-blocking walls.
func (m *Manager) probeBlocked(sceneID string, center geom.Vec2, grid float64) bool {
	r := grid / 4
	horizontal := geom.Segment{A: geom.Vec2{X: center.X - r, Y: center.Y}, B: geom.Vec2{X: center.X + r, Y: center.Y}}
	vertical := geom.Segment{A: geom.Vec2{X: center.X, Y: center.Y - r}, B: geom.Vec2{X: center.X, Y: center.Y + r}}
	return m.rt.Scenes.CollidesMove(sceneID, horizontal) || m.rt.Scenes.CollidesMove(sceneID, vertical)
}

// sampleDetectionLocked runs the ~500ms cadence detection pass during
// visible/dwell phases, firing onDetection exactly once per continuous
// presence.
func (m *Manager) sampleDetectionLocked(p *Patrol, now time.Time) {
	if !p.DetectionEnabled || now.Before(p.nextSample) {
		return
	}
	p.nextSample = now.Add(m.cfg.DetectionInterval)

	w := m.currentWaypoint(p)
	if w == nil {
		return
	}
	guard, ok := m.rt.Tokens.Token(p.SceneID, p.TokenID)
	if !ok {
		return
	}
	detected := Detect(m.rt.Scenes, m.rt.Tokens, w, p.TokenID, guard.Disposition, p.Filter)

	if p.seen == nil {
		p.seen = make(map[string]struct{})
	}
	present := make(map[string]struct{}, len(detected))
	for _, tok := range detected {
		present[tok.ID] = struct{}{}
		if _, already := p.seen[tok.ID]; already {
			continue
		}
		p.seen[tok.ID] = struct{}{}
		m.onDetectionLocked(p, w, tok, now)
		if !p.IsRunning() {
			return
		}
	}
	for id := range p.seen {
		if _, still := present[id]; !still {
			delete(p.seen, id)
		}
	}
}

// onDetectionLocked escalates one detection hit.
func (m *Manager) onDetectionLocked(p *Patrol, w *Waypoint, tok host.TokenSnapshot, now time.Time) {
	p.AlertLevel++

	switch p.DetectionAction {
	case ActionAlert:
		p.State = PatrolAlert
		m.requestReinforcementsLocked(p, w, tok, now)
	case ActionCombat:
		m.ensureDetectionCombatLocked(p, tok)
	case ActionMacro:
		if p.Macro != "" && m.rt.Macros != nil {
			if err := m.rt.Macros.Run(p.Macro, map[string]any{
				"patrolId":      p.ID,
				"guardTokenId":  p.TokenID,
				"detectedToken": tok.ID,
				"waypointId":    w.ID,
			}); err != nil {
				m.warnf("patrol %s macro %s: %v", p.ID, p.Macro, err)
			}
		}
	default:
		if m.rt.Notify != nil {
			m.rt.Notify.Info("", fmt.Sprintf("%s spotted %s.", p.Name, tok.Name))
		}
	}

	m.publish(wire.TypeAlertTriggered, wire.AlertTriggeredPayload{
		PatrolID:   p.ID,
		PatrolName: p.Name,
		TokenID:    tok.ID,
		TokenName:  tok.Name,
		AlertLevel: p.AlertLevel,
	})
	for _, userID := range m.nonGMOwners(tok) {
		m.publish(wire.TypeOpenInteractionWindow, wire.OpenInteractionWindowPayload{
			TargetUserID: userID,
			PatrolID:     p.ID,
			PatrolName:   p.Name,
			TokenID:      tok.ID,
			TokenName:    tok.Name,
			AlertLevel:   p.AlertLevel,
		})
	}
	m.emitHook(HookDetection, map[string]any{
		"patrolId": p.ID,
		"tokenId":  tok.ID,
		"waypoint": w.ID,
	})
	logpatrol.Detection(context.Background(), m.events, m.tick, p.ID, tok.ID, logpatrol.DetectionPayload{
		WaypointID: w.ID,
		TokenName:  tok.Name,
		Action:     string(p.DetectionAction),
		AlertLevel: p.AlertLevel,
	})
	m.publishPatrolUpdate(p)
}

// ensureDetectionCombatLocked puts guard and target into a combat tracker.
func (m *Manager) ensureDetectionCombatLocked(p *Patrol, tok host.TokenSnapshot) {
	if m.rt.Combat == nil {
		return
	}
	combatID, err := m.rt.Combat.EnsureCombat(p.SceneID)
	if err != nil {
		m.warnf("patrol %s ensure combat: %v", p.ID, err)
		return
	}
	if err := m.rt.Combat.AddCombatant(combatID, p.SceneID, p.TokenID); err != nil {
		m.warnf("patrol %s add guard combatant: %v", p.ID, err)
	}
	if err := m.rt.Combat.AddCombatant(combatID, p.SceneID, tok.ID); err != nil {
		m.warnf("patrol %s add target combatant: %v", p.ID, err)
	}
}

// nonGMOwners lists the owning users of a token that are not GMs.
func (m *Manager) nonGMOwners(tok host.TokenSnapshot) []string {
	if m.rt.Peers == nil {
		return tok.OwnerUserIDs
	}
	gms := map[string]bool{}
	for _, peer := range m.rt.Peers.Peers() {
		if peer.IsGM {
			gms[peer.UserID] = true
		}
	}
	owners := make([]string, 0, len(tok.OwnerUserIDs))
	for _, id := range tok.OwnerUserIDs {
		if !gms[id] {
			owners = append(owners, id)
		}
	}
	return owners
}
