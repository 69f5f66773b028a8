package engine

import (
	"nightwatch/engine/internal/wire"
)

// publish mirrors a transition to peers. Broadcast failures never block the
// local transition.
func (m *Manager) publish(msgType string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(msgType, payload); err != nil {
		m.warnf("broadcast %s: %v", msgType, err)
	}
}

func (m *Manager) publishPatrolUpdate(p *Patrol) {
	m.publish(wire.TypePatrolUpdate, wire.PatrolUpdatePayload{
		PatrolID:             p.ID,
		State:                string(p.State),
		CurrentWaypointIndex: p.CurrentIndex,
		AlertLevel:           p.AlertLevel,
		Phase:                string(p.Phase),
	})
}

// bindBus wires the inbound message handlers. Delivery is at-most-once and
// unordered, so every handler is idempotent.
func (m *Manager) bindBus() {
	m.bus.Subscribe(wire.TypePatrolStart, m.onRemoteControl(PatrolActive))
	m.bus.Subscribe(wire.TypePatrolStop, m.onRemoteControl(PatrolIdle))
	m.bus.Subscribe(wire.TypePatrolPause, m.onRemoteControl(PatrolPaused))
	m.bus.Subscribe(wire.TypePatrolResume, m.onRemoteControl(PatrolActive))
	m.bus.Subscribe(wire.TypePatrolUpdate, m.onPatrolUpdate)
	m.bus.Subscribe(wire.TypeRequestSync, m.onRequestSync)
	m.bus.Subscribe(wire.TypeSyncAll, m.onSyncAll)
	m.bus.Subscribe(wire.TypeSyncPatrol, m.onSyncPatrol)
	m.bus.Subscribe(wire.TypeInteractionResponse, m.onInteractionResponse)
}

// onRemoteControl mirrors a peer's start/stop/pause/resume echo into the
// local registry without rebroadcasting.
func (m *Manager) onRemoteControl(state PatrolState) wire.Handler {
	return func(msg wire.Message) {
		var payload wire.PatrolControlPayload
		if err := msg.DecodePayload(&payload); err != nil {
			m.warnf("bad %s payload: %v", msg.Type, err)
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		p, ok := m.patrols[payload.PatrolID]
		if !ok {
			return
		}
		if p.State == state {
			return
		}
		p.State = state
		if state == PatrolIdle || state == PatrolPaused {
			m.sched.cancelOwner(p.ID)
			p.resetVolatile()
		}
	}
}

// onPatrolUpdate applies a remote patrol snapshot. Applying the same update
// twice yields the same state as applying it once.
func (m *Manager) onPatrolUpdate(msg wire.Message) {
	var payload wire.PatrolUpdatePayload
	if err := msg.DecodePayload(&payload); err != nil {
		m.warnf("bad patrolUpdate payload: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyPatrolUpdateLocked(payload)
}

func (m *Manager) applyPatrolUpdateLocked(payload wire.PatrolUpdatePayload) {
	p, ok := m.patrols[payload.PatrolID]
	if !ok {
		return
	}
	p.State = PatrolState(payload.State)
	p.AlertLevel = payload.AlertLevel
	p.Phase = Phase(payload.Phase)
	p.CurrentIndex = payload.CurrentWaypointIndex
	p.clampIndex()
}

// onRequestSync answers resync requests; only the primary responds.
func (m *Manager) onRequestSync(msg wire.Message) {
	if !m.isPrimary() {
		return
	}
	var payload wire.RequestSyncPayload
	if err := msg.DecodePayload(&payload); err != nil {
		m.warnf("bad requestSync payload: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if payload.PatrolID != "" {
		if p, ok := m.patrols[payload.PatrolID]; ok {
			m.publish(wire.TypeSyncPatrol, wire.SyncPatrolPayload{
				SceneID: p.SceneID,
				Patrol:  patrolUpdateOf(p),
			})
		}
		return
	}
	all := make([]wire.PatrolUpdatePayload, 0, len(m.patrols))
	for _, p := range m.patrols {
		all = append(all, patrolUpdateOf(p))
	}
	m.publish(wire.TypeSyncAll, wire.SyncAllPayload{SceneID: m.sceneID, Patrols: all})
}

func patrolUpdateOf(p *Patrol) wire.PatrolUpdatePayload {
	return wire.PatrolUpdatePayload{
		PatrolID:             p.ID,
		State:                string(p.State),
		CurrentWaypointIndex: p.CurrentIndex,
		AlertLevel:           p.AlertLevel,
		Phase:                string(p.Phase),
	}
}

func (m *Manager) onSyncAll(msg wire.Message) {
	var payload wire.SyncAllPayload
	if err := msg.DecodePayload(&payload); err != nil {
		m.warnf("bad syncAll payload: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, upd := range payload.Patrols {
		m.applyPatrolUpdateLocked(upd)
	}
}

func (m *Manager) onSyncPatrol(msg wire.Message) {
	var payload wire.SyncPatrolPayload
	if err := msg.DecodePayload(&payload); err != nil {
		m.warnf("bad syncPatrol payload: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyPatrolUpdateLocked(payload.Patrol)
}

// RequestSync asks the primary for a full resync, used after reconnects.
func (m *Manager) RequestSync() {
	m.publish(wire.TypeRequestSync, wire.RequestSyncPayload{SceneID: m.sceneID})
}

// onInteractionResponse resolves a player's answer to an interaction
// window. Only the primary executes captures.
func (m *Manager) onInteractionResponse(msg wire.Message) {
	if !m.isPrimary() {
		return
	}
	var payload wire.InteractionResponsePayload
	if err := msg.DecodePayload(&payload); err != nil {
		m.warnf("bad interactionResponse payload: %v", err)
		return
	}
	m.mu.Lock()
	patrolID, tokenID, ok := m.resolveInteractionLocked(payload.PatrolName, payload.TokenName)
	m.mu.Unlock()
	if !ok {
		m.warnf("interactionResponse for unknown pair %q/%q", payload.PatrolName, payload.TokenName)
		return
	}
	m.emitHook("interactionResponse", map[string]any{
		"patrolId": patrolID,
		"tokenId":  tokenID,
		"decision": string(payload.Decision),
	})
	switch payload.Decision {
	case wire.DecisionSurrender:
		m.ResolveCapture(patrolID, tokenID, CaptureOptions{SkipBribery: true})
	case wire.DecisionNegotiate:
		m.ResolveCapture(patrolID, tokenID, CaptureOptions{})
	case wire.DecisionEvade:
		// The guard keeps hunting; nothing to execute.
	}
}

// resolveInteractionLocked maps the wire protocol's name-keyed response back
// to ids.
func (m *Manager) resolveInteractionLocked(patrolName, tokenName string) (string, string, bool) {
	for _, p := range m.patrols {
		if p.Name != patrolName {
			continue
		}
		for _, tok := range m.rt.Tokens.TokensInScene(p.SceneID) {
			if tok.Name == tokenName {
				return p.ID, tok.ID, true
			}
		}
	}
	return "", "", false
}
