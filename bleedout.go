package engine

import (
	"context"
	"fmt"

	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/jail"
	"nightwatch/engine/internal/undo"
	"nightwatch/engine/internal/wire"
	"nightwatch/engine/logging"
	logpatrol "nightwatch/engine/logging/patrol"
)

// bleedOutMaxDC caps the escalating save difficulty.
const bleedOutMaxDC = 30

// OnCombatTurnAdvance runs the bleed-out gate over the scene's active combat.
// Combatants at or below the HP threshold roll a save; a success buys a turn
// at the price of disadvantage on the next one, a failure ends the fight for
// that token.
func (m *Manager) OnCombatTurnAdvance(sceneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isPrimary() || m.rt.Combat == nil {
		return
	}
	combatID, ok := m.rt.Combat.ActiveCombat(sceneID)
	if !ok {
		return
	}
	for _, c := range m.rt.Combat.Combatants(combatID) {
		m.checkBleedOutLocked(sceneID, c.TokenID)
	}
}

// checkBleedOutLocked evaluates one token against the threshold and resolves
// its save when due.
func (m *Manager) checkBleedOutLocked(sceneID, tokenID string) {
	tok, ok := m.rt.Tokens.Token(sceneID, tokenID)
	if !ok {
		return
	}
	actor, ok := m.actorOf(tok)
	if !ok {
		return
	}
	ad := m.adapters.ForActor(actor)
	hp, ok := ad.HP(actor)
	if !ok {
		return
	}
	maxHP, ok := ad.MaxHP(actor)
	if !ok || maxHP <= 0 {
		return
	}
	if hp*100 > m.cfg.BleedOutThresholdPct*maxHP {
		return
	}

	dc := m.cfg.BleedOutBaseDC + (maxHP-hp)/2
	if dc > bleedOutMaxDC {
		dc = bleedOutMaxDC
	}
	conMod := ad.ConMod(actor)
	srt := m.runtimeFor(sceneID)
	state := srt.bleedState(tokenID)

	for _, userID := range tok.OwnerUserIDs {
		m.publish(wire.TypeBleedOutSave, wire.BleedOutSavePayload{
			UserID: userID,
			Data: wire.BleedOutSaveData{
				TokenID:         tok.ID,
				TokenName:       tok.Name,
				DC:              dc,
				ConMod:          conMod,
				HasDisadvantage: state.HasDisadvantage,
				IsPC:            tok.HasPlayerOwner,
			},
		})
	}

	total := m.rollSaveLocked(srt, conMod, state.HasDisadvantage)
	success := total >= dc
	if success {
		state.SavesMade++
		state.HasDisadvantage = true
	} else {
		state.SavesFailed++
	}

	m.publish(wire.TypeBleedOutResult, wire.BleedOutResultPayload{
		Data: wire.BleedOutResultData{
			TokenName: tok.Name,
			RollTotal: total,
			DC:        dc,
			Success:   success,
		},
	})
	if m.events != nil {
		m.events.Publish(context.Background(), logging.Event{
			Type:     logpatrol.EventBleedOut,
			Tick:     m.tick,
			Severity: logging.SeverityInfo,
			Category: logging.CategoryCombat,
			Targets:  []logging.EntityRef{{ID: tok.ID, Kind: logging.EntityKindToken}},
			Payload: map[string]any{
				"total":   total,
				"dc":      dc,
				"success": success,
			},
		})
	}
	if !success {
		m.resolveBleedOutFailureLocked(sceneID, tok)
		delete(srt.bleeding, tokenID)
	}
}

// rollSaveLocked rolls 1d20+mod, or the lower of two d20s under
// disadvantage.
func (m *Manager) rollSaveLocked(srt *SceneRuntime, conMod int, disadvantage bool) int {
	roll := 1 + srt.rng.Intn(20)
	if disadvantage {
		second := 1 + srt.rng.Intn(20)
		if second < roll {
			roll = second
		}
	}
	return roll + conMod
}

// resolveBleedOutFailureLocked ends the token's participation: player
// characters wake up in a jail cell, everything else is dragged off the map.
func (m *Manager) resolveBleedOutFailureLocked(sceneID string, tok host.TokenSnapshot) {
	now := m.clockNow()
	if tok.HasPlayerOwner {
		rec, originDoc, err := m.jails.SendToJail(sceneID, tok.ID, jail.SendOptions{
			TargetLevel: m.targetLevel(tok),
		})
		if err != nil {
			m.warnf("bleed-out jail %s: %v", tok.ID, err)
			return
		}
		for _, userID := range tok.OwnerUserIDs {
			m.publish(wire.TypePullToScene, wire.PullToScenePayload{
				UserID:  userID,
				SceneID: rec.JailSceneID,
			})
		}
		actions := []undo.Action{{Kind: undo.ActionReleasePrisoner, ActorID: rec.ActorID}}
		if rec.ActorID == "" {
			actions = []undo.Action{{Kind: undo.ActionRestoreToken, SceneID: originDoc.SceneID, TokenID: originDoc.ID, Token: originDoc}}
		}
		m.undoLog.Append(undo.Record{
			Timestamp: now.UnixMilli(),
			Type:      "bleedOutJail",
			Message:   fmt.Sprintf("%s bled out and was jailed", tok.Name),
			Payload:   map[string]any{"tokenId": tok.ID},
			Actions:   actions,
		})
		m.notifyOwners(tok, fmt.Sprintf("%s collapses and is dragged to a cell.", tok.Name))
		return
	}

	if err := m.rt.Tokens.SetHidden(sceneID, tok.ID, true); err != nil {
		m.warnf("bleed-out hide %s: %v", tok.ID, err)
	}
	doc, err := m.rt.Tokens.DeleteToken(sceneID, tok.ID)
	if err != nil {
		m.warnf("bleed-out remove %s: %v", tok.ID, err)
		return
	}
	m.undoLog.Append(undo.Record{
		Timestamp: now.UnixMilli(),
		Type:      "bleedOutDefeat",
		Message:   fmt.Sprintf("%s bled out", tok.Name),
		Payload:   map[string]any{"tokenId": tok.ID},
		Actions:   []undo.Action{{Kind: undo.ActionRestoreToken, SceneID: doc.SceneID, TokenID: doc.ID, Token: doc}},
	})
}
