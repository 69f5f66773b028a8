package engine

import (
	"context"
	"fmt"

	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/jail"
	"nightwatch/engine/internal/undo"
	logpatrol "nightwatch/engine/logging/patrol"
)

// applier binds the compensating action executor over the host services.
func (m *Manager) applier() undo.Applier {
	return undo.ApplierFunc(m.applyUndoAction)
}

// applyUndoAction executes one compensating action and returns the inverse
// that would re-apply the undone mutation. Kinds with no expressible inverse
// return an empty action, which Apply treats as a successful no-op.
func (m *Manager) applyUndoAction(a undo.Action) (undo.Action, error) {
	switch a.Kind {
	case "":
		return undo.Action{}, nil
	case undo.ActionRestoreToken:
		return m.applyRestoreToken(a)
	case undo.ActionUnhideToken:
		return m.applyUnhideToken(a)
	case undo.ActionRestoreGold:
		return m.applyRestoreGold(a)
	case undo.ActionRestoreItem:
		return m.applyRestoreItem(a)
	case undo.ActionRestoreHP:
		return m.applyRestoreHP(a)
	case undo.ActionReleasePrisoner:
		return m.applyReleasePrisoner(a)
	case undo.ActionDespawnToken:
		return m.applyDespawnToken(a)
	default:
		return undo.Action{}, fmt.Errorf("unknown undo action kind %q", a.Kind)
	}
}

// applyRestoreToken moves an existing token back to the recorded document, or
// recreates it when the token is gone.
func (m *Manager) applyRestoreToken(a undo.Action) (undo.Action, error) {
	doc := a.Token
	if current, ok := m.rt.Tokens.Token(doc.SceneID, doc.ID); ok {
		inverse := undo.Action{
			Kind:    undo.ActionRestoreToken,
			SceneID: doc.SceneID,
			TokenID: doc.ID,
			Token: host.TokenDocument{
				ID:          current.ID,
				Name:        current.Name,
				ActorID:     current.ActorID,
				SceneID:     doc.SceneID,
				Position:    current.Position,
				Rotation:    current.Rotation,
				Hidden:      current.Hidden,
				Disposition: current.Disposition,
			},
		}
		if err := m.rt.Tokens.MoveToken(doc.SceneID, doc.ID, doc.Position); err != nil {
			return undo.Action{}, fmt.Errorf("restore token position: %w", err)
		}
		if err := m.rt.Tokens.SetHidden(doc.SceneID, doc.ID, doc.Hidden); err != nil {
			return undo.Action{}, fmt.Errorf("restore token visibility: %w", err)
		}
		return inverse, nil
	}
	if _, err := m.rt.Tokens.CreateToken(doc); err != nil {
		return undo.Action{}, fmt.Errorf("recreate token: %w", err)
	}
	return undo.Action{}, nil
}

func (m *Manager) applyUnhideToken(a undo.Action) (undo.Action, error) {
	current, ok := m.rt.Tokens.Token(a.SceneID, a.TokenID)
	if !ok {
		return undo.Action{}, fmt.Errorf("token %s not found in scene %s", a.TokenID, a.SceneID)
	}
	if err := m.rt.Tokens.SetHidden(a.SceneID, a.TokenID, false); err != nil {
		return undo.Action{}, fmt.Errorf("unhide token: %w", err)
	}
	if !current.Hidden {
		return undo.Action{}, nil
	}
	return undo.Action{
		Kind:    undo.ActionRestoreToken,
		SceneID: a.SceneID,
		TokenID: a.TokenID,
		Token: host.TokenDocument{
			ID:          current.ID,
			Name:        current.Name,
			ActorID:     current.ActorID,
			SceneID:     a.SceneID,
			Position:    current.Position,
			Rotation:    current.Rotation,
			Hidden:      true,
			Disposition: current.Disposition,
		},
	}, nil
}

func (m *Manager) applyRestoreGold(a undo.Action) (undo.Action, error) {
	actor, ok := m.rt.Actors.Actor(a.ActorID)
	if !ok {
		return undo.Action{}, fmt.Errorf("actor %s not found", a.ActorID)
	}
	before, ok := m.adapters.ForActor(actor).SetGold(actor, a.Gold)
	if !ok {
		return undo.Action{}, fmt.Errorf("actor %s has no gold attribute", a.ActorID)
	}
	return undo.Action{Kind: undo.ActionRestoreGold, ActorID: a.ActorID, Gold: before}, nil
}

func (m *Manager) applyRestoreItem(a undo.Action) (undo.Action, error) {
	actor, ok := m.rt.Actors.Actor(a.ActorID)
	if !ok {
		return undo.Action{}, fmt.Errorf("actor %s not found", a.ActorID)
	}
	if !m.adapters.ForActor(actor).RestoreItem(a.ActorID, a.Item) {
		return undo.Action{}, fmt.Errorf("restore item %s to actor %s failed", a.Item.Name, a.ActorID)
	}
	return undo.Action{}, nil
}

func (m *Manager) applyRestoreHP(a undo.Action) (undo.Action, error) {
	actor, ok := m.rt.Actors.Actor(a.ActorID)
	if !ok {
		return undo.Action{}, fmt.Errorf("actor %s not found", a.ActorID)
	}
	ad := m.adapters.ForActor(actor)
	before, hadHP := ad.HP(actor)
	if !ad.RestoreDamage(actor, a.HP) {
		return undo.Action{}, fmt.Errorf("restore hp on actor %s failed", a.ActorID)
	}
	if !hadHP {
		return undo.Action{}, nil
	}
	return undo.Action{Kind: undo.ActionRestoreHP, ActorID: a.ActorID, HP: before}, nil
}

// applyDespawnToken removes a spawned token and its backing actor, the
// compensation for reinforcement and assistant spawns. A token already gone
// (lifetime expiry) degrades to cleaning up the actor.
func (m *Manager) applyDespawnToken(a undo.Action) (undo.Action, error) {
	inverse := undo.Action{}
	if _, ok := m.rt.Tokens.Token(a.SceneID, a.TokenID); ok {
		doc, err := m.rt.Tokens.DeleteToken(a.SceneID, a.TokenID)
		if err != nil {
			return undo.Action{}, fmt.Errorf("despawn token: %w", err)
		}
		inverse = undo.Action{Kind: undo.ActionRestoreToken, SceneID: a.SceneID, TokenID: a.TokenID, Token: doc}
	}
	if a.ActorID != "" && m.rt.Actors != nil {
		if err := m.rt.Actors.DeleteActor(a.ActorID); err != nil {
			m.warnf("delete spawned actor %s: %v", a.ActorID, err)
		}
	}
	m.dropReinforcementInstance(a.SceneID, a.TokenID)
	return inverse, nil
}

// dropReinforcementInstance unregisters a despawned token from lifetime
// tracking so expiry does not chase a token the undo already removed.
func (m *Manager) dropReinforcementInstance(sceneID, tokenID string) {
	srt, ok := m.runtimes[sceneID]
	if !ok {
		return
	}
	kept := srt.reinforcements[:0]
	for _, inst := range srt.reinforcements {
		if inst.TokenID != tokenID {
			kept = append(kept, inst)
		}
	}
	srt.reinforcements = kept
}

func (m *Manager) applyReleasePrisoner(a undo.Action) (undo.Action, error) {
	if _, err := m.jails.ReleasePrisoner(a.ActorID, jail.ReleaseOptions{
		ReturnToOrigin: true,
		ClearRecord:    true,
	}); err != nil {
		return undo.Action{}, fmt.Errorf("release prisoner: %w", err)
	}
	return undo.Action{}, nil
}

// Undo executes the journaled record with the given id. On success the
// record is removed from the journal.
func (m *Manager) Undo(timestamp int64) undo.RevertResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.undoLog.Get(timestamp)
	if !ok {
		return undo.RevertResult{Errors: []error{fmt.Errorf("no undo record %d", timestamp)}}
	}
	result := undo.Revert(rec, m.applier())
	errs := make([]string, 0, len(result.Errors))
	for _, err := range result.Errors {
		errs = append(errs, err.Error())
	}
	logpatrol.UndoReverted(context.Background(), m.events, m.tick, logpatrol.UndoPayload{
		RecordID: fmt.Sprintf("%d", timestamp),
		Success:  result.Success,
		Errors:   errs,
	})
	if result.Success {
		m.undoLog.Remove(timestamp)
		m.persistAllLocked()
	}
	return result
}
