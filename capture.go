package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"nightwatch/engine/internal/decide"
	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/jail"
	"nightwatch/engine/internal/undo"
	"nightwatch/engine/internal/wire"
	logpatrol "nightwatch/engine/logging/patrol"
)

// ErrPendingApproval reports that a capture was queued for GM approval
// instead of executing.
var ErrPendingApproval = errors.New("capture pending approval")

// CaptureOptions tunes one capture resolution.
type CaptureOptions struct {
	// SkipBribery bypasses the negotiation pre-step, used when the target
	// surrendered outright.
	SkipBribery bool
	// ForcedOutcome is the GM override; it bypasses bribery, the weighted
	// draw and the approval queue.
	ForcedOutcome Outcome
	// BribeOffer overrides the computed bribe amount when positive.
	BribeOffer int
	// TransferToGuard moves stolen gold and items into the capturing
	// guard's inventory.
	TransferToGuard bool
	// SkipApproval executes immediately even when approval is configured.
	SkipApproval bool
}

// ResolveCapture runs the capture pipeline for a detected token: optional
// bribery negotiation, the weighted outcome draw, then the outcome executor.
// Every executed outcome appends one undo record.
func (m *Manager) ResolveCapture(patrolID, tokenID string, opts CaptureOptions) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patrols[patrolID]
	if !ok {
		return "", fmt.Errorf("unknown patrol %s", patrolID)
	}
	tok, ok := m.rt.Tokens.Token(p.SceneID, tokenID)
	if !ok {
		return "", fmt.Errorf("token %s not found in scene %s", tokenID, p.SceneID)
	}
	now := m.clockNow()

	if opts.ForcedOutcome != "" {
		return m.executeOutcomeLocked(p, tok, opts.ForcedOutcome, opts, now)
	}

	if m.cfg.BriberyEnabled && !opts.SkipBribery {
		if outcome, handled := m.resolveBriberyLocked(p, tok, opts, now); handled {
			return outcome, nil
		}
	}

	outcome := m.drawOutcomeLocked(p)

	if m.approvalRequired(p) && !opts.SkipApproval {
		rec := m.pending.Push(undo.Record{
			Timestamp: now.UnixMilli(),
			Type:      "capture",
			Message:   fmt.Sprintf("%s captured %s (%s)", p.Name, tok.Name, outcome),
			Payload: map[string]any{
				"patrolId": p.ID,
				"tokenId":  tok.ID,
				"outcome":  string(outcome),
			},
		})
		if m.rt.Notify != nil {
			m.rt.Notify.Info("", fmt.Sprintf("Capture of %s awaits approval (#%d).", tok.Name, rec.Timestamp))
		}
		return outcome, ErrPendingApproval
	}

	return m.executeOutcomeLocked(p, tok, outcome, opts, now)
}

// ApproveCapture executes a queued capture by its pending id.
func (m *Manager) ApproveCapture(timestamp int64) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending.Take(timestamp)
	if !ok {
		return "", fmt.Errorf("no pending capture %d", timestamp)
	}
	patrolID, _ := rec.Payload["patrolId"].(string)
	tokenID, _ := rec.Payload["tokenId"].(string)
	outcomeStr, _ := rec.Payload["outcome"].(string)
	p, ok := m.patrols[patrolID]
	if !ok {
		return "", fmt.Errorf("patrol %s no longer exists", patrolID)
	}
	tok, ok := m.rt.Tokens.Token(p.SceneID, tokenID)
	if !ok {
		return "", fmt.Errorf("token %s no longer exists", tokenID)
	}
	return m.executeOutcomeLocked(p, tok, Outcome(outcomeStr), CaptureOptions{}, m.clockNow())
}

// RejectCapture drops a queued capture.
func (m *Manager) RejectCapture(timestamp int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Reject(timestamp)
}

func (m *Manager) approvalRequired(p *Patrol) bool {
	if p.ApprovalRequired != nil {
		return *p.ApprovalRequired
	}
	return m.cfg.ApprovalRequired
}

// drawOutcomeLocked picks the capture branch: the decision provider when the
// patrol automates decisions, otherwise the weighted draw.
func (m *Manager) drawOutcomeLocked(p *Patrol) Outcome {
	if p.AutomateDecisions && m.decider != nil {
		weights := make(map[string]int, len(m.cfg.OutcomeWeights))
		for k, v := range m.cfg.OutcomeWeights {
			weights[string(k)] = v
		}
		pick, err := m.decider.DecideCaptureOutcome(context.Background(), decide.OutcomeInput{
			Weights:        weights,
			Aggressiveness: p.Aggressiveness,
		})
		if err == nil && pick != "" {
			logpatrol.Decision(context.Background(), m.events, m.tick, p.ID, logpatrol.DecisionPayload{
				Decision: pick,
				Provider: m.decider.Label(),
			})
			return Outcome(pick)
		}
		if err != nil {
			m.warnf("outcome decision: %v", err)
		}
	}
	return drawWeighted(m.runtimeFor(p.SceneID).rng.Float64(), m.cfg.OutcomeWeights)
}

// drawWeighted rolls r01 scaled over the weight sum and returns the first
// category whose running sum exceeds the roll. Keys are walked sorted so a
// fixed seed replays the same draw.
func drawWeighted[K ~string](r01 float64, weights map[K]int) K {
	keys := make([]K, 0, len(weights))
	total := 0
	for k, w := range weights {
		if w > 0 {
			keys = append(keys, k)
			total += w
		}
	}
	var zero K
	if total == 0 {
		return zero
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	r := r01 * float64(total)
	cum := 0.0
	for _, k := range keys {
		cum += float64(weights[k])
		if r < cum {
			return k
		}
	}
	return keys[len(keys)-1]
}

// resolveBriberyLocked runs the negotiation pre-step. handled is false when
// the bribe is rejected and the pipeline should continue to the draw.
func (m *Manager) resolveBriberyLocked(p *Patrol, tok host.TokenSnapshot, opts CaptureOptions, now time.Time) (Outcome, bool) {
	actor, ok := m.actorOf(tok)
	if !ok {
		return "", false
	}
	ad := m.adapters.ForActor(actor)
	gold, ok := ad.Gold(actor)
	if !ok {
		return "", false
	}
	bribe := opts.BribeOffer
	if bribe <= 0 {
		bribe = int(float64(m.cfg.BriberyBaseCost) * p.BribeMultiplier)
	}
	accepted, err := m.decider.DecideBribery(context.Background(), decide.BriberyInput{
		Bribe:          bribe,
		Gold:           gold,
		BaseCost:       m.cfg.BriberyBaseCost,
		Scale:          p.BribeMultiplier,
		Aggressiveness: p.Aggressiveness,
		Chance:         m.cfg.BriberyChance,
	})
	if err != nil {
		m.warnf("bribery decision: %v", err)
		return "", false
	}
	logpatrol.Decision(context.Background(), m.events, m.tick, p.ID, logpatrol.DecisionPayload{
		Decision: fmt.Sprintf("bribery:%t", accepted),
		Provider: m.decider.Label(),
		Detail:   map[string]any{"bribe": bribe, "gold": gold},
	})
	if !accepted {
		return "", false
	}

	// An accepted bribe still has tails: a generous guard waves the coin
	// away, a treacherous one pockets it and jails the briber anyway.
	roll := m.runtimeFor(p.SceneID).rng.Float64()
	switch {
	case roll < 0.1:
		m.finishCaptureLocked(p, tok, OutcomeBribeGenerous, nil, now)
		m.notifyOwners(tok, fmt.Sprintf("%s lets %s go without taking the coin.", p.Name, tok.Name))
		return OutcomeBribeGenerous, true
	case roll < 0.2:
		var actions []undo.Action
		if before, ok := ad.RemoveGold(actor, bribe); ok {
			actions = append(actions, undo.Action{Kind: undo.ActionRestoreGold, ActorID: actor.ID, Gold: before})
		}
		jailActions := m.executeJailLocked(p, tok)
		actions = append(actions, jailActions...)
		m.finishCaptureLocked(p, tok, OutcomeBribeBetrayal, actions, now)
		return OutcomeBribeBetrayal, true
	default:
		var actions []undo.Action
		if before, ok := ad.RemoveGold(actor, bribe); ok {
			actions = append(actions, undo.Action{Kind: undo.ActionRestoreGold, ActorID: actor.ID, Gold: before})
		}
		if opts.TransferToGuard {
			m.transferGoldToGuard(p, bribe)
		}
		m.finishCaptureLocked(p, tok, OutcomeBribeSuccess, actions, now)
		m.notifyOwners(tok, fmt.Sprintf("%s accepts %d gold and looks the other way.", p.Name, bribe))
		return OutcomeBribeSuccess, true
	}
}

// executeOutcomeLocked dispatches to the branch executor and journals the
// result.
func (m *Manager) executeOutcomeLocked(p *Patrol, tok host.TokenSnapshot, outcome Outcome, opts CaptureOptions, now time.Time) (Outcome, error) {
	var actions []undo.Action
	switch outcome {
	case OutcomeTheft:
		actions = m.executeTheftLocked(p, tok, opts)
	case OutcomeBlindfold:
		actions = m.executeBlindfoldLocked(p, tok, now)
	case OutcomeJail:
		actions = m.executeJailLocked(p, tok)
	case OutcomeDisregard:
		m.executeDisregardLocked(p, tok)
	case OutcomeCombat:
		m.executeCombatLocked(p, tok, now)
	default:
		return "", fmt.Errorf("unknown capture outcome %q", outcome)
	}
	m.finishCaptureLocked(p, tok, outcome, actions, now)
	return outcome, nil
}

// finishCaptureLocked appends the undo record, fires the hook and logs the
// resolution.
func (m *Manager) finishCaptureLocked(p *Patrol, tok host.TokenSnapshot, outcome Outcome, actions []undo.Action, now time.Time) {
	rec := m.undoLog.Append(undo.Record{
		Timestamp: now.UnixMilli(),
		Type:      string(outcome),
		Message:   fmt.Sprintf("%s: %s on %s", p.Name, outcome, tok.Name),
		Payload: map[string]any{
			"patrolId": p.ID,
			"tokenId":  tok.ID,
		},
		Actions: actions,
	})
	m.emitHook(HookCaptureResolved, map[string]any{
		"patrolId": p.ID,
		"tokenId":  tok.ID,
		"outcome":  string(outcome),
		"undoId":   rec.Timestamp,
	})
	logpatrol.CaptureResolved(context.Background(), m.events, m.tick, p.ID, tok.ID, logpatrol.CapturePayload{
		Outcome:  string(outcome),
		UndoID:   fmt.Sprintf("%d", rec.Timestamp),
		Approved: true,
	})
	m.publishPatrolUpdate(p)
}

func (m *Manager) actorOf(tok host.TokenSnapshot) (host.Actor, bool) {
	if tok.ActorID == "" || m.rt.Actors == nil {
		return host.Actor{}, false
	}
	return m.rt.Actors.Actor(tok.ActorID)
}

func (m *Manager) guardActor(p *Patrol) (host.Actor, bool) {
	tok, ok := m.rt.Tokens.Token(p.SceneID, p.TokenID)
	if !ok {
		return host.Actor{}, false
	}
	return m.actorOf(tok)
}

func (m *Manager) transferGoldToGuard(p *Patrol, amount int) {
	guard, ok := m.guardActor(p)
	if !ok {
		return
	}
	if _, ok := m.adapters.ForActor(guard).AddGold(guard, amount); !ok {
		m.warnf("transfer %d gold to guard %s failed", amount, guard.ID)
	}
}

func (m *Manager) notifyOwners(tok host.TokenSnapshot, message string) {
	if m.rt.Notify == nil {
		return
	}
	if len(tok.OwnerUserIDs) == 0 {
		m.rt.Notify.Info("", message)
		return
	}
	for _, userID := range tok.OwnerUserIDs {
		m.rt.Notify.Info(userID, message)
	}
}

// equipmentTypes are the theft equipment categories.
var equipmentTypes = map[string]bool{
	"weapon":     true,
	"armor":      true,
	"tool":       true,
	"consumable": true,
}

// isQuestItem applies the quest-item heuristic: flagged quest or critical,
// artifact rarity, or a telltale name.
func isQuestItem(item host.Item) bool {
	for _, key := range []string{"quest", "critical"} {
		if v, ok := item.Flags[key]; ok {
			if b, isBool := v.(bool); !isBool || b {
				return true
			}
		}
	}
	if strings.EqualFold(item.Rarity, "artifact") {
		return true
	}
	name := strings.ToLower(item.Name)
	return strings.Contains(name, "quest") || strings.Contains(name, "key") || strings.Contains(name, "mcguffin")
}

// executeTheftLocked runs the theft branch: a weighted category draw over
// currency, equipment and misc, with a currency fallback when the drawn
// category has nothing to take.
func (m *Manager) executeTheftLocked(p *Patrol, tok host.TokenSnapshot, opts CaptureOptions) []undo.Action {
	actor, ok := m.actorOf(tok)
	if !ok {
		m.notifyOwners(tok, "The guard pats you down and finds nothing of value.")
		return nil
	}
	srt := m.runtimeFor(p.SceneID)
	target := drawWeighted(srt.rng.Float64(), m.cfg.TheftWeights)

	var actions []undo.Action
	switch target {
	case TheftEquipment:
		actions = m.stealItemLocked(p, actor, tok, true, opts)
	case TheftMisc:
		actions = m.stealItemLocked(p, actor, tok, false, opts)
	}
	if len(actions) == 0 {
		actions = m.stealCurrencyLocked(p, actor, tok, opts)
	}
	return actions
}

func (m *Manager) stealCurrencyLocked(p *Patrol, actor host.Actor, tok host.TokenSnapshot, opts CaptureOptions) []undo.Action {
	ad := m.adapters.ForActor(actor)
	gold, ok := ad.Gold(actor)
	if !ok || gold <= 0 {
		return nil
	}
	amount := gold * m.cfg.TheftPercent / 100
	if amount <= 0 {
		// A near-empty purse floors to zero; the guard takes nothing.
		return nil
	}
	before, ok := ad.RemoveGold(actor, amount)
	if !ok {
		return nil
	}
	if opts.TransferToGuard {
		m.transferGoldToGuard(p, amount)
	}
	m.notifyOwners(tok, fmt.Sprintf("The guard relieves %s of %d gold.", tok.Name, amount))
	return []undo.Action{{Kind: undo.ActionRestoreGold, ActorID: actor.ID, Gold: before}}
}

// stealItemLocked draws uniformly from the matching item pool. equipment
// selects the gear categories; otherwise everything outside them qualifies.
func (m *Manager) stealItemLocked(p *Patrol, actor host.Actor, tok host.TokenSnapshot, equipment bool, opts CaptureOptions) []undo.Action {
	var pool []host.Item
	for _, item := range actor.Items {
		if item.Quantity <= 0 || item.Equipped || isQuestItem(item) {
			continue
		}
		if equipmentTypes[strings.ToLower(item.Type)] == equipment {
			pool = append(pool, item)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	srt := m.runtimeFor(p.SceneID)
	item := pool[srt.rng.Intn(len(pool))]

	stolen := item
	stolen.Quantity = 1
	if item.Quantity > 1 {
		if err := m.rt.Actors.UpdateItemQuantity(actor.ID, item.ID, item.Quantity-1); err != nil {
			m.warnf("decrement stolen item %s: %v", item.ID, err)
			return nil
		}
	} else {
		if _, err := m.rt.Actors.DeleteItem(actor.ID, item.ID); err != nil {
			m.warnf("remove stolen item %s: %v", item.ID, err)
			return nil
		}
	}
	if opts.TransferToGuard {
		if guard, ok := m.guardActor(p); ok {
			if !m.adapters.ForActor(guard).RestoreItem(guard.ID, stolen) {
				m.warnf("transfer stolen item %s to guard failed", stolen.Name)
			}
		}
	}
	m.notifyOwners(tok, fmt.Sprintf("The guard confiscates %s from %s.", stolen.Name, tok.Name))
	return []undo.Action{{Kind: undo.ActionRestoreItem, ActorID: actor.ID, Item: stolen}}
}

// blindfoldOwner tags the relocation timers so teardown cancels them.
func blindfoldOwner(tokenID string) string { return "blindfold:" + tokenID }

// executeBlindfoldLocked runs the blackout-and-relocate branch. The overlay
// itself is a client effect; the engine drives its timing and the teleport.
func (m *Manager) executeBlindfoldLocked(p *Patrol, tok host.TokenSnapshot, now time.Time) []undo.Action {
	srt := m.runtimeFor(p.SceneID)
	seconds := m.cfg.BlindfoldMinSec + srt.rng.Float64()*(m.cfg.BlindfoldMaxSec-m.cfg.BlindfoldMinSec)
	total := time.Duration(seconds * float64(time.Second))

	m.emitHook("blindfoldApplied", map[string]any{
		"tokenId":    tok.ID,
		"owners":     tok.OwnerUserIDs,
		"durationMs": total.Milliseconds(),
	})
	m.notifyOwners(tok, "A sack drops over your head. The world goes dark.")

	sceneID, tokenID := p.SceneID, tok.ID
	m.sched.schedule(now.Add(total*3/10), blindfoldOwner(tok.ID), func(time.Time) {
		scene, ok := m.rt.Scenes.Scene(sceneID)
		if !ok {
			return
		}
		dest := m.randomValidCellLocked(sceneID, scene)
		if err := m.rt.Tokens.SetHidden(sceneID, tokenID, true); err != nil {
			m.warnf("blindfold hide %s: %v", tokenID, err)
			return
		}
		if err := m.rt.Tokens.MoveToken(sceneID, tokenID, dest); err != nil {
			m.warnf("blindfold relocate %s: %v", tokenID, err)
		}
		if err := m.rt.Tokens.SetHidden(sceneID, tokenID, false); err != nil {
			m.warnf("blindfold unhide %s: %v", tokenID, err)
		}
	})
	m.sched.schedule(now.Add(total), blindfoldOwner(tok.ID), func(time.Time) {
		m.emitHook("blindfoldCleared", map[string]any{"tokenId": tokenID})
	})

	return []undo.Action{{
		Kind:    undo.ActionRestoreToken,
		SceneID: p.SceneID,
		TokenID: tok.ID,
		Token: host.TokenDocument{
			ID:          tok.ID,
			Name:        tok.Name,
			ActorID:     tok.ActorID,
			SceneID:     p.SceneID,
			Position:    tok.Position,
			Rotation:    tok.Rotation,
			Disposition: tok.Disposition,
		},
	}}
}

// randomValidCellLocked draws a grid-snapped point inside the scene padding
// whose probe rays hit no wall, retrying up to 100 times before falling back
// to the scene center.
func (m *Manager) randomValidCellLocked(sceneID string, scene host.SceneInfo) geom.Vec2 {
	srt := m.runtimeFor(sceneID)
	grid := scene.GridSize
	if grid <= 0 {
		grid = 1
	}
	minX, maxX := scene.Padding, scene.Width-scene.Padding
	minY, maxY := scene.Padding, scene.Height-scene.Padding
	for i := 0; i < 100; i++ {
		candidate := geom.SnapToGrid(geom.Vec2{
			X: minX + srt.rng.Float64()*(maxX-minX),
			Y: minY + srt.rng.Float64()*(maxY-minY),
		}, grid)
		if candidate.X < minX || candidate.X > maxX || candidate.Y < minY || candidate.Y > maxY {
			continue
		}
		if !m.probeBlocked(sceneID, candidate, grid) {
			return candidate
		}
	}
	return geom.Vec2{X: scene.Width / 2, Y: scene.Height / 2}
}

// executeJailLocked hands the token to the jail subsystem and pulls the
// owning users to the jail scene.
func (m *Manager) executeJailLocked(p *Patrol, tok host.TokenSnapshot) []undo.Action {
	rec, originDoc, err := m.jails.SendToJail(p.SceneID, tok.ID, jail.SendOptions{
		CapturedBy:  p.ID,
		TargetLevel: m.targetLevel(tok),
	})
	if err != nil {
		m.warnf("send %s to jail: %v", tok.ID, err)
		return nil
	}
	for _, userID := range tok.OwnerUserIDs {
		m.publish(wire.TypePullToScene, wire.PullToScenePayload{
			UserID:  userID,
			SceneID: rec.JailSceneID,
		})
	}
	m.emitHook(HookPrisonerAdded, map[string]any{
		"actorId":     rec.ActorID,
		"jailSceneId": rec.JailSceneID,
		"patrolId":    p.ID,
	})
	m.notifyOwners(tok, fmt.Sprintf("%s has been thrown in a cell. Navigate your session to the jail scene.", tok.Name))

	actions := []undo.Action{{Kind: undo.ActionReleasePrisoner, ActorID: rec.ActorID}}
	if rec.ActorID == "" {
		// Tokens without an actor cannot be keyed in the prisoner registry,
		// so the inverse falls back to restoring the origin document.
		actions = []undo.Action{{Kind: undo.ActionRestoreToken, SceneID: originDoc.SceneID, TokenID: originDoc.ID, Token: originDoc}}
	}
	return actions
}

// executeDisregardLocked is the shrug: a notification and an alert reset.
func (m *Manager) executeDisregardLocked(p *Patrol, tok host.TokenSnapshot) {
	m.notifyOwners(tok, fmt.Sprintf("%s gives %s a hard look, then moves on.", p.Name, tok.Name))
	p.AlertLevel = 0
	if p.State == PatrolAlert {
		p.State = PatrolActive
	}
}

// executeCombatLocked opens a tracker with guard and target, rolls
// initiative, raises nearby patrols and rolls for assistants.
func (m *Manager) executeCombatLocked(p *Patrol, tok host.TokenSnapshot, now time.Time) {
	if m.rt.Combat == nil {
		m.warnf("patrol %s combat outcome without a combat service", p.ID)
		return
	}
	combatID, err := m.rt.Combat.EnsureCombat(p.SceneID)
	if err != nil {
		m.warnf("patrol %s ensure combat: %v", p.ID, err)
		return
	}
	if err := m.rt.Combat.AddCombatant(combatID, p.SceneID, p.TokenID); err != nil {
		m.warnf("add guard combatant: %v", err)
	}
	if err := m.rt.Combat.AddCombatant(combatID, p.SceneID, tok.ID); err != nil {
		m.warnf("add target combatant: %v", err)
	}
	if err := m.rt.Combat.RollInitiative(combatID); err != nil {
		m.warnf("roll initiative: %v", err)
	}
	m.notifyOwners(tok, fmt.Sprintf("%s draws steel on %s!", p.Name, tok.Name))

	guardTok, ok := m.rt.Tokens.Token(p.SceneID, p.TokenID)
	if ok {
		m.raiseNearbyPatrolsLocked(p, guardTok.Position)
	}
	m.scheduleAssistantsLocked(p, tok, now)

	if p.AutomateCombat {
		// The opening round plays out first so scheduled assistants can join.
		sceneID, patrolID := p.SceneID, p.ID
		m.sched.schedule(now.Add(autoResolveDelay), patrolID, func(due time.Time) {
			if id, ok := m.rt.Combat.ActiveCombat(sceneID); ok && id == combatID {
				m.autoResolveCombatLocked(sceneID, id, patrolID, due)
			}
		})
	}
}

// raiseNearbyPatrolsLocked bumps the alert level of every other active patrol
// whose guard token stands within the alert radius of the combat initiator.
func (m *Manager) raiseNearbyPatrolsLocked(initiator *Patrol, origin geom.Vec2) {
	for _, other := range m.patrols {
		if other.ID == initiator.ID || other.SceneID != initiator.SceneID || !other.IsRunning() {
			continue
		}
		otherTok, ok := m.rt.Tokens.Token(other.SceneID, other.TokenID)
		if !ok {
			continue
		}
		if geom.Distance(origin, otherTok.Position) <= m.cfg.AlertRadius {
			other.AlertLevel++
			m.publishPatrolUpdate(other)
		}
	}
}
