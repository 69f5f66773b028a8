package patrol

import (
	"context"

	"nightwatch/engine/logging"
)

const (
	// EventPhaseChange is emitted whenever a patrol transitions between phases.
	EventPhaseChange logging.EventType = "patrol.phase_change"
	// EventDetection is emitted when a patrol detects a token at a waypoint.
	EventDetection logging.EventType = "patrol.detection"
	// EventAlert is emitted when a patrol's alert level rises.
	EventAlert logging.EventType = "patrol.alert"
	// EventCaptureResolved is emitted when the capture pipeline picks and executes an outcome.
	EventCaptureResolved logging.EventType = "capture.resolved"
	// EventUndoReverted is emitted after an undo record executes, fully or partially.
	EventUndoReverted logging.EventType = "undo.reverted"
	// EventDecision is emitted for every AI decision with the provider label.
	EventDecision logging.EventType = "decision.made"
	// EventReinforcement is emitted when a reinforcement wave is scheduled or despawned.
	EventReinforcement logging.EventType = "patrol.reinforcement"
	// EventBleedOut is emitted on bleed-out save resolution.
	EventBleedOut logging.EventType = "combat.bleed_out"
)

// PhaseChangePayload captures a single phase transition.
type PhaseChangePayload struct {
	From       string `json:"from"`
	To         string `json:"to"`
	WaypointID string `json:"waypointId,omitempty"`
	Index      int    `json:"index"`
}

// PhaseChange publishes a phase transition event for a patrol.
func PhaseChange(ctx context.Context, pub logging.Publisher, tick uint64, patrolID string, payload PhaseChangePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPhaseChange,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPatrol,
		Actor:    logging.EntityRef{ID: patrolID, Kind: logging.EntityKindPatrol},
		Payload:  payload,
	})
}

// DetectionPayload captures a detection hit.
type DetectionPayload struct {
	WaypointID string `json:"waypointId"`
	TokenName  string `json:"tokenName"`
	Action     string `json:"action"`
	AlertLevel int    `json:"alertLevel"`
}

// Detection publishes a detection event.
func Detection(ctx context.Context, pub logging.Publisher, tick uint64, patrolID, tokenID string, payload DetectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDetection,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPatrol,
		Actor:    logging.EntityRef{ID: patrolID, Kind: logging.EntityKindPatrol},
		Targets:  []logging.EntityRef{{ID: tokenID, Kind: logging.EntityKindToken}},
		Payload:  payload,
	})
}

// CapturePayload captures a resolved capture outcome.
type CapturePayload struct {
	Outcome  string `json:"outcome"`
	UndoID   string `json:"undoId,omitempty"`
	Approved bool   `json:"approved"`
}

// CaptureResolved publishes a capture pipeline result.
func CaptureResolved(ctx context.Context, pub logging.Publisher, tick uint64, patrolID, tokenID string, payload CapturePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCaptureResolved,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCapture,
		Actor:    logging.EntityRef{ID: patrolID, Kind: logging.EntityKindPatrol},
		Targets:  []logging.EntityRef{{ID: tokenID, Kind: logging.EntityKindToken}},
		Payload:  payload,
	})
}

// DecisionPayload captures one AI decision with its provider label.
type DecisionPayload struct {
	Decision string `json:"decision"`
	Provider string `json:"provider"`
	Detail   any    `json:"detail,omitempty"`
}

// Decision publishes a decision event.
func Decision(ctx context.Context, pub logging.Publisher, tick uint64, patrolID string, payload DecisionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDecision,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySystem,
		Actor:    logging.EntityRef{ID: patrolID, Kind: logging.EntityKindPatrol},
		Payload:  payload,
	})
}

// UndoPayload captures an undo execution result.
type UndoPayload struct {
	RecordID string   `json:"recordId"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
}

// UndoReverted publishes an undo execution result.
func UndoReverted(ctx context.Context, pub logging.Publisher, tick uint64, payload UndoPayload) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if !payload.Success {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUndoReverted,
		Tick:     tick,
		Severity: severity,
		Category: logging.CategorySystem,
		Payload:  payload,
	})
}
