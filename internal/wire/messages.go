// Package wire defines the broadcast protocol the engine uses to keep every
// connected client in sync. Messages travel as {type, userId, payload}
// envelopes; payloads are typed per message kind.
package wire

import (
	"encoding/json"
	"fmt"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Message type identifiers.
const (
	TypePatrolStart  = "patrolStart"
	TypePatrolStop   = "patrolStop"
	TypePatrolPause  = "patrolPause"
	TypePatrolResume = "patrolResume"
	TypePatrolUpdate = "patrolUpdate"

	TypeTokenAppear    = "tokenAppear"
	TypeTokenDisappear = "tokenDisappear"

	TypePlayAppearEffect    = "playAppearEffect"
	TypePlayDisappearEffect = "playDisappearEffect"

	TypeAlertTriggered        = "alertTriggered"
	TypeAlertPopup            = "alertPopup"
	TypeOpenInteractionWindow = "openInteractionWindow"
	TypeInteractionResponse   = "interactionResponse"

	TypeBleedOutSave   = "bleedOutSave"
	TypeBleedOutResult = "bleedOutResult"

	TypePullToScene = "pullToScene"

	TypeRequestSync = "requestSync"
	TypeSyncAll     = "syncAll"
	TypeSyncPatrol  = "syncPatrol"
)

// Message is the broadcast envelope. UserID identifies the sender so
// receivers can drop their own echo.
type Message struct {
	Ver     int             `json:"ver,omitempty"`
	Type    string          `json:"type"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope around a typed payload.
func New(msgType, userID string, payload any) (Message, error) {
	msg := Message{Ver: Version, Type: msgType, UserID: userID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Encode renders the envelope for the transport.
func (m Message) Encode() ([]byte, error) {
	if m.Ver == 0 {
		m.Ver = Version
	}
	return json.Marshal(m)
}

// Decode parses a raw frame into an envelope.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return Message{}, fmt.Errorf("unsupported wire version %d", msg.Ver)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("message missing type")
	}
	return msg, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (m Message) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, out)
}

// PatrolControlPayload drives patrolStart, patrolStop, patrolPause and
// patrolResume: peer-to-peer state echoes keyed by patrol id.
type PatrolControlPayload struct {
	PatrolID string `json:"patrolId"`
}

// PatrolUpdatePayload mirrors one patrol's runtime state. Receivers apply it
// idempotently; delivery is at-most-once and unordered.
type PatrolUpdatePayload struct {
	PatrolID             string `json:"patrolId"`
	State                string `json:"state"`
	CurrentWaypointIndex int    `json:"currentWaypointIndex"`
	AlertLevel           int    `json:"alertLevel"`
	Phase                string `json:"phase"`
}

// TokenVisibilityPayload drives tokenAppear and tokenDisappear.
type TokenVisibilityPayload struct {
	TokenID string  `json:"tokenId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// EffectPayload drives playAppearEffect and playDisappearEffect; purely
// cosmetic, receivers render and forget.
type EffectPayload struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	EffectType string  `json:"effectType"`
	Color      string  `json:"color"`
	TokenID    string  `json:"tokenId"`
}

// AlertTriggeredPayload announces a detection that escalated into an alert.
type AlertTriggeredPayload struct {
	PatrolID   string `json:"patrolId"`
	PatrolName string `json:"patrolName"`
	TokenID    string `json:"tokenId"`
	TokenName  string `json:"tokenName"`
	AlertLevel int    `json:"alertLevel"`
}

// AlertPopupData is the alert dialog body.
type AlertPopupData struct {
	TokenName          string `json:"tokenName"`
	ReinforcementCount int    `json:"reinforcementCount"`
}

// AlertPopupPayload asks one client to show the alert dialog.
type AlertPopupPayload struct {
	UserID string         `json:"userId"`
	Data   AlertPopupData `json:"data"`
}

// OpenInteractionWindowPayload asks the target's owner to respond to a guard
// interaction.
type OpenInteractionWindowPayload struct {
	TargetUserID string `json:"targetUserId"`
	PatrolID     string `json:"patrolId"`
	PatrolName   string `json:"patrolName"`
	TokenID      string `json:"tokenId"`
	TokenName    string `json:"tokenName"`
	AlertLevel   int    `json:"alertLevel"`
}

// InteractionDecision is the player's answer to an interaction window.
type InteractionDecision string

const (
	DecisionEvade     InteractionDecision = "evade"
	DecisionNegotiate InteractionDecision = "negotiate"
	DecisionSurrender InteractionDecision = "surrender"
)

// InteractionResponsePayload answers an interaction window.
type InteractionResponsePayload struct {
	PatrolName string              `json:"patrolName"`
	TokenName  string              `json:"tokenName"`
	Decision   InteractionDecision `json:"decision"`
}

// BleedOutSaveData carries everything a client needs to roll the save.
type BleedOutSaveData struct {
	TokenID         string `json:"tokenId"`
	TokenName       string `json:"tokenName"`
	DC              int    `json:"dc"`
	ConMod          int    `json:"conMod"`
	HasDisadvantage bool   `json:"hasDisadvantage"`
	IsPC            bool   `json:"isPC"`
}

// BleedOutSavePayload asks the owning user to roll a death save.
type BleedOutSavePayload struct {
	UserID string           `json:"userId"`
	Data   BleedOutSaveData `json:"data"`
}

// BleedOutResultData reports a resolved save.
type BleedOutResultData struct {
	TokenName string `json:"tokenName"`
	RollTotal int    `json:"rollTotal"`
	DC        int    `json:"dc"`
	Success   bool   `json:"success"`
}

// BleedOutResultPayload reports a resolved save to everyone.
type BleedOutResultPayload struct {
	Data BleedOutResultData `json:"data"`
}

// PullToScenePayload asks one client to switch to a scene.
type PullToScenePayload struct {
	UserID  string `json:"userId"`
	SceneID string `json:"sceneId"`
}

// RequestSyncPayload asks the primary for state. An empty PatrolID requests
// the full snapshot.
type RequestSyncPayload struct {
	SceneID  string `json:"sceneId,omitempty"`
	PatrolID string `json:"patrolId,omitempty"`
}

// SyncAllPayload is the primary's full-state answer.
type SyncAllPayload struct {
	SceneID string                `json:"sceneId"`
	Patrols []PatrolUpdatePayload `json:"patrols"`
}

// SyncPatrolPayload is the primary's single-patrol answer.
type SyncPatrolPayload struct {
	SceneID string              `json:"sceneId"`
	Patrol  PatrolUpdatePayload `json:"patrol"`
}
