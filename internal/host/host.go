// Package host declares the capability ports the engine requires from its
// embedding runtime. The engine core never reaches for globals; every
// collaborator is injected once through Runtime at construction time.
package host

import (
	"time"

	"nightwatch/engine/internal/geom"
)

// Disposition mirrors the host token disposition tri-state.
type Disposition int

const (
	DispositionHostile Disposition = iota - 1
	DispositionNeutral
	DispositionFriendly
)

// TokenSnapshot is a read-only view of a scene token.
type TokenSnapshot struct {
	ID             string
	Name           string
	ActorID        string
	Position       geom.Vec2
	Rotation       float64
	Hidden         bool
	Disposition    Disposition
	OwnerUserIDs   []string
	HasPlayerOwner bool
}

// Center returns the token's center point. Positions are already tracked at
// the token center, so this is the identity today; callers should still go
// through it so a future anchor change stays local.
func (t TokenSnapshot) Center() geom.Vec2 {
	return t.Position
}

// TokenDocument carries everything needed to recreate a token, used when
// tokens are moved across scenes or restored by the undo executor.
type TokenDocument struct {
	ID          string
	Name        string
	ActorID     string
	SceneID     string
	Position    geom.Vec2
	Rotation    float64
	Hidden      bool
	Disposition Disposition
	Image       string
	Scale       float64
}

// SceneInfo is a read-only view of a scene's geometry.
type SceneInfo struct {
	ID       string
	Name     string
	Width    float64
	Height   float64
	Padding  float64
	GridSize float64
}

// SceneDocument carries the data needed to materialize a new scene, used by
// the jail subsystem's lazy instantiation.
type SceneDocument struct {
	Name     string
	MapPath  string
	Width    float64
	Height   float64
	GridSize float64
	Flags    map[string]any
}

// SceneService exposes scene lookup, geometry queries and flags.
type SceneService interface {
	Scene(id string) (SceneInfo, bool)
	ActiveSceneID() string
	// CollidesSight reports whether a sight-blocking wall crosses the segment.
	CollidesSight(sceneID string, seg geom.Segment) bool
	// CollidesMove reports whether a move-blocking wall crosses the segment.
	CollidesMove(sceneID string, seg geom.Segment) bool
	Flag(sceneID, key string) (any, bool)
	SetFlag(sceneID, key string, value any) error
	CreateScene(doc SceneDocument) (string, error)
}

// TokenService exposes token document CRUD on a scene.
type TokenService interface {
	Token(sceneID, tokenID string) (TokenSnapshot, bool)
	TokensInScene(sceneID string) []TokenSnapshot
	MoveToken(sceneID, tokenID string, pos geom.Vec2) error
	SetHidden(sceneID, tokenID string, hidden bool) error
	SetRotation(sceneID, tokenID string, degrees float64) error
	CreateToken(doc TokenDocument) (string, error)
	// DeleteToken removes the token and returns its document so callers can
	// journal an inverse action.
	DeleteToken(sceneID, tokenID string) (TokenDocument, error)
}

// Item is a system-shaped inventory entry. Only the adapter layer interprets
// Type, Rarity and Flags.
type Item struct {
	ID            string
	Name          string
	Type          string
	Quantity      int
	Equipped      bool
	Rarity        string
	DamageFormula string
	AttackBonus   int
	Flags         map[string]any
}

// Actor is a read-only view of a host actor. Attributes keeps the raw
// system-shaped stat tree; only adapters walk it.
type Actor struct {
	ID         string
	Name       string
	System     string
	Level      int
	Attributes map[string]any
	Items      []Item
}

// ActorService exposes actor reads and the narrow mutations the engine needs.
type ActorService interface {
	Actor(id string) (Actor, bool)
	CreateActor(a Actor) (string, error)
	DeleteActor(id string) error
	UpdateAttributes(id string, patch map[string]any) error
	UpdateItemQuantity(actorID, itemID string, qty int) error
	DeleteItem(actorID, itemID string) (Item, error)
	CreateItem(actorID string, item Item) error
}

// Combatant is one entry in a combat tracker.
type Combatant struct {
	TokenID     string
	ActorID     string
	Initiative  float64
	Disposition Disposition
}

// CombatService wraps the host combat tracker.
type CombatService interface {
	EnsureCombat(sceneID string) (string, error)
	ActiveCombat(sceneID string) (string, bool)
	AddCombatant(combatID, sceneID, tokenID string) error
	Combatants(combatID string) []Combatant
	RollInitiative(combatID string) error
	DeleteCombat(combatID string) error
}

// MacroService runs a named host macro with a context payload.
type MacroService interface {
	Run(name string, ctx map[string]any) error
}

// NotifyService surfaces localized notifications. An empty userID addresses
// every connected user.
type NotifyService interface {
	Info(userID, message string)
	Warn(userID, message string)
}

// HookBus emits the engine's domain events into the host event bus.
type HookBus interface {
	Emit(event string, payload any)
}

// Peer identifies one connected session.
type Peer struct {
	UserID string
	IsGM   bool
}

// PeerService lists connected sessions and identifies the local one.
type PeerService interface {
	Peers() []Peer
	Self() Peer
}

// SettingsScope selects the persistence scope of a stored value.
type SettingsScope string

const (
	ScopeWorld  SettingsScope = "world"
	ScopeClient SettingsScope = "client"
)

// SettingsStore persists typed key/value state. Values are JSON round-tripped
// into out, which must be a pointer.
type SettingsStore interface {
	Get(scope SettingsScope, key string, out any) (bool, error)
	Set(scope SettingsScope, key string, value any) error
	Delete(scope SettingsScope, key string) error
}

// Clock abstracts time so tests drive a virtual clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// IDService mints stable unique identifiers.
type IDService interface {
	NewID() string
}

// IDFunc adapts a function into an IDService.
type IDFunc func() string

// NewID implements IDService.
func (f IDFunc) NewID() string { return f() }

// Runtime bundles every capability the engine consumes. All fields must be
// populated; the engine treats nil services as precondition violations and
// no-ops the affected operation.
type Runtime struct {
	Scenes   SceneService
	Tokens   TokenService
	Actors   ActorService
	Combat   CombatService
	Macros   MacroService
	Notify   NotifyService
	Hooks    HookBus
	Peers    PeerService
	Settings SettingsStore
	Clock    Clock
	IDs      IDService
}
