// Package memhost provides an in-memory implementation of the host capability
// ports. It backs the demo binary and the engine test harness; a real VTT
// embedding replaces it wholesale.
package memhost

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
)

// Runtime is an in-memory host. The zero value is not usable; construct with New.
type Runtime struct {
	mu      sync.Mutex
	scenes  map[string]*sceneState
	actors  map[string]host.Actor
	combats map[string]*combatState

	activeScene string
	peers       []host.Peer
	self        host.Peer

	settings map[string]map[string][]byte

	clock host.Clock

	// MacroCalls records executed macros for assertions.
	MacroCalls []MacroCall
	// Notices records emitted notifications for assertions.
	Notices []Notice
	// Events records emitted domain hooks for assertions.
	Events []HookEvent
}

type sceneState struct {
	info   host.SceneInfo
	walls  []geom.Wall
	tokens map[string]host.TokenSnapshot
	flags  map[string]any
}

type combatState struct {
	id         string
	sceneID    string
	combatants []host.Combatant
}

// MacroCall captures one MacroService.Run invocation.
type MacroCall struct {
	Name string
	Ctx  map[string]any
}

// Notice captures one notification.
type Notice struct {
	UserID  string
	Level   string
	Message string
}

// HookEvent captures one domain event emission.
type HookEvent struct {
	Event   string
	Payload any
}

// New constructs an empty in-memory runtime using the supplied clock.
func New(clock host.Clock) *Runtime {
	if clock == nil {
		clock = host.ClockFunc(time.Now)
	}
	return &Runtime{
		scenes:   make(map[string]*sceneState),
		actors:   make(map[string]host.Actor),
		combats:  make(map[string]*combatState),
		settings: make(map[string]map[string][]byte),
		clock:    clock,
		self:     host.Peer{UserID: "gm-local", IsGM: true},
		peers:    []host.Peer{{UserID: "gm-local", IsGM: true}},
	}
}

// Bundle assembles a host.Runtime backed by this in-memory state.
func (r *Runtime) Bundle() host.Runtime {
	return host.Runtime{
		Scenes:   (*sceneService)(r),
		Tokens:   (*tokenService)(r),
		Actors:   (*actorService)(r),
		Combat:   (*combatService)(r),
		Macros:   (*macroService)(r),
		Notify:   (*notifyService)(r),
		Hooks:    (*hookBus)(r),
		Peers:    (*peerService)(r),
		Settings: newSettings(r),
		Clock:    r.clock,
		IDs:      host.IDFunc(uuid.NewString),
	}
}

// AddScene registers a scene and returns its id.
func (r *Runtime) AddScene(info host.SceneInfo, walls []geom.Wall) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	r.scenes[info.ID] = &sceneState{
		info:   info,
		walls:  append([]geom.Wall(nil), walls...),
		tokens: make(map[string]host.TokenSnapshot),
		flags:  make(map[string]any),
	}
	if r.activeScene == "" {
		r.activeScene = info.ID
	}
	return info.ID
}

// SetActiveScene switches the active scene id.
func (r *Runtime) SetActiveScene(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeScene = id
}

// AddToken places a token on a scene and returns its id.
func (r *Runtime) AddToken(tok host.TokenSnapshot, sceneID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scenes[sceneID]
	if !ok {
		return ""
	}
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	sc.tokens[tok.ID] = tok
	return tok.ID
}

// AddActor registers an actor.
func (r *Runtime) AddActor(a host.Actor) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.actors[a.ID] = a
	return a.ID
}

// SetPeers overrides the connected peer set and local identity.
func (r *Runtime) SetPeers(self host.Peer, peers []host.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = self
	r.peers = append([]host.Peer(nil), peers...)
}

type sceneService Runtime

func (s *sceneService) Scene(id string) (host.SceneInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[id]
	if !ok {
		return host.SceneInfo{}, false
	}
	return sc.info, true
}

func (s *sceneService) ActiveSceneID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeScene
}

func (s *sceneService) CollidesSight(sceneID string, seg geom.Segment) bool {
	return s.collides(sceneID, seg, geom.Wall.BlocksSight)
}

func (s *sceneService) CollidesMove(sceneID string, seg geom.Segment) bool {
	return s.collides(sceneID, seg, geom.Wall.BlocksMove)
}

func (s *sceneService) collides(sceneID string, seg geom.Segment, match func(geom.Wall) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return false
	}
	for _, wall := range sc.walls {
		if match(wall) && geom.SegmentsIntersect(seg, wall.Segment) {
			return true
		}
	}
	return false
}

func (s *sceneService) Flag(sceneID, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return nil, false
	}
	v, ok := sc.flags[key]
	return v, ok
}

func (s *sceneService) SetFlag(sceneID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return fmt.Errorf("scene %s not found", sceneID)
	}
	sc.flags[key] = value
	return nil
}

func (s *sceneService) CreateScene(doc host.SceneDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	flags := make(map[string]any, len(doc.Flags))
	for k, v := range doc.Flags {
		flags[k] = v
	}
	s.scenes[id] = &sceneState{
		info: host.SceneInfo{
			ID:       id,
			Name:     doc.Name,
			Width:    doc.Width,
			Height:   doc.Height,
			GridSize: doc.GridSize,
		},
		tokens: make(map[string]host.TokenSnapshot),
		flags:  flags,
	}
	return id, nil
}

type tokenService Runtime

func (s *tokenService) Token(sceneID, tokenID string) (host.TokenSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return host.TokenSnapshot{}, false
	}
	tok, ok := sc.tokens[tokenID]
	return tok, ok
}

func (s *tokenService) TokensInScene(sceneID string) []host.TokenSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return nil
	}
	out := make([]host.TokenSnapshot, 0, len(sc.tokens))
	for _, tok := range sc.tokens {
		out = append(out, tok)
	}
	return out
}

func (s *tokenService) MoveToken(sceneID, tokenID string, pos geom.Vec2) error {
	return s.mutate(sceneID, tokenID, func(tok *host.TokenSnapshot) {
		tok.Position = pos
	})
}

func (s *tokenService) SetHidden(sceneID, tokenID string, hidden bool) error {
	return s.mutate(sceneID, tokenID, func(tok *host.TokenSnapshot) {
		tok.Hidden = hidden
	})
}

func (s *tokenService) SetRotation(sceneID, tokenID string, degrees float64) error {
	return s.mutate(sceneID, tokenID, func(tok *host.TokenSnapshot) {
		tok.Rotation = degrees
	})
}

func (s *tokenService) mutate(sceneID, tokenID string, apply func(*host.TokenSnapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return fmt.Errorf("scene %s not found", sceneID)
	}
	tok, ok := sc.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s not found in scene %s", tokenID, sceneID)
	}
	apply(&tok)
	sc.tokens[tokenID] = tok
	return nil
}

func (s *tokenService) CreateToken(doc host.TokenDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[doc.SceneID]
	if !ok {
		return "", fmt.Errorf("scene %s not found", doc.SceneID)
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	sc.tokens[id] = host.TokenSnapshot{
		ID:          id,
		Name:        doc.Name,
		ActorID:     doc.ActorID,
		Position:    doc.Position,
		Rotation:    doc.Rotation,
		Hidden:      doc.Hidden,
		Disposition: doc.Disposition,
	}
	return id, nil
}

func (s *tokenService) DeleteToken(sceneID, tokenID string) (host.TokenDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return host.TokenDocument{}, fmt.Errorf("scene %s not found", sceneID)
	}
	tok, ok := sc.tokens[tokenID]
	if !ok {
		return host.TokenDocument{}, fmt.Errorf("token %s not found in scene %s", tokenID, sceneID)
	}
	delete(sc.tokens, tokenID)
	return host.TokenDocument{
		ID:          tok.ID,
		Name:        tok.Name,
		ActorID:     tok.ActorID,
		SceneID:     sceneID,
		Position:    tok.Position,
		Rotation:    tok.Rotation,
		Hidden:      tok.Hidden,
		Disposition: tok.Disposition,
	}, nil
}

type actorService Runtime

func (s *actorService) Actor(id string) (host.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return host.Actor{}, false
	}
	return cloneActor(a), true
}

func (s *actorService) CreateActor(a host.Actor) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.actors[a.ID] = a
	return a.ID, nil
}

func (s *actorService) DeleteActor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actors, id)
	return nil
}

func (s *actorService) UpdateAttributes(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return fmt.Errorf("actor %s not found", id)
	}
	if a.Attributes == nil {
		a.Attributes = make(map[string]any, len(patch))
	}
	mergeAttrs(a.Attributes, patch)
	s.actors[id] = a
	return nil
}

// mergeAttrs deep-merges nested attribute maps the way VTT hosts apply
// document patches, so partial updates keep sibling keys intact.
func mergeAttrs(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeAttrs(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

func (s *actorService) UpdateItemQuantity(actorID, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[actorID]
	if !ok {
		return fmt.Errorf("actor %s not found", actorID)
	}
	for i := range a.Items {
		if a.Items[i].ID == itemID {
			a.Items[i].Quantity = qty
			s.actors[actorID] = a
			return nil
		}
	}
	return fmt.Errorf("item %s not found on actor %s", itemID, actorID)
}

func (s *actorService) DeleteItem(actorID, itemID string) (host.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[actorID]
	if !ok {
		return host.Item{}, fmt.Errorf("actor %s not found", actorID)
	}
	for i := range a.Items {
		if a.Items[i].ID == itemID {
			removed := a.Items[i]
			a.Items = append(a.Items[:i:i], a.Items[i+1:]...)
			s.actors[actorID] = a
			return removed, nil
		}
	}
	return host.Item{}, fmt.Errorf("item %s not found on actor %s", itemID, actorID)
}

func (s *actorService) CreateItem(actorID string, item host.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[actorID]
	if !ok {
		return fmt.Errorf("actor %s not found", actorID)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	a.Items = append(a.Items, item)
	s.actors[actorID] = a
	return nil
}

func cloneActor(a host.Actor) host.Actor {
	cloned := a
	if a.Attributes != nil {
		attrs := make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	cloned.Items = append([]host.Item(nil), a.Items...)
	return cloned
}

type combatService Runtime

func (s *combatService) EnsureCombat(sceneID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.combats {
		if c.sceneID == sceneID {
			return id, nil
		}
	}
	id := uuid.NewString()
	s.combats[id] = &combatState{id: id, sceneID: sceneID}
	return id, nil
}

func (s *combatService) ActiveCombat(sceneID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.combats {
		if c.sceneID == sceneID {
			return id, true
		}
	}
	return "", false
}

func (s *combatService) AddCombatant(combatID, sceneID, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.combats[combatID]
	if !ok {
		return fmt.Errorf("combat %s not found", combatID)
	}
	sc, ok := s.scenes[sceneID]
	if !ok {
		return fmt.Errorf("scene %s not found", sceneID)
	}
	tok, ok := sc.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s not found in scene %s", tokenID, sceneID)
	}
	for _, existing := range c.combatants {
		if existing.TokenID == tokenID {
			return nil
		}
	}
	c.combatants = append(c.combatants, host.Combatant{
		TokenID:     tokenID,
		ActorID:     tok.ActorID,
		Disposition: tok.Disposition,
	})
	return nil
}

func (s *combatService) Combatants(combatID string) []host.Combatant {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.combats[combatID]
	if !ok {
		return nil
	}
	return append([]host.Combatant(nil), c.combatants...)
}

func (s *combatService) RollInitiative(combatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.combats[combatID]
	if !ok {
		return fmt.Errorf("combat %s not found", combatID)
	}
	for i := range c.combatants {
		if c.combatants[i].Initiative == 0 {
			c.combatants[i].Initiative = float64(10 + i)
		}
	}
	return nil
}

func (s *combatService) DeleteCombat(combatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.combats, combatID)
	return nil
}

type macroService Runtime

func (s *macroService) Run(name string, ctx map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MacroCalls = append(s.MacroCalls, MacroCall{Name: name, Ctx: ctx})
	return nil
}

type notifyService Runtime

func (s *notifyService) Info(userID, message string) {
	s.record(userID, "info", message)
}

func (s *notifyService) Warn(userID, message string) {
	s.record(userID, "warn", message)
}

func (s *notifyService) record(userID, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Notices = append(s.Notices, Notice{UserID: userID, Level: level, Message: message})
}

type hookBus Runtime

func (s *hookBus) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, HookEvent{Event: event, Payload: payload})
}

type peerService Runtime

func (s *peerService) Peers() []host.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]host.Peer(nil), s.peers...)
}

func (s *peerService) Self() host.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}
