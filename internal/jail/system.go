package jail

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
)

// System resolves jail scenes lazily and moves prisoners in and out. All
// randomness flows through the injected rng.
type System struct {
	scenes host.SceneService
	tokens host.TokenService
	actors host.ActorService
	clock  host.Clock
	rng    *rand.Rand

	mu        sync.Mutex
	instances map[string]string // template id -> scene id

	Prisoners *Registry
}

// NewSystem constructs a jail system over the host services.
func NewSystem(scenes host.SceneService, tokens host.TokenService, actors host.ActorService, clock host.Clock, rng *rand.Rand) *System {
	return &System{
		scenes:    scenes,
		tokens:    tokens,
		actors:    actors,
		clock:     clock,
		rng:       rng,
		instances: make(map[string]string),
		Prisoners: NewRegistry(),
	}
}

// Instances returns the template->scene index for persistence.
func (s *System) Instances() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.instances))
	for k, v := range s.instances {
		out[k] = v
	}
	return out
}

// RestoreInstances reloads the template->scene index from persisted state,
// dropping entries whose scene no longer exists.
func (s *System) RestoreInstances(index map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[string]string, len(index))
	for templateID, sceneID := range index {
		if _, ok := s.scenes.Scene(sceneID); ok {
			s.instances[templateID] = sceneID
		}
	}
}

// RollRandomJail draws a template uniformly and returns its scene instance,
// creating the scene on first use.
func (s *System) RollRandomJail() (string, Template, error) {
	ids := TemplateIDs()
	if len(ids) == 0 {
		return "", Template{}, fmt.Errorf("no jail templates bundled")
	}
	idx := 0
	if s.rng != nil {
		idx = s.rng.Intn(len(ids))
	}
	template := Templates[ids[idx]]
	sceneID, err := s.EnsureScene(template.ID)
	if err != nil {
		return "", Template{}, err
	}
	return sceneID, template, nil
}

// EnsureScene returns the scene instance for a template, materializing it
// from the bundled descriptor when missing.
func (s *System) EnsureScene(templateID string) (string, error) {
	template, ok := Templates[templateID]
	if !ok {
		return "", fmt.Errorf("unknown jail template %q", templateID)
	}
	s.mu.Lock()
	if sceneID, ok := s.instances[templateID]; ok {
		if _, exists := s.scenes.Scene(sceneID); exists {
			s.mu.Unlock()
			return sceneID, nil
		}
		delete(s.instances, templateID)
	}
	s.mu.Unlock()

	sceneID, err := s.scenes.CreateScene(host.SceneDocument{
		Name:     template.Name,
		MapPath:  template.MapPath,
		Width:    template.Width,
		Height:   template.Height,
		GridSize: template.GridSize,
		Flags:    map[string]any{ConfigFlagKey: template.ID},
	})
	if err != nil {
		return "", fmt.Errorf("instantiate jail %s: %w", templateID, err)
	}
	s.mu.Lock()
	s.instances[templateID] = sceneID
	s.mu.Unlock()
	return sceneID, nil
}

// TemplateForScene resolves the template a jail scene was stamped from.
func (s *System) TemplateForScene(sceneID string) (Template, bool) {
	flag, ok := s.scenes.Flag(sceneID, ConfigFlagKey)
	if !ok {
		return Template{}, false
	}
	id, ok := flag.(string)
	if !ok {
		return Template{}, false
	}
	template, ok := Templates[id]
	return template, ok
}

// NextAvailableCell returns the first cell anchor without an active prisoner,
// falling back to the spawn anchor when every cell is held.
func (s *System) NextAvailableCell(jailSceneID string) geom.Vec2 {
	template, ok := s.TemplateForScene(jailSceneID)
	if !ok {
		return geom.Vec2{}
	}
	occupied := s.Prisoners.OccupiedCells(jailSceneID)
	for _, cell := range template.Cells {
		taken := false
		for _, held := range occupied {
			if held == cell {
				taken = true
				break
			}
		}
		if !taken {
			return cell
		}
	}
	return template.Spawn
}

// SendOptions tunes SendToJail.
type SendOptions struct {
	CapturedBy  string
	TargetLevel int
}

// SendToJail moves a token into a jail cell: resolves a jail, prepares it on
// first use, records the origin, deletes the origin token and recreates it at
// the destination cell, then appends the prisoner record. The deleted origin
// document is returned so callers can journal the inverse.
func (s *System) SendToJail(originSceneID, tokenID string, opts SendOptions) (PrisonerRecord, host.TokenDocument, error) {
	token, ok := s.tokens.Token(originSceneID, tokenID)
	if !ok {
		return PrisonerRecord{}, host.TokenDocument{}, fmt.Errorf("token %s not found in scene %s", tokenID, originSceneID)
	}
	jailSceneID, _, err := s.RollRandomJail()
	if err != nil {
		return PrisonerRecord{}, host.TokenDocument{}, err
	}
	if err := s.Prepare(jailSceneID, opts.TargetLevel); err != nil {
		return PrisonerRecord{}, host.TokenDocument{}, err
	}

	cell := s.NextAvailableCell(jailSceneID)

	originDoc, err := s.tokens.DeleteToken(originSceneID, tokenID)
	if err != nil {
		return PrisonerRecord{}, host.TokenDocument{}, fmt.Errorf("remove origin token: %w", err)
	}
	destDoc := originDoc
	destDoc.SceneID = jailSceneID
	destDoc.Position = cell
	destID, err := s.tokens.CreateToken(destDoc)
	if err != nil {
		// Best effort: put the origin token back before reporting.
		if _, restoreErr := s.tokens.CreateToken(originDoc); restoreErr != nil {
			return PrisonerRecord{}, host.TokenDocument{}, fmt.Errorf("place jail token: %w (origin restore also failed: %v)", err, restoreErr)
		}
		return PrisonerRecord{}, host.TokenDocument{}, fmt.Errorf("place jail token: %w", err)
	}

	rec := PrisonerRecord{
		ActorID:       token.ActorID,
		TokenID:       destID,
		OriginSceneID: originSceneID,
		OriginPos:     token.Position,
		JailSceneID:   jailSceneID,
		Cell:          cell,
		CapturedBy:    opts.CapturedBy,
		CapturedAt:    s.now(),
	}
	if err := s.Prisoners.Add(rec); err != nil {
		return PrisonerRecord{}, host.TokenDocument{}, err
	}
	return rec, originDoc, nil
}

// ReleaseOptions tunes ReleasePrisoner.
type ReleaseOptions struct {
	ReturnToOrigin bool
	ClearRecord    bool
}

// ReleasePrisoner inverts SendToJail for the actor's active record.
func (s *System) ReleasePrisoner(actorID string, opts ReleaseOptions) (PrisonerRecord, error) {
	rec, ok := s.Prisoners.Release(actorID, s.now())
	if !ok {
		return PrisonerRecord{}, fmt.Errorf("no active prisoner record for actor %s", actorID)
	}
	if opts.ReturnToOrigin {
		doc, err := s.tokens.DeleteToken(rec.JailSceneID, rec.TokenID)
		if err == nil {
			doc.SceneID = rec.OriginSceneID
			doc.Position = rec.OriginPos
			if _, err := s.tokens.CreateToken(doc); err != nil {
				return rec, fmt.Errorf("return prisoner to origin: %w", err)
			}
		}
	}
	if opts.ClearRecord {
		s.Prisoners.Drop(actorID)
	}
	return rec, nil
}

// Prepare is the one-shot guard setup for a jail scene instance: placeholder
// tokens are removed and scaled guards are spawned at the guard anchors.
func (s *System) Prepare(jailSceneID string, targetLevel int) error {
	if _, ok := s.scenes.Flag(jailSceneID, PreparedFlagKey); ok {
		return nil
	}
	template, ok := s.TemplateForScene(jailSceneID)
	if !ok {
		return fmt.Errorf("scene %s is not a jail instance", jailSceneID)
	}

	for _, token := range s.tokens.TokensInScene(jailSceneID) {
		if strings.HasPrefix(strings.ToLower(token.Name), "placeholder") {
			if _, err := s.tokens.DeleteToken(jailSceneID, token.ID); err != nil {
				return fmt.Errorf("remove placeholder %s: %w", token.ID, err)
			}
		}
	}

	hp := template.Guards.HPAt(targetLevel)
	ac := template.Guards.ACAt(targetLevel)
	for i, anchor := range template.GuardAnchors {
		actorID, err := s.actors.CreateActor(host.Actor{
			Name:   fmt.Sprintf("%s Guard %d", template.Name, i+1),
			System: "generic",
			Level:  targetLevel,
			Attributes: map[string]any{
				"hp":    hp,
				"hpMax": hp,
				"ac":    ac,
			},
		})
		if err != nil {
			return fmt.Errorf("create jail guard actor: %w", err)
		}
		if _, err := s.tokens.CreateToken(host.TokenDocument{
			Name:        fmt.Sprintf("%s Guard %d", template.Name, i+1),
			ActorID:     actorID,
			SceneID:     jailSceneID,
			Position:    anchor,
			Disposition: host.DispositionHostile,
		}); err != nil {
			return fmt.Errorf("place jail guard token: %w", err)
		}
	}

	return s.scenes.SetFlag(jailSceneID, PreparedFlagKey, true)
}

func (s *System) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Time{}
}
