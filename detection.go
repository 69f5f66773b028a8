package engine

import (
	"nightwatch/engine/internal/geom"
	"nightwatch/engine/internal/host"
)

// FilterPolicy narrows the candidate set a detection pass considers.
type FilterPolicy struct {
	ExcludeHidden      bool
	ExcludeFriendly    bool
	ExcludeNPC         bool
	RequireLineOfSight bool
}

// DefaultFilterPolicy is what patrols detect with unless configured
// otherwise: visible, non-friendly, player-owned tokens behind no wall.
func DefaultFilterPolicy() FilterPolicy {
	return FilterPolicy{
		ExcludeHidden:      true,
		ExcludeFriendly:    true,
		ExcludeNPC:         true,
		RequireLineOfSight: true,
	}
}

// friendlyTo reports whether two dispositions count as friendly for
// detection purposes: matching dispositions or either side neutral.
func friendlyTo(a, b host.Disposition) bool {
	return a == b || a == host.DispositionNeutral || b == host.DispositionNeutral
}

// Detect returns the tokens a waypoint currently sees. selfTokenID is the
// patrolling guard and is always excluded. No ordering guarantee.
func Detect(scenes host.SceneService, tokens host.TokenService, w *Waypoint, selfTokenID string, guardDisposition host.Disposition, policy FilterPolicy) []host.TokenSnapshot {
	if scenes == nil || tokens == nil || w == nil {
		return nil
	}
	scene, ok := scenes.Scene(w.SceneID)
	if !ok {
		return nil
	}

	var detected []host.TokenSnapshot
	for _, tok := range tokens.TokensInScene(w.SceneID) {
		if tok.ID == selfTokenID {
			continue
		}
		if policy.ExcludeHidden && tok.Hidden {
			continue
		}
		if policy.ExcludeFriendly && friendlyTo(guardDisposition, tok.Disposition) {
			continue
		}
		if policy.ExcludeNPC && !tok.HasPlayerOwner {
			continue
		}
		center := tok.Center()
		if !w.InRange(center, scene.GridSize) || !w.InVisionCone(center) {
			continue
		}
		if policy.RequireLineOfSight {
			ray := geom.Segment{A: w.Position, B: center}
			if scenes.CollidesSight(w.SceneID, ray) {
				continue
			}
		}
		detected = append(detected, tok)
	}
	return detected
}
