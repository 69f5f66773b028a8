package engine

import (
	"math/rand"
	"sort"
	"time"
)

// ReinforcementInstance tracks one spawned reinforcement token until its
// lifetime expires.
type ReinforcementInstance struct {
	TokenID        string    `json:"tokenId"`
	ActorID        string    `json:"actorId,omitempty"`
	SourcePatrolID string    `json:"sourcePatrolId"`
	SpawnedAt      time.Time `json:"spawnedAt"`
	Lifetime       time.Duration
}

// BleedState accumulates death-save progress for one token. Disadvantage is
// sticky for the rest of the encounter once a save succeeds.
type BleedState struct {
	SavesMade       int  `json:"savesMade"`
	SavesFailed     int  `json:"savesFailed"`
	HasDisadvantage bool `json:"hasDisadvantage"`
}

// SceneRuntime is the per-scene bag of cross-patrol state: reinforcement
// cooldown, live reinforcements, bleed-out progress and the scene's RNG
// stream.
type SceneRuntime struct {
	SceneID string

	lastAlert      time.Time
	reinforcements []ReinforcementInstance
	bleeding       map[string]*BleedState
	rng            *rand.Rand
}

func newSceneRuntime(sceneID string, rng *rand.Rand) *SceneRuntime {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SceneRuntime{
		SceneID:  sceneID,
		bleeding: make(map[string]*BleedState),
		rng:      rng,
	}
}

// bleedState returns the merged bleed state for a token, creating it on
// first use.
func (rt *SceneRuntime) bleedState(tokenID string) *BleedState {
	st, ok := rt.bleeding[tokenID]
	if !ok {
		st = &BleedState{}
		rt.bleeding[tokenID] = st
	}
	return st
}

// task is one scheduled continuation. Owner tags let stop() cancel every
// pending continuation of a patrol in one sweep.
type task struct {
	id    uint64
	due   time.Time
	owner string
	fn    func(now time.Time)
}

// scheduler is a virtual-clock timer queue. All waits in the engine are
// tasks; nothing sleeps.
type scheduler struct {
	nextID uint64
	tasks  []*task
}

func (s *scheduler) schedule(due time.Time, owner string, fn func(now time.Time)) uint64 {
	s.nextID++
	s.tasks = append(s.tasks, &task{id: s.nextID, due: due, owner: owner, fn: fn})
	return s.nextID
}

// cancelOwner drops every pending task tagged with owner.
func (s *scheduler) cancelOwner(owner string) {
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.owner != owner {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
}

// runDue executes every task due at or before now, in due order. Tasks
// scheduled by running tasks are picked up in the same pass when already due.
func (s *scheduler) runDue(now time.Time) {
	for {
		var next *task
		idx := -1
		for i, t := range s.tasks {
			if t.due.After(now) {
				continue
			}
			if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.id < next.id) {
				next = t
				idx = i
			}
		}
		if next == nil {
			return
		}
		s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
		next.fn(now)
	}
}

// pendingOwners lists owners with queued tasks, for diagnostics.
func (s *scheduler) pendingOwners() []string {
	set := map[string]struct{}{}
	for _, t := range s.tasks {
		if t.owner != "" {
			set[t.owner] = struct{}{}
		}
	}
	owners := make([]string, 0, len(set))
	for o := range set {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}
