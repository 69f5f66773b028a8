package jail

import (
	"fmt"
	"sync"
	"time"

	"nightwatch/engine/internal/geom"
)

// PrisonerRecord tracks one captured actor from pickup to release.
type PrisonerRecord struct {
	ActorID       string    `json:"actorId"`
	TokenID       string    `json:"tokenId"`
	OriginSceneID string    `json:"originSceneId"`
	OriginPos     geom.Vec2 `json:"originPos"`
	JailSceneID   string    `json:"jailSceneId"`
	Cell          geom.Vec2 `json:"cell"`
	CapturedBy    string    `json:"capturedBy"`
	CapturedAt    time.Time `json:"capturedAt"`
	Released      bool      `json:"released"`
	ReleasedAt    time.Time `json:"releasedAt,omitempty"`
}

// Registry is the prisoner ledger. At most one non-released record exists per
// actor, and a cell is held by at most one active prisoner per jail.
type Registry struct {
	mu      sync.Mutex
	records []PrisonerRecord
}

// NewRegistry constructs an empty ledger.
func NewRegistry() *Registry {
	return &Registry{records: make([]PrisonerRecord, 0)}
}

// Add appends an active record, enforcing the ledger invariants.
func (r *Registry) Add(rec PrisonerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].Released {
			continue
		}
		if r.records[i].ActorID == rec.ActorID {
			return fmt.Errorf("actor %s is already imprisoned", rec.ActorID)
		}
		if r.records[i].JailSceneID == rec.JailSceneID && r.records[i].Cell == rec.Cell {
			return fmt.Errorf("cell (%v) in jail %s is occupied", rec.Cell, rec.JailSceneID)
		}
	}
	r.records = append(r.records, rec)
	return nil
}

// Active returns the non-released record for an actor.
func (r *Registry) Active(actorID string) (PrisonerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ActorID == actorID && !r.records[i].Released {
			return r.records[i], true
		}
	}
	return PrisonerRecord{}, false
}

// Release marks the actor's active record released and returns it.
func (r *Registry) Release(actorID string, at time.Time) (PrisonerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ActorID == actorID && !r.records[i].Released {
			r.records[i].Released = true
			r.records[i].ReleasedAt = at
			return r.records[i], true
		}
	}
	return PrisonerRecord{}, false
}

// Drop removes every record for the actor, released or not.
func (r *Registry) Drop(actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.ActorID != actorID {
			kept = append(kept, rec)
		}
	}
	r.records = kept
}

// OccupiedCells lists the cells held by active prisoners in a jail scene.
func (r *Registry) OccupiedCells(jailSceneID string) []geom.Vec2 {
	r.mu.Lock()
	defer r.mu.Unlock()
	cells := make([]geom.Vec2, 0)
	for i := range r.records {
		if !r.records[i].Released && r.records[i].JailSceneID == jailSceneID {
			cells = append(cells, r.records[i].Cell)
		}
	}
	return cells
}

// Records returns a copy of the full ledger.
func (r *Registry) Records() []PrisonerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PrisonerRecord(nil), r.records...)
}

// Restore replaces the ledger contents, used when loading persisted state.
func (r *Registry) Restore(records []PrisonerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records[:0:0], records...)
}

// ActiveCount reports the number of non-released records.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i := range r.records {
		if !r.records[i].Released {
			count++
		}
	}
	return count
}
