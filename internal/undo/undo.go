// Package undo keeps the reversible journal of engine mutations. Every
// state-mutating action appends one record whose actions can be executed to
// restore the pre-mutation state; execution is best-effort with a
// reverse-order compensating revert when an action fails partway.
package undo

import (
	"fmt"
	"sync"

	"nightwatch/engine/internal/host"
)

// ActionKind identifies one compensating action type.
type ActionKind string

const (
	ActionRestoreToken    ActionKind = "restoreToken"
	ActionUnhideToken     ActionKind = "unhideToken"
	ActionRestoreGold     ActionKind = "restoreGold"
	ActionRestoreItem     ActionKind = "restoreItem"
	ActionRestoreHP       ActionKind = "restoreHp"
	ActionReleasePrisoner ActionKind = "releasePrisoner"
	ActionDespawnToken    ActionKind = "despawnToken"
)

// Action is one compensating step together with the pre-mutation snapshot it
// needs. Only the fields relevant to Kind are populated.
type Action struct {
	Kind    ActionKind         `json:"kind"`
	SceneID string             `json:"sceneId,omitempty"`
	TokenID string             `json:"tokenId,omitempty"`
	ActorID string             `json:"actorId,omitempty"`
	Gold    int                `json:"gold,omitempty"`
	HP      int                `json:"hp,omitempty"`
	Token   host.TokenDocument `json:"token,omitempty"`
	Item    host.Item          `json:"item,omitempty"`
}

// Record is a journal entry. Timestamp doubles as the stable id used by
// Update and the pending queue.
type Record struct {
	Timestamp int64          `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Actions   []Action       `json:"actions,omitempty"`
}

// Applier executes one compensating action and returns the inverse action
// that would undo it, so a failed multi-action revert can roll back the steps
// already applied.
type Applier interface {
	Apply(a Action) (Action, error)
}

// ApplierFunc adapts a function into an Applier.
type ApplierFunc func(a Action) (Action, error)

// Apply implements Applier.
func (f ApplierFunc) Apply(a Action) (Action, error) {
	if f == nil {
		return Action{}, fmt.Errorf("nil applier")
	}
	return f(a)
}

// DefaultMaxEntries bounds the journal when no explicit limit is configured.
const DefaultMaxEntries = 200

// Log is the append-only, trimmed journal of undo records.
type Log struct {
	mu      sync.Mutex
	entries []Record
	max     int
}

// NewLog constructs a journal trimmed to max entries (DefaultMaxEntries when
// max <= 0).
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Log{entries: make([]Record, 0), max: max}
}

// Append records an entry, trimming the oldest entries past the cap. Records
// sharing a timestamp are disambiguated by bumping the later one forward.
func (l *Log) Append(rec Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.containsLocked(rec.Timestamp) {
		rec.Timestamp++
	}
	l.entries = append(l.entries, cloneRecord(rec))
	if overflow := len(l.entries) - l.max; overflow > 0 {
		l.entries = append(l.entries[:0:0], l.entries[overflow:]...)
	}
	return rec
}

// Update merge-patches the record with the given timestamp. The patch
// callback receives a pointer to a copy that is written back on return.
func (l *Log) Update(timestamp int64, patch func(*Record)) bool {
	if patch == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Timestamp == timestamp {
			rec := cloneRecord(l.entries[i])
			patch(&rec)
			rec.Timestamp = timestamp
			l.entries[i] = rec
			return true
		}
	}
	return false
}

// Get returns the record with the given timestamp.
func (l *Log) Get(timestamp int64) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Timestamp == timestamp {
			return cloneRecord(l.entries[i]), true
		}
	}
	return Record{}, false
}

// Remove drops the record with the given timestamp.
func (l *Log) Remove(timestamp int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Timestamp == timestamp {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns a copy of the journal, oldest first.
func (l *Log) Entries() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.entries))
	for i := range l.entries {
		out[i] = cloneRecord(l.entries[i])
	}
	return out
}

// Len reports the number of stored records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) containsLocked(timestamp int64) bool {
	for i := range l.entries {
		if l.entries[i].Timestamp == timestamp {
			return true
		}
	}
	return false
}

// RevertResult reports the outcome of executing a record's actions.
type RevertResult struct {
	Success bool
	Errors  []error
}

// Revert executes the record's actions in order. When an action fails, the
// already-executed actions are compensated in reverse order using the
// inverses the applier returned, and every error is collected.
func Revert(rec Record, ap Applier) RevertResult {
	if ap == nil {
		return RevertResult{Errors: []error{fmt.Errorf("no applier configured")}}
	}
	inverses := make([]Action, 0, len(rec.Actions))
	for i, action := range rec.Actions {
		inverse, err := ap.Apply(action)
		if err == nil {
			inverses = append(inverses, inverse)
			continue
		}
		result := RevertResult{
			Errors: []error{fmt.Errorf("action %d (%s): %w", i, action.Kind, err)},
		}
		for j := len(inverses) - 1; j >= 0; j-- {
			if _, compErr := ap.Apply(inverses[j]); compErr != nil {
				result.Errors = append(result.Errors,
					fmt.Errorf("compensating %s: %w", inverses[j].Kind, compErr))
			}
		}
		return result
	}
	return RevertResult{Success: true}
}

func cloneRecord(rec Record) Record {
	cloned := rec
	cloned.Actions = append([]Action(nil), rec.Actions...)
	if rec.Payload != nil {
		payload := make(map[string]any, len(rec.Payload))
		for k, v := range rec.Payload {
			payload[k] = v
		}
		cloned.Payload = payload
	}
	return cloned
}
