package undo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendTrims(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(Record{Timestamp: int64(i + 1), Type: "test"})
	}
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[0].Timestamp)
	assert.Equal(t, int64(5), entries[2].Timestamp)
}

func TestLogDisambiguatesTimestamps(t *testing.T) {
	l := NewLog(0)
	first := l.Append(Record{Timestamp: 100})
	second := l.Append(Record{Timestamp: 100})
	assert.Equal(t, int64(100), first.Timestamp)
	assert.Equal(t, int64(101), second.Timestamp)
}

func TestLogUpdate(t *testing.T) {
	l := NewLog(0)
	l.Append(Record{Timestamp: 42, Message: "before"})

	ok := l.Update(42, func(rec *Record) {
		rec.Message = "after"
		rec.Timestamp = 9999 // must not change the key
	})
	require.True(t, ok)

	rec, found := l.Get(42)
	require.True(t, found)
	assert.Equal(t, "after", rec.Message)

	assert.False(t, l.Update(7, func(*Record) {}))
}

// recordingApplier executes actions against a counter map, failing on demand.
type recordingApplier struct {
	applied []Action
	failAt  int // 1-based index of the call that fails; 0 = never
	calls   int
}

func (a *recordingApplier) Apply(action Action) (Action, error) {
	a.calls++
	if a.failAt > 0 && a.calls == a.failAt {
		return Action{}, errors.New("forced failure")
	}
	a.applied = append(a.applied, action)
	// The inverse of a gold restore is a gold restore to the other value.
	return Action{Kind: action.Kind, ActorID: action.ActorID, Gold: -action.Gold}, nil
}

func TestRevertExecutesInOrder(t *testing.T) {
	ap := &recordingApplier{}
	rec := Record{Actions: []Action{
		{Kind: ActionRestoreGold, ActorID: "a", Gold: 10},
		{Kind: ActionRestoreItem, ActorID: "a"},
		{Kind: ActionReleasePrisoner, ActorID: "a"},
	}}
	result := Revert(rec, ap)
	require.True(t, result.Success)
	assert.Empty(t, result.Errors)
	require.Len(t, ap.applied, 3)
	assert.Equal(t, ActionRestoreGold, ap.applied[0].Kind)
	assert.Equal(t, ActionReleasePrisoner, ap.applied[2].Kind)
}

func TestRevertCompensatesOnFailure(t *testing.T) {
	// Third action fails; the two executed actions must be compensated in
	// reverse order.
	ap := &recordingApplier{failAt: 3}
	rec := Record{Actions: []Action{
		{Kind: ActionRestoreGold, ActorID: "a", Gold: 10},
		{Kind: ActionRestoreHP, ActorID: "a", Gold: 20},
		{Kind: ActionRestoreItem, ActorID: "a"},
	}}
	result := Revert(rec, ap)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Errors)

	// applied: action1, action2, then inverses of action2 and action1.
	require.Len(t, ap.applied, 4)
	assert.Equal(t, ActionRestoreHP, ap.applied[2].Kind)
	assert.Equal(t, -20, ap.applied[2].Gold)
	assert.Equal(t, ActionRestoreGold, ap.applied[3].Kind)
	assert.Equal(t, -10, ap.applied[3].Gold)
}

func TestRevertCollectsCompensationErrors(t *testing.T) {
	calls := 0
	ap := ApplierFunc(func(a Action) (Action, error) {
		calls++
		if calls == 1 {
			return a, nil
		}
		return Action{}, fmt.Errorf("broken pipe")
	})
	rec := Record{Actions: []Action{
		{Kind: ActionRestoreGold},
		{Kind: ActionRestoreItem},
	}}
	result := Revert(rec, ap)
	require.False(t, result.Success)
	// One failure plus one compensation failure.
	assert.Len(t, result.Errors, 2)
}

func TestPendingQueueBoundedFIFO(t *testing.T) {
	q := NewPendingQueue(2)
	q.Push(Record{Timestamp: 1})
	q.Push(Record{Timestamp: 2})
	q.Push(Record{Timestamp: 3})

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Timestamp)
	assert.Equal(t, int64(3), entries[1].Timestamp)

	_, ok := q.Take(1)
	assert.False(t, ok)
	rec, ok := q.Take(2)
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Timestamp)
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.Reject(3))
	assert.Zero(t, q.Len())
}
