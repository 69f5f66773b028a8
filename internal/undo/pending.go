package undo

import "sync"

// DefaultPendingCapacity bounds the approval queue when unset.
const DefaultPendingCapacity = 100

// PendingQueue is the bounded FIFO of proposed mutations awaiting GM
// approval. Entries share the Record shape but describe the forward action;
// approval hands the entry back to the caller for execution.
type PendingQueue struct {
	mu      sync.Mutex
	entries []Record
	max     int
}

// NewPendingQueue constructs a queue bounded to max entries
// (DefaultPendingCapacity when max <= 0).
func NewPendingQueue(max int) *PendingQueue {
	if max <= 0 {
		max = DefaultPendingCapacity
	}
	return &PendingQueue{entries: make([]Record, 0), max: max}
}

// Push enqueues a proposal, evicting the oldest entry when full. The stored
// record (with a possibly disambiguated timestamp) is returned.
func (q *PendingQueue) Push(rec Record) Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.containsLocked(rec.Timestamp) {
		rec.Timestamp++
	}
	q.entries = append(q.entries, cloneRecord(rec))
	if overflow := len(q.entries) - q.max; overflow > 0 {
		q.entries = append(q.entries[:0:0], q.entries[overflow:]...)
	}
	return rec
}

// Take removes and returns the entry with the given timestamp. Callers
// execute the forward action themselves; a missing entry means it was already
// approved, rejected or evicted.
func (q *PendingQueue) Take(timestamp int64) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].Timestamp == timestamp {
			rec := q.entries[i]
			q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
			return rec, true
		}
	}
	return Record{}, false
}

// Reject drops the entry with the given timestamp.
func (q *PendingQueue) Reject(timestamp int64) bool {
	_, ok := q.Take(timestamp)
	return ok
}

// Entries returns a copy of the queue, oldest first.
func (q *PendingQueue) Entries() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, len(q.entries))
	for i := range q.entries {
		out[i] = cloneRecord(q.entries[i])
	}
	return out
}

// Len reports the number of queued proposals.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *PendingQueue) containsLocked(timestamp int64) bool {
	for i := range q.entries {
		if q.entries[i].Timestamp == timestamp {
			return true
		}
	}
	return false
}
