package testutil

import "sync"

// SequenceRandom is a random source that returns 1, 2, 3, ...
//
// A replayed worker must observe the recorded values, not the next ones from
// the source, so tests can tell a replayed value from a fresh one by looking
// at it. Draws counts how many values were actually produced.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceRandom struct {
	mu   sync.Mutex
	next uint64
}

// NewSequenceRandom creates a source whose first value is 1.
func NewSequenceRandom() *SequenceRandom {
	return &SequenceRandom{}
}

// Uint64 returns the next value of the sequence.
func (r *SequenceRandom) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return r.next
}

// Draws returns how many values have been produced.
func (r *SequenceRandom) Draws() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}
