package oplog

import (
	"context"
	"fmt"
)

// ReplayState is the replay cursor of a running worker. It is created when the
// worker starts, fixes the replay target at the oplog length of that moment,
// and hands out recorded entries in order until the target is passed. From
// then on the worker is live.
//
// The cursor is always parked so that the next entry it would return is
// neither a hint nor inside a deleted region.
type ReplayState struct {
	oplog   *Oplog
	regions *DeletedRegions
	entries []Entry
	last    Index
	target  Index
}

// NewReplayState loads the oplog up to its current length, rebuilds the
// deleted regions from jump and revert entries and validates them.
func NewReplayState(ctx context.Context, o *Oplog) (*ReplayState, error) {
	target := o.Length()
	r := &ReplayState{
		oplog:   o,
		regions: NewDeletedRegions(),
		target:  target,
	}
	if target > None {
		loaded, err := o.ReadRange(ctx, Initial, target)
		if err != nil {
			return nil, err
		}
		if Index(len(loaded)) != target {
			return nil, fmt.Errorf("replay %s: read %d entries, expected %d", o.WorkerID(), len(loaded), target)
		}
		r.entries = make([]Entry, len(loaded))
		for i, ie := range loaded {
			r.entries[i] = ie.Entry
			switch e := ie.Entry.(type) {
			case JumpEntry:
				r.regions.AddJump(e.Jump)
			case Revert:
				r.regions.AddJump(e.DroppedRegion)
			}
		}
	}
	if err := r.regions.Validate(); err != nil {
		return nil, fmt.Errorf("replay %s: %w", o.WorkerID(), err)
	}
	o.callSite = r.lastCallSite()
	r.settle()
	return r, nil
}

// IsLive reports whether every recorded entry has been consumed.
func (r *ReplayState) IsLive() bool {
	return r.regions.Skip(r.last.Next()) > r.target
}

// LastReplayed is the index of the most recently consumed entry.
func (r *ReplayState) LastReplayed() Index {
	return r.last
}

// Target is the oplog length at the time replay started.
func (r *ReplayState) Target() Index {
	return r.target
}

// Regions exposes the deleted regions in effect for this replay.
func (r *ReplayState) Regions() *DeletedRegions {
	return r.regions
}

// Peek returns the entry Next would return, without consuming it.
func (r *ReplayState) Peek() (Index, Entry, bool) {
	idx := r.regions.Skip(r.last.Next())
	if idx > r.target {
		return None, nil, false
	}
	return idx, r.entries[idx-1], true
}

// Next consumes and returns the next replayable entry.
func (r *ReplayState) Next() (Index, Entry, error) {
	idx, e, ok := r.Peek()
	if !ok {
		return None, nil, ErrReplayFinished
	}
	r.last = idx
	r.settle()
	return idx, e, nil
}

// FindForward looks for the first replayable entry after from that satisfies
// match, without moving the cursor.
func (r *ReplayState) FindForward(from Index, match func(Entry) bool) (Index, Entry, bool) {
	for idx := r.regions.Skip(from.Next()); idx <= r.target; idx = r.regions.Skip(idx.Next()) {
		if e := r.entries[idx-1]; match(e) {
			return idx, e, true
		}
	}
	return None, nil, false
}

// AddJump extends the deleted regions of a running replay, used when the
// worker itself discards part of the history being replayed.
func (r *ReplayState) AddJump(j Jump) {
	r.regions.AddJump(j)
	r.settle()
}

// settle moves the cursor past hint entries.
func (r *ReplayState) settle() {
	for {
		idx := r.regions.Skip(r.last.Next())
		if idx > r.target || !r.entries[idx-1].IsHint() {
			return
		}
		r.last = idx
	}
}

// lastCallSite finds the last entry up to the target that replay would act on.
func (r *ReplayState) lastCallSite() Index {
	for idx := r.target; idx > None; idx-- {
		e := r.entries[idx-1]
		if !e.IsHint() && e.Kind() != KindJump && !r.regions.IsInDeletedRegion(idx) {
			return idx
		}
	}
	return None
}
