package oplog

import (
	"fmt"
	"slices"
)

// Jump excises the history (Source, Target]. When replay reaches Target, the
// worker continues as if Source had been the last entry.
type Jump struct {
	Source Index `cbor:"source" json:"source"`
	Target Index `cbor:"target" json:"target"`
}

// Contains reports whether idx lies in (Source, Target].
func (j Jump) Contains(idx Index) bool {
	return idx > j.Source && idx <= j.Target
}

func (j Jump) String() string {
	return fmt.Sprintf("(%d, %d]", j.Source, j.Target)
}

// DeletedRegions is the set of jumps recorded in a worker's oplog. The
// number of jumps per worker is small, so queries scan the list.
type DeletedRegions struct {
	jumps []Jump
}

func NewDeletedRegions() *DeletedRegions {
	return &DeletedRegions{}
}

// DeletedRegionsFromJumps rebuilds the set from persisted jumps.
func DeletedRegionsFromJumps(jumps []Jump) *DeletedRegions {
	return &DeletedRegions{jumps: slices.Clone(jumps)}
}

// AddJump records a jump. No consistency check happens here; see Validate.
func (d *DeletedRegions) AddJump(j Jump) {
	d.jumps = append(d.jumps, j)
}

// Jumps returns a copy of the recorded jumps in insertion order.
func (d *DeletedRegions) Jumps() []Jump {
	return slices.Clone(d.jumps)
}

func (d *DeletedRegions) Len() int {
	return len(d.jumps)
}

// IsInDeletedRegion reports whether any jump covers idx.
func (d *DeletedRegions) IsInDeletedRegion(idx Index) bool {
	for _, j := range d.jumps {
		if j.Contains(idx) {
			return true
		}
	}
	return false
}

// IsDeletedRegionStart returns the continuation index when at is the target
// of some jump: Source+1 of that jump. When several jumps share the target the
// largest continuation wins.
func (d *DeletedRegions) IsDeletedRegionStart(at Index) (Index, bool) {
	var (
		best  Index
		found bool
	)
	for _, j := range d.jumps {
		if j.Target == at && (!found || j.Source.Next() > best) {
			best = j.Source.Next()
			found = true
		}
	}
	return best, found
}

// Skip returns the first readable physical position at or after idx.
// Regions are left through their furthest end, repeatedly, because the end of
// one region may sit inside another.
func (d *DeletedRegions) Skip(idx Index) Index {
	for {
		end, covered := None, false
		for _, j := range d.jumps {
			if j.Contains(idx) && (!covered || j.Target > end) {
				end, covered = j.Target, true
			}
		}
		if !covered {
			return idx
		}
		idx = end.Next()
	}
}

// Validate reports jumps that cannot be resolved unambiguously: empty or
// inverted ranges, and ranges that partially overlap. Nested and disjoint
// ranges are fine.
func (d *DeletedRegions) Validate() error {
	for i, a := range d.jumps {
		if a.Source >= a.Target {
			return &RegionConflictError{First: a, Reason: "source must be before target"}
		}
		for _, b := range d.jumps[i+1:] {
			if partiallyOverlap(a, b) {
				return &RegionConflictError{First: a, Second: b, Reason: "regions partially overlap"}
			}
		}
	}
	return nil
}

func partiallyOverlap(a, b Jump) bool {
	disjoint := a.Target <= b.Source || b.Target <= a.Source
	aInB := a.Source >= b.Source && a.Target <= b.Target
	bInA := b.Source >= a.Source && b.Target <= a.Target
	return !disjoint && !aInB && !bInA
}
