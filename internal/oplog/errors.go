package oplog

import (
	"errors"
	"fmt"
)

// ErrReplayFinished is returned when replay is asked for an entry beyond the
// replay target.
var ErrReplayFinished = errors.New("replay finished")

// ErrWorkerNotFound is returned by storage for workers without an oplog.
var ErrWorkerNotFound = errors.New("worker not found")

// ErrPayloadNotFound is returned by blob storage for unknown payload ids.
var ErrPayloadNotFound = errors.New("payload not found")

// RegionConflictError reports deleted regions that contradict each other.
type RegionConflictError struct {
	First  Jump
	Second Jump
	Reason string
}

func (e *RegionConflictError) Error() string {
	if e.Second == (Jump{}) {
		return fmt.Sprintf("deleted region %s: %s", e.First, e.Reason)
	}
	return fmt.Sprintf("deleted regions %s and %s: %s", e.First, e.Second, e.Reason)
}

// CorruptPayloadError reports an external payload whose bytes do not match
// the recorded content hash.
type CorruptPayloadError struct {
	ID       PayloadID
	Expected string
	Actual   string
}

func (e *CorruptPayloadError) Error() string {
	return fmt.Sprintf("payload %s is corrupt: content hash %s, expected %s", e.ID, e.Actual, e.Expected)
}

// IsRegionConflict reports whether err is or wraps a RegionConflictError.
func IsRegionConflict(err error) bool {
	var rc *RegionConflictError
	return errors.As(err, &rc)
}

// IsCorruptPayload reports whether err is or wraps a CorruptPayloadError.
func IsCorruptPayload(err error) bool {
	var cp *CorruptPayloadError
	return errors.As(err, &cp)
}
