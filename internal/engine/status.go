package engine

import (
	"fmt"
	"time"

	"github.com/roach88/durable/internal/durability"
)

// ExecutionState is the coarse state of a worker loop.
type ExecutionState uint8

const (
	Idle ExecutionState = iota
	Running
	Suspended
	Interrupted
)

var executionStateNames = map[ExecutionState]string{
	Idle:        "idle",
	Running:     "running",
	Suspended:   "suspended",
	Interrupted: "interrupted",
}

func (s ExecutionState) String() string {
	if name, ok := executionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("execution_state(%d)", uint8(s))
}

func (s ExecutionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ExecutionStatus is a snapshot of a worker's loop. It is never persisted.
type ExecutionStatus struct {
	State ExecutionState `json:"state"`
	// ResumeAt is set while Suspended.
	ResumeAt time.Time `json:"resume_at,omitzero"`
	// Interrupt is set while Interrupted.
	Interrupt durability.InterruptKind `json:"interrupt,omitempty"`
	// Incarnation is the replay count at the time of the change.
	Incarnation int64     `json:"incarnation"`
	Since       time.Time `json:"since"`
}

func (s ExecutionStatus) String() string {
	switch s.State {
	case Suspended:
		return fmt.Sprintf("suspended until %s", s.ResumeAt.Format(time.RFC3339))
	case Interrupted:
		return "interrupted (" + s.Interrupt.String() + ")"
	default:
		return s.State.String()
	}
}

// Waiting reports whether the loop is parked until Resume or a timer.
func (s ExecutionStatus) Waiting() bool {
	return s.State == Suspended || (s.State == Interrupted && s.Interrupt != durability.InterruptFatal)
}
