package engine

import (
	"context"
	"fmt"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
)

// LastKnownStatus is what the oplog alone says about a worker, without the
// worker running. Entries inside deleted regions are ignored.
type LastKnownStatus struct {
	Length      oplog.Index              `json:"length"`
	State       ExecutionState           `json:"state"`
	Interrupt   durability.InterruptKind `json:"interrupt,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Component   string                   `json:"component"`
	Completed   int                      `json:"completed_invocations"`
	Pending     string                   `json:"pending_invocation,omitempty"`
	RetryPolicy oplog.RetryPolicy        `json:"retry_policy"`
	Regions     []oplog.Jump             `json:"deleted_regions"`
}

// FoldStatus computes the last known status of o's worker.
func FoldStatus(ctx context.Context, o *oplog.Oplog) (LastKnownStatus, error) {
	s := LastKnownStatus{
		Length:      o.Length(),
		State:       Idle,
		RetryPolicy: oplog.DefaultRetryPolicy(),
		Regions:     []oplog.Jump{},
	}
	if s.Length == oplog.None {
		return s, nil
	}
	entries, err := o.ReadRange(ctx, oplog.Initial, s.Length)
	if err != nil {
		return s, fmt.Errorf("fold status: %w", err)
	}

	regions := oplog.NewDeletedRegions()
	for _, ie := range entries {
		switch e := ie.Entry.(type) {
		case oplog.JumpEntry:
			regions.AddJump(e.Jump)
		case oplog.Revert:
			regions.AddJump(e.DroppedRegion)
		}
	}
	if err := regions.Validate(); err != nil {
		return s, fmt.Errorf("fold status: %w", err)
	}
	s.Regions = regions.Jumps()

	for _, ie := range entries {
		if regions.IsInDeletedRegion(ie.Index) {
			continue
		}
		switch e := ie.Entry.(type) {
		case oplog.Create:
			s.Component = e.Component
		case oplog.ExportedFunctionInvoked:
			s.State = Running
			s.Pending = e.FunctionName
		case oplog.ExportedFunctionCompleted:
			s.State = Idle
			s.Pending = ""
			s.Completed++
		case oplog.ChangeRetryPolicy:
			s.RetryPolicy = e.Policy
			s.resumed()
		case oplog.Suspend:
			s.State, s.Interrupt = Interrupted, durability.InterruptSuspend
		case oplog.Interrupted:
			s.State, s.Interrupt = Interrupted, durability.InterruptInterrupt
		case oplog.Error:
			s.State, s.Interrupt = Interrupted, durability.InterruptFatal
			s.Error = e.Message
		case oplog.Restart, oplog.Log, oplog.Revert:
		default:
			s.resumed()
		}
	}
	return s, nil
}

// resumed records that the worker made progress after a hint.
func (s *LastKnownStatus) resumed() {
	if s.State == Interrupted {
		s.Interrupt = 0
		s.Error = ""
		if s.Pending != "" {
			s.State = Running
		} else {
			s.State = Idle
		}
	}
}
