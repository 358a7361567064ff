package durability

import (
	"errors"
	"fmt"
	"time"
)

// InterruptKind says why a worker stopped.
type InterruptKind uint8

const (
	// InterruptSuspend parks the worker until it is resumed.
	InterruptSuspend InterruptKind = iota + 1
	// InterruptInterrupt stops the worker until it is resumed.
	InterruptInterrupt
	// InterruptRestart drops in-memory state and replays from the start.
	InterruptRestart
	// InterruptJump restarts after the worker rewrote its own history.
	InterruptJump
	// InterruptFatal stops the worker for good.
	InterruptFatal
)

var interruptKindNames = map[InterruptKind]string{
	InterruptSuspend:   "suspend",
	InterruptInterrupt: "interrupt",
	InterruptRestart:   "restart",
	InterruptJump:      "jump",
	InterruptFatal:     "fatal",
}

func (k InterruptKind) String() string {
	if name, ok := interruptKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("interrupt_kind(%d)", uint8(k))
}

func (k InterruptKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseInterruptKind is the inverse of String.
func ParseInterruptKind(s string) (InterruptKind, error) {
	for k, name := range interruptKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown interrupt kind %q", s)
}

// SuspendSignal is returned by a live call that cannot complete before
// ResumeAt. It is never persisted.
type SuspendSignal struct {
	ResumeAt time.Time
}

func (s *SuspendSignal) Error() string {
	return fmt.Sprintf("worker suspended until %s", s.ResumeAt.Format(time.RFC3339Nano))
}

// InterruptSignal unwinds a worker after an interrupt was observed. It is
// never persisted.
type InterruptSignal struct {
	Kind InterruptKind
}

func (s *InterruptSignal) Error() string {
	return "worker interrupted: " + s.Kind.String()
}

// IsControlSignal reports whether err is or wraps a suspend or interrupt
// signal.
func IsControlSignal(err error) bool {
	_, suspended := AsSuspend(err)
	_, interrupted := AsInterrupt(err)
	return suspended || interrupted
}

// AsSuspend extracts a SuspendSignal from err.
func AsSuspend(err error) (*SuspendSignal, bool) {
	var s *SuspendSignal
	ok := errors.As(err, &s)
	return s, ok
}

// AsInterrupt extracts an InterruptSignal from err.
func AsInterrupt(err error) (*InterruptSignal, bool) {
	var s *InterruptSignal
	ok := errors.As(err, &s)
	return s, ok
}
