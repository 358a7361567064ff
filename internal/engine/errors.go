package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/oplog"
)

// RuntimeError represents an error detected by a worker or the executor.
//
// Runtime errors include:
//   - Unknown component or function
//   - Invocation failed: the function returned a business error
//   - Worker stopped: the worker no longer accepts invocations
//   - Invalid transition: Resume on a worker that is not waiting
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// WorkerID identifies the affected worker.
	WorkerID oplog.WorkerID

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeUnknownComponent  RuntimeErrorCode = "UNKNOWN_COMPONENT"
	ErrCodeUnknownFunction   RuntimeErrorCode = "UNKNOWN_FUNCTION"
	ErrCodeInvocationFailed  RuntimeErrorCode = "INVOCATION_FAILED"
	ErrCodeWorkerStopped     RuntimeErrorCode = "WORKER_STOPPED"
	ErrCodeInvalidTransition RuntimeErrorCode = "INVALID_TRANSITION"
	ErrCodeWorkerNotRunning  RuntimeErrorCode = "WORKER_NOT_RUNNING"
)

func (e *RuntimeError) Error() string {
	if e.WorkerID != "" {
		return fmt.Sprintf("%s: %s (worker=%s)", e.Code, e.Message, e.WorkerID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnknownFunction returns true if the invoked function does not exist.
func IsUnknownFunction(err error) bool {
	return hasCode(err, ErrCodeUnknownFunction)
}

// IsInvocationFailed returns true if the error is a function's own failure.
func IsInvocationFailed(err error) bool {
	return hasCode(err, ErrCodeInvocationFailed)
}

// IsWorkerStopped returns true if the worker refused new invocations.
func IsWorkerStopped(err error) bool {
	return hasCode(err, ErrCodeWorkerStopped)
}

func NewUnknownComponentError(worker oplog.WorkerID, component string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeUnknownComponent,
		Message:  fmt.Sprintf("component %q is not registered", component),
		WorkerID: worker,
		Details:  map[string]string{"component": component},
	}
}

func NewUnknownFunctionError(worker oplog.WorkerID, component, function string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeUnknownFunction,
		Message:  fmt.Sprintf("component %q has no function %q", component, function),
		WorkerID: worker,
		Details:  map[string]string{"component": component, "function": function},
	}
}

func NewInvocationFailedError(worker oplog.WorkerID, function, message string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeInvocationFailed,
		Message:  message,
		WorkerID: worker,
		Details:  map[string]string{"function": function},
	}
}

func NewWorkerStoppedError(worker oplog.WorkerID) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeWorkerStopped,
		Message:  "worker is not accepting invocations",
		WorkerID: worker,
	}
}

func NewInvalidTransitionError(worker oplog.WorkerID, from ExecutionState, action string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("cannot %s a worker that is %s", action, from),
		WorkerID: worker,
	}
}

func NewWorkerNotRunningError(worker oplog.WorkerID) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeWorkerNotRunning,
		Message:  "worker is not running on this executor",
		WorkerID: worker,
	}
}
