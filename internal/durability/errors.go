package durability

import (
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/oplog"
)

// ErrIncompleteRemoteWrite is reported when replay finds a remote write that
// started but never finished, and the worker does not assume idempotence.
var ErrIncompleteRemoteWrite = errors.New("non-idempotent remote write was not completed, cannot retry")

// CallError is a business error returned by a host call. It is persisted with
// the call so replay returns an identical error.
type CallError struct {
	Message string `cbor:"message"`
}

func (e *CallError) Error() string {
	return e.Message
}

// AsCallError converts err to the persisted form.
func AsCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Message: err.Error()}
}

// DivergenceError reports that a worker asked for something other than what
// its oplog recorded at Index.
type DivergenceError struct {
	Index    oplog.Index
	Expected string
	Actual   string
	Reason   string
	Err      error
}

func (e *DivergenceError) Error() string {
	msg := fmt.Sprintf("replay diverged at %d: expected %s", e.Index, e.Expected)
	if e.Actual != "" {
		msg += ", found " + e.Actual
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DivergenceError) Unwrap() error {
	return e.Err
}

// IsDivergence reports whether err is or wraps a DivergenceError.
func IsDivergence(err error) bool {
	var de *DivergenceError
	return errors.As(err, &de)
}

// FatalError marks a failure after which the worker cannot continue, such as
// an oplog write that did not go through.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err in a FatalError. Nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err must stop the worker: fatal errors,
// divergences and inconsistent deleted regions.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) || IsDivergence(err) || oplog.IsRegionConflict(err)
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
