package oplog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkerID names a worker. Each worker owns exactly one oplog.
type WorkerID string

// Validate rejects empty ids.
func (w WorkerID) Validate() error {
	if w == "" {
		return fmt.Errorf("worker id must not be empty")
	}
	return nil
}

func (w WorkerID) String() string {
	return string(w)
}

// PayloadID identifies an externally stored payload.
type PayloadID = uuid.UUID

// NewPayloadID returns a fresh random payload id.
func NewPayloadID() PayloadID {
	return uuid.New()
}

// FunctionType classifies the side effect of a host call. It does not change
// whether a call is replayed; the retry layer uses it to decide whether a
// failed live execution may be attempted again.
type FunctionType uint8

const (
	// ReadLocal reads worker-local state (clock, random source).
	ReadLocal FunctionType = iota + 1
	// WriteLocal writes worker-local state.
	WriteLocal
	// ReadRemote reads external state.
	ReadRemote
	// WriteRemote mutates external state in a single call.
	WriteRemote
	// WriteRemoteBatched mutates external state across several calls that
	// share one remote-write bracket.
	WriteRemoteBatched
)

var functionTypeNames = map[FunctionType]string{
	ReadLocal:          "read_local",
	WriteLocal:         "write_local",
	ReadRemote:         "read_remote",
	WriteRemote:        "write_remote",
	WriteRemoteBatched: "write_remote_batched",
}

func (f FunctionType) String() string {
	if name, ok := functionTypeNames[f]; ok {
		return name
	}
	return fmt.Sprintf("function_type(%d)", uint8(f))
}

// IsRemote reports whether the call touches state outside the worker.
func (f FunctionType) IsRemote() bool {
	return f == ReadRemote || f == WriteRemote || f == WriteRemoteBatched
}

// IsRemoteWrite reports whether the call mutates external state.
func (f FunctionType) IsRemoteWrite() bool {
	return f == WriteRemote || f == WriteRemoteBatched
}

// ParseFunctionType is the inverse of String.
func ParseFunctionType(s string) (FunctionType, error) {
	for ft, name := range functionTypeNames {
		if name == s {
			return ft, nil
		}
	}
	return 0, fmt.Errorf("unknown function type %q", s)
}

// RetryPolicy controls how often a failing live call is attempted.
type RetryPolicy struct {
	MaxAttempts uint32        `cbor:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	MinDelay    time.Duration `cbor:"min_delay" yaml:"min_delay" json:"min_delay"`
	MaxDelay    time.Duration `cbor:"max_delay" yaml:"max_delay" json:"max_delay"`
	Multiplier  float64       `cbor:"multiplier" yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy is used until a worker changes its policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
	}
}

// LogLevel is the severity of a worker log entry.
type LogLevel string

const (
	LogStdout LogLevel = "stdout"
	LogStderr LogLevel = "stderr"
	LogDebug  LogLevel = "debug"
	LogInfo   LogLevel = "info"
	LogWarn   LogLevel = "warn"
	LogError  LogLevel = "error"
)
