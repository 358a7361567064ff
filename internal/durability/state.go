package durability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/durable/internal/oplog"
)

// PersistenceLevel selects which host calls are recorded.
type PersistenceLevel uint8

const (
	// Smart records every host call.
	Smart PersistenceLevel = iota
	// PersistRemoteSideEffects records only calls that touch remote state.
	// Local calls run directly, both live and during replay.
	PersistRemoteSideEffects
	// PersistNothing runs everything live and records nothing.
	PersistNothing
)

var persistenceLevelNames = map[PersistenceLevel]string{
	Smart:                    "smart",
	PersistRemoteSideEffects: "persist-remote-side-effects",
	PersistNothing:           "persist-nothing",
}

func (l PersistenceLevel) String() string {
	if name, ok := persistenceLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("persistence_level(%d)", uint8(l))
}

// ParsePersistenceLevel is the inverse of String.
func ParsePersistenceLevel(s string) (PersistenceLevel, error) {
	for l, name := range persistenceLevelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown persistence level %q", s)
}

// UnmarshalText lets config files and environment variables name a level.
func (l *PersistenceLevel) UnmarshalText(text []byte) error {
	parsed, err := ParsePersistenceLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l PersistenceLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// State is the durability context of one running worker. It is owned by the
// worker's goroutine.
type State struct {
	Oplog             *oplog.Oplog
	Replay            *oplog.ReplayState
	Level             PersistenceLevel
	AssumeIdempotence bool
	RetryPolicy       oplog.RetryPolicy
	// Interrupts returns an InterruptSignal when the worker has been asked to
	// stop. It is checked before every wrapped call.
	Interrupts func() error
	Logger     *slog.Logger
}

// NewState starts replaying o. The replay target is o's current length.
func NewState(ctx context.Context, o *oplog.Oplog) (*State, error) {
	r, err := oplog.NewReplayState(ctx, o)
	if err != nil {
		return nil, err
	}
	return &State{
		Oplog:       o,
		Replay:      r,
		RetryPolicy: oplog.DefaultRetryPolicy(),
		Logger:      slog.Default(),
	}, nil
}

// IsLive reports whether the next call executes for real.
func (s *State) IsLive() bool {
	return s.Level == PersistNothing || s.Replay.IsLive()
}

// WorkerID is the id of the worker owning the oplog.
func (s *State) WorkerID() oplog.WorkerID {
	return s.Oplog.WorkerID()
}

func (s *State) checkInterrupt() error {
	if s.Interrupts == nil {
		return nil
	}
	return s.Interrupts()
}

func (s *State) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// recorded reports whether calls of type ft go through the oplog at the
// current level.
func (s *State) recorded(ft oplog.FunctionType) bool {
	switch s.Level {
	case PersistNothing:
		return false
	case PersistRemoteSideEffects:
		return ft.IsRemote()
	default:
		return true
	}
}

// add appends e. A failed append leaves the worker's history unknown, so it
// is fatal.
func (s *State) add(ctx context.Context, e oplog.Entry) (oplog.Index, error) {
	idx, err := s.Oplog.Add(ctx, e)
	if err != nil {
		return oplog.None, Fatal(err)
	}
	return idx, nil
}

// discardFrom persists a jump over everything after begin, so that an
// unfinished region found during replay is re-executed live and never seen by
// later replays.
func (s *State) discardFrom(ctx context.Context, begin oplog.Index) error {
	j := oplog.Jump{Source: begin, Target: s.Oplog.Length().Next()}
	if _, err := s.add(ctx, oplog.NewJump(j)); err != nil {
		return err
	}
	s.Replay.AddJump(j)
	s.logger().Info("discarded unfinished region",
		"worker", s.WorkerID(),
		"begin", begin,
		"jump", j.String(),
	)
	return nil
}

// expectNext consumes the next replayable entry and requires it to be an E.
func expectNext[E oplog.Entry](s *State, want string) (oplog.Index, E, error) {
	var zero E
	idx, e, err := s.Replay.Next()
	if err != nil {
		return oplog.None, zero, &DivergenceError{
			Index:    s.Replay.Target().Next(),
			Expected: want,
			Reason:   "oplog has no more entries",
			Err:      err,
		}
	}
	got, ok := e.(E)
	if !ok {
		return idx, zero, &DivergenceError{Index: idx, Expected: want, Actual: string(e.Kind())}
	}
	return idx, got, nil
}
