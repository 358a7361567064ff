package hostcall

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
)

// Clock is the wall clock a host reads.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// RandomSource produces the values behind Rand.
type RandomSource interface {
	Uint64() uint64
}

// SystemRandom draws from math/rand/v2's global generator.
type SystemRandom struct{}

func (SystemRandom) Uint64() uint64 {
	return rand.Uint64()
}

// KV is the remote key/value store reachable from workers.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Wakeups remembers when suspended sleeps are due, keyed by the call site
// of the sleeping call (see oplog.Oplog.CallSite). It lives in worker memory
// and is shared across restarts of the same worker.
type Wakeups struct {
	mu sync.Mutex
	at map[oplog.Index]time.Time
}

func NewWakeups() *Wakeups {
	return &Wakeups{at: make(map[oplog.Index]time.Time)}
}

func (w *Wakeups) Get(idx oplog.Index) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.at[idx]
	return t, ok
}

func (w *Wakeups) Set(idx oplog.Index, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.at[idx] = t
}

func (w *Wakeups) Delete(idx oplog.Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.at, idx)
}

// Retain forgets every wake-up except the one at site.
func (w *Wakeups) Retain(site oplog.Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for idx := range w.at {
		if idx != site {
			delete(w.at, idx)
		}
	}
}

// Next returns the earliest pending wake-up.
func (w *Wakeups) Next() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var (
		earliest time.Time
		found    bool
	)
	for _, t := range w.at {
		if !found || t.Before(earliest) {
			earliest, found = t, true
		}
	}
	return earliest, found
}

// Host binds host functions to one running worker.
type Host struct {
	State   *durability.State
	Clock   Clock
	Random  RandomSource
	KV      KV
	Wakeups *Wakeups
}

// New returns a host with system clock and randomness and no KV store.
func New(st *durability.State) *Host {
	return &Host{
		State:   st,
		Clock:   SystemClock{},
		Random:  SystemRandom{},
		Wakeups: NewWakeups(),
	}
}

// Now returns the current time.
func (h *Host) Now(ctx context.Context) (time.Time, error) {
	return durability.WrapInfallible(ctx, h.State, nowCall, struct{}{}, func(context.Context, struct{}) time.Time {
		return h.Clock.Now()
	})
}

// Rand returns a random 64-bit value.
func (h *Host) Rand(ctx context.Context) (uint64, error) {
	return durability.WrapInfallible(ctx, h.State, randCall, struct{}{}, func(context.Context, struct{}) uint64 {
		return h.Random.Uint64()
	})
}

// NewUUID returns a random UUID.
func (h *Host) NewUUID(ctx context.Context) (uuid.UUID, error) {
	s, err := durability.WrapInfallible(ctx, h.State, uuidCall, struct{}{}, func(context.Context, struct{}) string {
		return uuid.NewString()
	})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

// Sleep blocks the worker for d. A sleep that is not yet due suspends the
// worker without writing anything; when the worker is resumed and replayed
// back to this point, the sleep completes by recording a single clock read.
func (h *Host) Sleep(ctx context.Context, d time.Duration) error {
	if h.State.IsLive() && d > 0 {
		site := h.State.Oplog.CallSite()
		h.Wakeups.Retain(site)
		due, ok := h.Wakeups.Get(site)
		if !ok {
			due = h.Clock.Now().Add(d)
			h.Wakeups.Set(site, due)
		}
		if h.Clock.Now().Before(due) {
			return &durability.SuspendSignal{ResumeAt: due}
		}
		h.Wakeups.Delete(site)
	}
	_, err := h.Now(ctx)
	return err
}

// Poll asks ready once and records the answer.
func (h *Host) Poll(ctx context.Context, name string, ready func(context.Context) (bool, error)) (bool, error) {
	call := durability.Call[string, bool]{Interface: "io", Function: "poll", Type: oplog.ReadRemote}
	return durability.Wrap(ctx, h.State, call, name, func(ctx context.Context, _ string) (bool, error) {
		return ready(ctx)
	})
}

// CurrentOplogIndex returns a position the worker can later jump back to.
func (h *Host) CurrentOplogIndex(ctx context.Context) (oplog.Index, error) {
	return durability.CurrentIndex(ctx, h.State)
}

// SetOplogIndex rewinds the worker to idx. It always returns an error: the
// InterruptSignal that restarts the worker, or the reason the jump failed.
func (h *Host) SetOplogIndex(ctx context.Context, idx oplog.Index) error {
	return durability.JumpTo(ctx, h.State, idx)
}

// SetRetryPolicy changes how failing live calls are retried.
func (h *Host) SetRetryPolicy(ctx context.Context, p oplog.RetryPolicy) error {
	return durability.SetRetryPolicy(ctx, h.State, p)
}

// SetPersistenceLevel changes which calls are recorded from here on. The
// change itself is not recorded: the worker makes it again on replay.
func (h *Host) SetPersistenceLevel(level durability.PersistenceLevel) {
	h.State.Level = level
}

// AtomicRegion runs fn so that its host calls are either all replayed or all
// executed again.
func (h *Host) AtomicRegion(ctx context.Context, fn func(context.Context) error) error {
	begin, err := durability.BeginAtomicRegion(ctx, h.State)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return durability.EndAtomicRegion(ctx, h.State, begin)
}

// Log writes a worker log line.
func (h *Host) Log(ctx context.Context, level oplog.LogLevel, logContext, message string) error {
	return durability.Log(ctx, h.State, level, logContext, message)
}

var (
	nowCall  = durability.Call[struct{}, time.Time]{Interface: "clock", Function: "now", Type: oplog.ReadLocal}
	randCall = durability.Call[struct{}, uint64]{Interface: "random", Function: "u64", Type: oplog.ReadLocal}
	uuidCall = durability.Call[struct{}, string]{Interface: "random", Function: "uuid", Type: oplog.ReadLocal}
)
