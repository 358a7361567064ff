package durability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

// harness holds one worker's storage. Every call to start simulates a
// process restart: a fresh oplog handle and a fresh replay from the beginning.
type harness struct {
	t     *testing.T
	mem   *store.Memory
	blobs oplog.BlobStorage
	opts  []oplog.Option
}

func newHarness(t *testing.T, opts ...oplog.Option) *harness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateWorker(ctx, store.Worker{ID: "w1", Component: "test"}))
	h := &harness{t: t, mem: mem, blobs: mem, opts: opts}

	o, err := oplog.Open(ctx, mem, mem, "w1", opts...)
	require.NoError(t, err)
	_, err = o.Add(ctx, oplog.NewCreate("test", 1, nil, nil))
	require.NoError(t, err)
	return h
}

func (h *harness) start() *State {
	h.t.Helper()
	ctx := context.Background()
	o, err := oplog.Open(ctx, h.mem, h.blobs, "w1", h.opts...)
	require.NoError(h.t, err)
	st, err := NewState(ctx, o)
	require.NoError(h.t, err)
	st.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	st.RetryPolicy = oplog.RetryPolicy{
		MaxAttempts: 3,
		MinDelay:    time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2,
	}
	// Consume the create entry the way the worker loop does.
	if !st.Replay.IsLive() {
		_, _, err := st.Replay.Next()
		require.NoError(h.t, err)
	}
	return st
}

func (h *harness) kinds() []oplog.Kind {
	h.t.Helper()
	n, err := h.mem.Length(context.Background(), "w1")
	require.NoError(h.t, err)
	recs, err := h.mem.ReadRange(context.Background(), "w1", oplog.Initial, n)
	require.NoError(h.t, err)
	out := make([]oplog.Kind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

// counter counts live executions.
type counter struct {
	n int
}

func (c *counter) returns(v int64) func(context.Context, string) (int64, error) {
	return func(context.Context, string) (int64, error) {
		c.n++
		return v, nil
	}
}

func (c *counter) fails(err error) func(context.Context, string) (int64, error) {
	return func(context.Context, string) (int64, error) {
		c.n++
		return 0, err
	}
}

func call(name string, ft oplog.FunctionType) Call[string, int64] {
	return Call[string, int64]{Interface: "test", Function: name, Type: ft}
}

func mustNotRun(t *testing.T) func(context.Context, string) (int64, error) {
	return func(context.Context, string) (int64, error) {
		t.Fatal("executed during replay")
		return 0, nil
	}
}
