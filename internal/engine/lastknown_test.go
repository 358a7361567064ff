package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

func appendAll(t *testing.T, entries ...oplog.Entry) *oplog.Oplog {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateWorker(ctx, store.Worker{ID: "w1", Component: "test"}))
	o, err := oplog.Open(ctx, mem, mem, "w1")
	require.NoError(t, err)
	for _, e := range entries {
		_, err := o.Add(ctx, e)
		require.NoError(t, err)
	}
	return o
}

func hostCall(name string) oplog.Entry {
	return oplog.NewHostCall(name, oplog.InlinePayload(nil), oplog.InlinePayload(nil), oplog.ReadLocal)
}

func TestFoldStatus_Empty(t *testing.T) {
	s, err := FoldStatus(context.Background(), appendAll(t))
	require.NoError(t, err)
	assert.Equal(t, oplog.None, s.Length)
	assert.Equal(t, Idle, s.State)
	assert.Empty(t, s.Regions)
}

func TestFoldStatus_PendingInvocationInterrupted(t *testing.T) {
	o := appendAll(t,
		oplog.NewCreate("test", 1, nil, nil),
		oplog.NewExportedFunctionInvoked("draw", oplog.InlinePayload(nil), "k1"),
		hostCall("random.u64"),
		oplog.NewExportedFunctionCompleted(oplog.InlinePayload(nil), 2),
		oplog.NewExportedFunctionInvoked("nap", oplog.InlinePayload(nil), "k2"),
		oplog.NewInterrupted(),
	)

	s, err := FoldStatus(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "test", s.Component)
	assert.Equal(t, Interrupted, s.State)
	assert.Equal(t, durability.InterruptInterrupt, s.Interrupt)
	assert.Equal(t, "nap", s.Pending)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, oplog.Index(6), s.Length)
}

func TestFoldStatus_ProgressAfterHintClearsIt(t *testing.T) {
	o := appendAll(t,
		oplog.NewCreate("test", 1, nil, nil),
		oplog.NewExportedFunctionInvoked("nap", oplog.InlinePayload(nil), "k1"),
		oplog.NewSuspend(),
		hostCall("clock.now"),
	)

	s, err := FoldStatus(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, Running, s.State)
	assert.Zero(t, s.Interrupt)
}

func TestFoldStatus_SkipsDeletedRegions(t *testing.T) {
	policy := oplog.RetryPolicy{MaxAttempts: 9}
	o := appendAll(t,
		oplog.NewCreate("test", 1, nil, nil),
		oplog.NewExportedFunctionInvoked("draw", oplog.InlinePayload(nil), "k1"),
		oplog.NewChangeRetryPolicy(policy),
		oplog.NewError("boom"),
		oplog.NewJump(oplog.Jump{Source: 2, Target: 5}),
	)

	s, err := FoldStatus(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, Running, s.State, "the error lies in the deleted region")
	assert.Empty(t, s.Error)
	assert.Equal(t, oplog.DefaultRetryPolicy(), s.RetryPolicy)
	assert.Equal(t, []oplog.Jump{{Source: 2, Target: 5}}, s.Regions)
}

func TestFoldStatus_Fatal(t *testing.T) {
	o := appendAll(t,
		oplog.NewCreate("test", 1, nil, nil),
		oplog.NewError("replay diverged"),
	)

	s, err := FoldStatus(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, Interrupted, s.State)
	assert.Equal(t, durability.InterruptFatal, s.Interrupt)
	assert.Equal(t, "replay diverged", s.Error)
}

func TestFoldStatus_RejectsConflictingRegions(t *testing.T) {
	o := appendAll(t,
		oplog.NewCreate("test", 1, nil, nil),
		oplog.NewNoOp(),
		oplog.NewNoOp(),
		oplog.NewJump(oplog.Jump{Source: 1, Target: 3}),
		oplog.NewJump(oplog.Jump{Source: 2, Target: 5}),
	)

	_, err := FoldStatus(context.Background(), o)
	assert.True(t, oplog.IsRegionConflict(err))
}
