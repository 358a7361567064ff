package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/hostcall"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
	"github.com/roach88/durable/internal/testutil"
)

func newTestExecutor(t *testing.T, backend store.Backend, random *testutil.SequenceRandom) *Executor {
	t.Helper()
	e := NewExecutor(backend, []*Component{testComponent()},
		WithRandom(random),
		WithClock(testutil.NewFakeClock(time.Time{})),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)
	return e
}

func TestExecutor_SpawnAndInvoke(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	random := testutil.NewSequenceRandom()
	e := newTestExecutor(t, mem, random)

	for _, id := range []oplog.WorkerID{"a", "b"} {
		_, err := e.Spawn(ctx, id, "test")
		require.NoError(t, err)
	}

	outA, err := e.Invoke(ctx, "a", "draw", nil, "")
	require.NoError(t, err)
	outB, err := e.Invoke(ctx, "b", "draw", nil, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, []string{string(outA), string(outB)})

	ws := e.Workers()
	require.Len(t, ws, 2)
	assert.Equal(t, oplog.WorkerID("a"), ws[0].ID())
	require.NoError(t, e.Shutdown())
}

func TestExecutor_SpawnErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestExecutor(t, store.NewMemory(), testutil.NewSequenceRandom())

	_, err := e.Spawn(ctx, "a", "nope")
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownComponent, re.Code)

	_, err = e.Spawn(ctx, "a", "test")
	require.NoError(t, err)
	_, err = e.Spawn(ctx, "a", "test")
	assert.ErrorIs(t, err, store.ErrWorkerExists)

	_, err = e.Invoke(ctx, "ghost", "draw", nil, "")
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeWorkerNotRunning, re.Code)
	require.NoError(t, e.Shutdown())
}

func TestExecutor_RecoverReplaysWorkers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	random := testutil.NewSequenceRandom()

	e := newTestExecutor(t, mem, random)
	_, err := e.Spawn(ctx, "a", "test")
	require.NoError(t, err)
	_, err = e.Invoke(ctx, "a", "draw", nil, "k1")
	require.NoError(t, err)
	require.NoError(t, e.Shutdown())

	require.NoError(t, mem.CreateWorker(ctx, store.Worker{ID: "stranger", Component: "unknown"}))

	e = newTestExecutor(t, mem, random)
	started, err := e.Recover(ctx)
	require.NoError(t, err)
	require.Len(t, started, 1)

	out, err := e.Invoke(ctx, "a", "draw", nil, "k1")
	require.NoError(t, err)
	assert.Equal(t, "1", string(out))
	assert.Equal(t, uint64(1), random.Draws())
	require.NoError(t, e.Shutdown())
}

func TestExecutor_NotStarted(t *testing.T) {
	e := NewExecutor(store.NewMemory(), []*Component{testComponent()})
	_, err := e.Spawn(context.Background(), "a", "test")
	assert.Error(t, err)
}

func TestExecutor_FailedWorkerLeavesOthersRunning(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	random := testutil.NewSequenceRandom()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	steady := testComponent()
	steady.Name = "steady"
	e := NewExecutor(mem, []*Component{testComponent(), steady}, WithRandom(random), WithLogger(quiet))
	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	e.Start(runCtx)
	_, err := e.Spawn(ctx, "a", "test")
	require.NoError(t, err)
	_, err = e.Spawn(ctx, "b", "steady")
	require.NoError(t, err)
	for _, id := range []oplog.WorkerID{"a", "b"} {
		_, err := e.Invoke(ctx, id, "draw", nil, "k1")
		require.NoError(t, err)
	}
	require.NoError(t, e.Shutdown())

	// a's draw now reads the clock where the oplog recorded a random draw.
	changed := testComponent()
	changed.Functions["draw"] = func(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
		_, err := h.Now(ctx)
		return nil, err
	}
	e = NewExecutor(mem, []*Component{changed, steady}, WithRandom(random), WithLogger(quiet))
	runCtx, cancel = context.WithCancel(ctx)
	t.Cleanup(cancel)
	e.Start(runCtx)
	_, err = e.Recover(ctx)
	require.NoError(t, err)

	a, ok := e.Worker("a")
	require.True(t, ok)
	s := awaitState(t, a, func(s ExecutionStatus) bool { return s.State == Interrupted })
	assert.Equal(t, durability.InterruptFatal, s.Interrupt)

	invokeCtx, stop := context.WithTimeout(ctx, 5*time.Second)
	defer stop()
	out, err := e.Invoke(invokeCtx, "b", "draw", nil, "k2")
	require.NoError(t, err)
	assert.Equal(t, "3", string(out))

	require.Eventually(t, func() bool { return e.Failure("a") != nil }, 5*time.Second, time.Millisecond)
	_, err = e.Invoke(invokeCtx, "a", "draw", nil, "k2")
	assert.True(t, IsWorkerStopped(err), "got %v", err)
	assert.True(t, durability.IsDivergence(e.Failure("a")))
	assert.NoError(t, e.Failure("b"))

	err = e.Shutdown()
	require.Error(t, err)
	assert.True(t, durability.IsDivergence(err))
}
