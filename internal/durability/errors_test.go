package durability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/oplog"
)

func TestControlSignalClassification(t *testing.T) {
	suspend := fmt.Errorf("sleep: %w", &SuspendSignal{ResumeAt: time.Unix(0, 0)})
	interrupt := &InterruptSignal{Kind: InterruptRestart}

	assert.True(t, IsControlSignal(suspend))
	assert.True(t, IsControlSignal(interrupt))
	assert.False(t, IsControlSignal(errors.New("plain")))
	assert.False(t, IsControlSignal(nil))
	assert.Equal(t, "worker interrupted: restart", interrupt.Error())
}

func TestFatalClassification(t *testing.T) {
	assert.True(t, IsFatal(Fatal(errors.New("disk full"))))
	assert.True(t, IsFatal(&DivergenceError{Index: 3, Expected: "a", Actual: "b"}))
	assert.True(t, IsFatal(fmt.Errorf("bootstrap: %w", &oplog.RegionConflictError{Reason: "x"})))
	assert.False(t, IsFatal(&CallError{Message: "boom"}))
	assert.False(t, IsFatal(Transient(errors.New("later"))))
	assert.Nil(t, Fatal(nil))

	wrapped := Fatal(Fatal(errors.New("once")))
	assert.Equal(t, "fatal: once", wrapped.Error())
}

func TestDivergenceMessage(t *testing.T) {
	err := &DivergenceError{Index: 4, Expected: "test.now", Actual: "test.random"}
	assert.Equal(t, "replay diverged at 4: expected test.now, found test.random", err.Error())

	err = &DivergenceError{Index: 9, Expected: "no_op", Reason: "oplog has no more entries", Err: oplog.ErrReplayFinished}
	assert.Equal(t, "replay diverged at 9: expected no_op (oplog has no more entries): replay finished", err.Error())
}

func TestAsCallErrorKeepsExisting(t *testing.T) {
	ce := &CallError{Message: "original"}
	assert.Same(t, ce, AsCallError(fmt.Errorf("wrapped: %w", ce)))
	assert.Equal(t, "other", AsCallError(errors.New("other")).Message)
}

func TestParseNames(t *testing.T) {
	for l := Smart; l <= PersistNothing; l++ {
		parsed, err := ParsePersistenceLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParsePersistenceLevel("sometimes")
	assert.Error(t, err)

	for k := InterruptSuspend; k <= InterruptFatal; k++ {
		parsed, err := ParseInterruptKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	st := h.start()
	st.RetryPolicy.MinDelay = time.Hour
	st.RetryPolicy.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	_, err := Retry(ctx, st, oplog.ReadRemote, func(context.Context) (int, error) {
		attempts++
		cancel()
		return 0, Transient(errors.New("unavailable"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
