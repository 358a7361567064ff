package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/engine"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_CrashReplaysWithoutNewDraws(t *testing.T) {
	s := &Scenario{
		Name:        "crash",
		Description: "roll, crash twice, roll again",
		Worker:      DefaultWorker,
		Steps: []Step{
			{Invoke: "roll", Key: "r1", Expect: &Expect{Output: ptr("2")}},
			{Crash: true},
			{Crash: true},
			{Invoke: "roll", Key: "r2", Expect: &Expect{Output: ptr("3")}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, uint64(2), result.Draws)
	assert.Equal(t, 2, result.Status.Completed)
	assert.Empty(t, result.WorkerError)
}

func TestRun_CrashWhileSuspendedFinishesAfterResume(t *testing.T) {
	s := &Scenario{
		Name:        "crash_suspended",
		Description: "an invocation pending at the crash is submitted again",
		Worker:      DefaultWorker,
		Steps: []Step{
			{Invoke: "deposit", Key: "d1", Args: "bob:5"},
			{Invoke: "wait", Key: "w1", Args: "1s", Expect: &Expect{Suspended: true}},
			{Crash: true, Expect: &Expect{Suspended: true}},
			{Advance: time.Second},
			{Await: "w1", Expect: &Expect{Output: ptr("2024-01-01T00:00:01Z")}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.KVWrites)
	assert.Equal(t, engine.Idle, result.Status.State)
}

func TestRun_FailedExpectations(t *testing.T) {
	s := &Scenario{
		Name:        "wrong",
		Description: "expectations that do not hold",
		Worker:      DefaultWorker,
		Steps: []Step{
			{Invoke: "roll", Key: "r1", Expect: &Expect{Output: ptr("6")}},
			{Invoke: "balance", Key: "b1", Args: "nobody", Expect: &Expect{Suspended: true}},
			{Invoke: "wait", Key: "w1", Args: "soon", Expect: &Expect{Error: "wait: time: invalid duration"}},
		},
		Assertions: []Assertion{
			{Type: AssertStatus, State: "suspended"},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], `expected output "6", got "2"`)
	assert.Contains(t, result.Errors[1], "expected worker to be suspended")
	assert.Contains(t, result.Errors[2], "finished, expected it to be suspended")
	assert.Contains(t, result.Errors[3], "expected state suspended, got idle")
}

func TestRun_Fatal(t *testing.T) {
	s := &Scenario{
		Name:        "fatal",
		Description: "diverging replay",
		Worker:      DefaultWorker,
		Steps: []Step{
			{Invoke: "token", Key: "t1"},
			{Upgrade: &Upgrade{Function: "token", With: "roll"}, Expect: &Expect{Fatal: true}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, durability.InterruptFatal, result.Status.Interrupt)
	assert.NotEmpty(t, result.WorkerError)
	assert.NotEmpty(t, result.Status.Error)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name   string
		step   Step
		errMsg string
	}{
		{"unknown function", Step{Invoke: "fly"}, "step 1"},
		{"await unknown key", Step{Await: "nope"}, `no invocation with key "nope"`},
		{"bad interrupt kind", Step{Interrupt: "pause"}, `unknown interrupt kind "pause"`},
		{"resume idle worker", Step{Resume: true}, "step 1"},
		{"upgrade to unknown function", Step{Upgrade: &Upgrade{Function: "roll", With: "fly"}}, `no function "fly"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scenario{Name: "e", Description: "e", Worker: DefaultWorker, Steps: []Step{tt.step}}
			_, err := Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
