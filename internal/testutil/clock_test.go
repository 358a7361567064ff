package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.True(t, Epoch.Equal(clock.Now()))
}

func TestFakeClock_StartsAtGivenTimeInUTC(t *testing.T) {
	start := time.Date(2030, time.June, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	clock := NewFakeClock(start)

	assert.True(t, start.Equal(clock.Now()))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestFakeClock_OnlyMovesWhenAdvanced(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	first := clock.Now()
	assert.Equal(t, first, clock.Now())

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, first.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_SetRewinds(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	clock.Advance(time.Hour)

	clock.Set(Epoch)
	assert.True(t, Epoch.Equal(clock.Now()))
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Millisecond)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	want := Epoch.Add(numGoroutines * callsPerGoroutine * time.Millisecond)
	assert.Equal(t, want, clock.Now())
}
