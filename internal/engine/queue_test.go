package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvocationQueue_FIFO(t *testing.T) {
	q := newInvocationQueue()

	for _, fn := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(newInvocation(fn, nil, fn)))
	}

	for _, want := range []string{"A", "B", "C"} {
		inv, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, inv.Function)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestInvocationQueue_WaitSignals(t *testing.T) {
	q := newInvocationQueue()
	q.Enqueue(newInvocation("f", nil, "k"))

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no signal after enqueue")
	}
}

func TestInvocationQueue_Close(t *testing.T) {
	q := newInvocationQueue()
	q.Enqueue(newInvocation("f", nil, "k"))
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(newInvocation("g", nil, "k2")), "enqueue after close should fail")
	assert.False(t, q.Drained(), "closed but not empty")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Drained())

	select {
	case _, open := <-q.Wait():
		assert.False(t, open)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait channel not closed")
	}
}

func TestInvocationQueue_Len(t *testing.T) {
	q := newInvocationQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(newInvocation("1", nil, "1"))
	q.Enqueue(newInvocation("2", nil, "2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestInvocationQueue_ThreadSafe(t *testing.T) {
	q := newInvocationQueue()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(newInvocation("f", nil, ""))
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*perProducer, n)
}

func TestInvocation_Resolve(t *testing.T) {
	inv := newInvocation("f", []byte("in"), "k")

	select {
	case <-inv.Done():
		t.Fatal("done before resolve")
	default:
	}

	inv.resolve([]byte("out"), nil)
	<-inv.Done()
	out, err := inv.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), out)
}
