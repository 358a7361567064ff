package engine

import (
	"sync"
)

// Invocation is one call of an exported function, as submitted to a worker.
type Invocation struct {
	Function       string
	Args           []byte
	IdempotencyKey string

	done   chan struct{}
	output []byte
	err    error
}

func newInvocation(function string, args []byte, key string) *Invocation {
	return &Invocation{
		Function:       function,
		Args:           args,
		IdempotencyKey: key,
		done:           make(chan struct{}),
	}
}

// Done is closed when the invocation has a result.
func (i *Invocation) Done() <-chan struct{} {
	return i.done
}

// Result returns the function's output. It must only be called after Done
// is closed.
func (i *Invocation) Result() ([]byte, error) {
	return i.output, i.err
}

func (i *Invocation) resolved() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

func (i *Invocation) resolve(output []byte, err error) {
	i.output = output
	i.err = err
	close(i.done)
}

// invocationQueue is a thread-safe FIFO queue for invocations.
//
// Enqueue may be called from any goroutine (CLI, HTTP handlers); the worker
// loop is the only consumer.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loop.
type invocationQueue struct {
	mu      sync.Mutex
	pending []*Invocation
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
}

func newInvocationQueue() *invocationQueue {
	return &invocationQueue{
		pending: make([]*Invocation, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an invocation to the back of the queue.
// Returns false if the queue is closed.
func (q *invocationQueue) Enqueue(inv *Invocation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.pending = append(q.pending, inv)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front invocation without blocking.
func (q *invocationQueue) TryDequeue() (*Invocation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}

	inv := q.pending[0]
	// Nil out the slot so the backing array does not retain it.
	q.pending[0] = nil
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}

	return inv, true
}

// Wait returns a channel that signals when invocations may be available.
// The channel is closed when the queue is closed.
func (q *invocationQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *invocationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drained reports whether the queue is closed and empty.
func (q *invocationQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.pending) == 0
}

// Close signals that no more invocations will be enqueued.
func (q *invocationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
