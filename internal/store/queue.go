package store

import (
	"context"
	"sync"
)

// WriteQueue serializes writers in strict arrival order. A caller holds the
// slot for the whole duration of the function passed to RunExclusive; the
// next waiter is handed the slot directly on release, so no later arrival can
// overtake an earlier one.
//
// The zero value is ready to use. A WriteQueue must not be copied.
type WriteQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// NewWriteQueue returns an empty queue.
func NewWriteQueue() *WriteQueue { return &WriteQueue{} }

// RunExclusive waits for its turn, runs fn, and releases the slot. If ctx is
// done before the turn arrives, fn is not run and ctx.Err() is returned.
func (q *WriteQueue) RunExclusive(ctx context.Context, fn func() error) error {
	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()
	return fn()
}

// Pending reports how many callers are waiting behind the current holder.
func (q *WriteQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

func (q *WriteQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy && len(q.waiters) == 0 {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	q.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	select {
	case <-turn:
		// Handed the slot while giving up; pass it on.
		q.mu.Unlock()
		q.release()
		return ctx.Err()
	default:
	}
	for i, w := range q.waiters {
		if w == turn {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	return ctx.Err()
}

func (q *WriteQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	close(next)
}
