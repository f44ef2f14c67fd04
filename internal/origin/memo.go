package origin

import (
	"context"
	"sync"
)

// Memo shares the result of one fetch among every caller of a session.
// The first Do starts the fetch; concurrent and later callers receive the
// same value or error until Reset is called.
type Memo[T any] struct {
	mu   sync.Mutex
	call *memoCall[T]
}

type memoCall[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Do returns the memoized result, starting fetch if no call is in flight or
// completed. The fetch runs detached from ctx cancellation; ctx only bounds
// how long this caller waits.
func (m *Memo[T]) Do(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	call := m.call
	if call == nil {
		call = &memoCall[T]{done: make(chan struct{})}
		m.call = call
		detached := context.WithoutCancel(ctx)
		go func() {
			defer close(call.done)
			call.value, call.err = fetch(detached)
		}()
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.value, call.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Reset drops the memoized result so the next Do fetches again. An in-flight
// call still completes for the callers already waiting on it.
func (m *Memo[T]) Reset() {
	m.mu.Lock()
	m.call = nil
	m.mu.Unlock()
}
