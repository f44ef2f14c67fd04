package store

import (
	"context"
	"sync"
)

// readyGate holds callers until the store finishes opening. Callers that
// queued before the open are admitted one at a time in arrival order: each
// admitted caller runs until it calls its release func, which admits the
// next. Once the queue drains, callers pass straight through.
type readyGate struct {
	mu      sync.Mutex
	done    bool
	err     error
	waiters []chan struct{}
}

func noRelease() {}

// wait blocks until the caller is admitted and returns the open result. The
// release func is never nil and must be called once the caller's operation
// completes.
func (g *readyGate) wait(ctx context.Context) (func(), error) {
	g.mu.Lock()
	if g.done && len(g.waiters) == 0 {
		err := g.err
		g.mu.Unlock()
		return noRelease, err
	}
	turn := make(chan struct{})
	g.waiters = append(g.waiters, turn)
	if g.done && len(g.waiters) == 1 {
		close(turn)
	}
	g.mu.Unlock()

	select {
	case <-turn:
		g.mu.Lock()
		err := g.err
		g.mu.Unlock()
		var once sync.Once
		return func() { once.Do(func() { g.admitNext(turn) }) }, err
	case <-ctx.Done():
		g.abandon(turn)
		return noRelease, ctx.Err()
	}
}

// admitNext removes the admitted holder and admits its successor.
func (g *readyGate) admitNext(holder chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) == 0 || g.waiters[0] != holder {
		return
	}
	g.waiters = g.waiters[1:]
	if len(g.waiters) > 0 {
		close(g.waiters[0])
	}
}

// abandon drops a cancelled waiter. A waiter admitted at the moment it was
// cancelled passes its turn on.
func (g *readyGate) abandon(turn chan struct{}) {
	g.mu.Lock()
	for index, waiter := range g.waiters {
		if waiter != turn {
			continue
		}
		if index == 0 && g.done {
			g.mu.Unlock()
			g.admitNext(turn)
			return
		}
		g.waiters = append(g.waiters[:index], g.waiters[index+1:]...)
		break
	}
	g.mu.Unlock()
}

func (g *readyGate) open(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	g.done = true
	g.err = err
	if len(g.waiters) > 0 {
		close(g.waiters[0])
	}
}

// pending reports callers queued and not yet released.
func (g *readyGate) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
