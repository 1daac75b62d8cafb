// Package lock serializes work on a single conversation.
package lock

import (
	"context"
	"sync"
)

// Release gives the lock back. Calling it more than once is a no-op.
type Release func()

// Locker hands out exclusive access per key. Acquire blocks until the key is
// free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are dropped once nobody holds or
// waits on them, so memory stays proportional to active conversations.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size reports how many keys are tracked.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
