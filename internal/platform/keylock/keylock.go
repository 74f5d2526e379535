// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package keylock provides mutual exclusion scoped to an arbitrary string key.

Two implementations share the [Locker] contract:

  - [Local]: an in-process keyed mutex. Enough for a single API replica.
  - [Redis]: a lease-based lock in Redis (SET NX PX + compare-and-delete) for
    deployments that run several replicas against the same database.

Both honour context cancellation while waiting, so an abandoned caller never
acquires a lock it will not release.
*/
package keylock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive scope for key. The returned function releases it
// and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// # In-Process Implementation

// entry is a one-slot semaphore shared by every waiter on the same key.
type entry struct {
	slot    chan struct{}
	waiters int
}

// Local is an in-process keyed mutex. The zero value is not usable; call [NewLocal].
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocal creates an empty in-process keyed mutex.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	current, ok := l.entries[key]
	if !ok {
		current = &entry{slot: make(chan struct{}, 1)}
		l.entries[key] = current
	}
	current.waiters++
	l.mu.Unlock()

	select {
	case current.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, current, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, current, true) })
	}, nil
}

// release drops one waiter and frees the slot if it was held. Entries without
// waiters are removed so the map does not grow with every user ever seen.
func (l *Local) release(key string, current *entry, held bool) {
	if held {
		<-current.slot
	}

	l.mu.Lock()
	current.waiters--
	if current.waiters == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// size reports the number of tracked keys. Used by tests.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
