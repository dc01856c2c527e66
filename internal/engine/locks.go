package engine

import "sync"

// entityLocks serializes workflow transitions per entity. The status
// compare-and-swap in SQL is the correctness backstop; the lock keeps
// concurrent requests from burning transactions on lost races.
//
// Entries are never removed. The key space is one mutex per incident or
// order that has seen a transition in this process, so growth is bounded
// by the workspace's row count.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: map[string]*sync.Mutex{}}
}

func (l *entityLocks) lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
